// Package optim implements gradient-based optimizers over nn.Parameters.
//
// An optimizer is bound to the parameter set it was created with and never
// touches anything else; its moment buffers live for the whole run.
package optim

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"cgan-forge/internal/nn"
)

// Optimizer updates the parameters it owns from their accumulated gradients.
type Optimizer interface {
	// Step applies one update using the current gradients.
	Step() error
	// ZeroGrad clears the gradients of the owned parameters.
	ZeroGrad()
	// StepCount returns the number of completed steps.
	StepCount() int
	LearningRate() float64
	Parameters() []*nn.Parameter
	// State exports hyperparameters and moment buffers for checkpointing.
	State() State
	LoadState(state State) error
}

// State is a serialisable optimizer snapshot.
type State struct {
	Type  string             `json:"type"`
	Step  int                `json:"step"`
	Hyper map[string]float64 `json:"hyper"`
	Slots []Slot             `json:"slots"`
}

// Slot is one named per-parameter buffer (e.g. "m/gen.0.weight").
type Slot struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Config selects and parameterises an optimizer.
type Config struct {
	Name         string
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Momentum     float64
}

// New builds the optimizer named by cfg.Name ("adam" or "sgd") over params.
func New(cfg Config, params []*nn.Parameter) (Optimizer, error) {
	switch cfg.Name {
	case "", "adam":
		ac := DefaultAdamConfig()
		ac.LearningRate = cfg.LearningRate
		if cfg.Beta1 > 0 {
			ac.Beta1 = cfg.Beta1
		}
		if cfg.Beta2 > 0 {
			ac.Beta2 = cfg.Beta2
		}
		return NewAdam(params, ac), nil
	case "sgd":
		return NewSGD(params, cfg.LearningRate, cfg.Momentum), nil
	default:
		return nil, errors.Errorf("optim: unknown optimizer %q", cfg.Name)
	}
}

func slotsFor(prefix string, params []*nn.Parameter, bufs []*mat.Dense) []Slot {
	slots := make([]Slot, len(bufs))
	for i, b := range bufs {
		r, c := b.Dims()
		slots[i] = Slot{
			Name: prefix + "/" + params[i].Name,
			Rows: r,
			Cols: c,
			Data: append([]float64(nil), b.RawMatrix().Data...),
		}
	}
	return slots
}

func restoreSlots(prefix string, params []*nn.Parameter, bufs []*mat.Dense, slots []Slot) error {
	byName := make(map[string]Slot, len(slots))
	for _, s := range slots {
		byName[s.Name] = s
	}
	for i, b := range bufs {
		name := prefix + "/" + params[i].Name
		s, ok := byName[name]
		if !ok {
			return errors.Errorf("optim: missing slot %s", name)
		}
		r, c := b.Dims()
		if s.Rows != r || s.Cols != c || len(s.Data) != r*c {
			return errors.Errorf("optim: slot %s is %dx%d, want %dx%d", name, s.Rows, s.Cols, r, c)
		}
		copy(b.RawMatrix().Data, s.Data)
	}
	return nil
}

func zeroBuffers(params []*nn.Parameter) []*mat.Dense {
	bufs := make([]*mat.Dense, len(params))
	for i, p := range params {
		r, c := p.Value.Dims()
		bufs[i] = mat.NewDense(r, c, nil)
	}
	return bufs
}
