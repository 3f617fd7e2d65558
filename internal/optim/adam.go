package optim

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"cgan-forge/internal/nn"
)

// AdamConfig holds Adam hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// DefaultAdamConfig returns the usual GAN settings (beta1 lowered to 0.5).
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.0002,
		Beta1:        0.5,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam is bias-corrected Adam over a fixed parameter set.
type Adam struct {
	cfg    AdamConfig
	params []*nn.Parameter
	m      []*mat.Dense
	v      []*mat.Dense
	step   int
}

// NewAdam creates an Adam optimizer owning params.
func NewAdam(params []*nn.Parameter, cfg AdamConfig) *Adam {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 1e-8
	}
	return &Adam{
		cfg:    cfg,
		params: params,
		m:      zeroBuffers(params),
		v:      zeroBuffers(params),
	}
}

// Step implements Optimizer.
func (a *Adam) Step() error {
	a.step++
	bc1 := 1 - math.Pow(a.cfg.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.cfg.Beta2, float64(a.step))
	for i, p := range a.params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m := a.m[i].RawMatrix().Data
		v := a.v[i].RawMatrix().Data
		for j := range w {
			m[j] = a.cfg.Beta1*m[j] + (1-a.cfg.Beta1)*g[j]
			v[j] = a.cfg.Beta2*v[j] + (1-a.cfg.Beta2)*g[j]*g[j]
			w[j] -= a.cfg.LearningRate * (m[j] / bc1) / (math.Sqrt(v[j]/bc2) + a.cfg.Epsilon)
		}
	}
	return nil
}

// ZeroGrad implements Optimizer.
func (a *Adam) ZeroGrad() { nn.ZeroGrads(a.params) }

// StepCount implements Optimizer.
func (a *Adam) StepCount() int { return a.step }

// LearningRate implements Optimizer.
func (a *Adam) LearningRate() float64 { return a.cfg.LearningRate }

// Parameters implements Optimizer.
func (a *Adam) Parameters() []*nn.Parameter { return a.params }

// State implements Optimizer.
func (a *Adam) State() State {
	return State{
		Type: "adam",
		Step: a.step,
		Hyper: map[string]float64{
			"lr":      a.cfg.LearningRate,
			"beta1":   a.cfg.Beta1,
			"beta2":   a.cfg.Beta2,
			"epsilon": a.cfg.Epsilon,
		},
		Slots: append(slotsFor("m", a.params, a.m), slotsFor("v", a.params, a.v)...),
	}
}

// LoadState implements Optimizer.
func (a *Adam) LoadState(state State) error {
	if state.Type != "adam" {
		return errors.Errorf("optim: state type mismatch: expected adam, got %s", state.Type)
	}
	if err := restoreSlots("m", a.params, a.m, state.Slots); err != nil {
		return err
	}
	if err := restoreSlots("v", a.params, a.v, state.Slots); err != nil {
		return err
	}
	a.step = state.Step
	return nil
}
