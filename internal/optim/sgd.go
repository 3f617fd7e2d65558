package optim

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"cgan-forge/internal/nn"
)

// SGD is plain stochastic gradient descent with optional momentum.
type SGD struct {
	lr       float64
	momentum float64
	params   []*nn.Parameter
	velocity []*mat.Dense
	step     int
}

// NewSGD creates an SGD optimizer owning params.
func NewSGD(params []*nn.Parameter, lr, momentum float64) *SGD {
	return &SGD{
		lr:       lr,
		momentum: momentum,
		params:   params,
		velocity: zeroBuffers(params),
	}
}

// Step implements Optimizer.
func (s *SGD) Step() error {
	s.step++
	for i, p := range s.params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		vel := s.velocity[i].RawMatrix().Data
		for j := range w {
			vel[j] = s.momentum*vel[j] + g[j]
			w[j] -= s.lr * vel[j]
		}
	}
	return nil
}

// ZeroGrad implements Optimizer.
func (s *SGD) ZeroGrad() { nn.ZeroGrads(s.params) }

// StepCount implements Optimizer.
func (s *SGD) StepCount() int { return s.step }

// LearningRate implements Optimizer.
func (s *SGD) LearningRate() float64 { return s.lr }

// Parameters implements Optimizer.
func (s *SGD) Parameters() []*nn.Parameter { return s.params }

// State implements Optimizer.
func (s *SGD) State() State {
	return State{
		Type:  "sgd",
		Step:  s.step,
		Hyper: map[string]float64{"lr": s.lr, "momentum": s.momentum},
		Slots: slotsFor("velocity", s.params, s.velocity),
	}
}

// LoadState implements Optimizer.
func (s *SGD) LoadState(state State) error {
	if state.Type != "sgd" {
		return errors.Errorf("optim: state type mismatch: expected sgd, got %s", state.Type)
	}
	if err := restoreSlots("velocity", s.params, s.velocity, state.Slots); err != nil {
		return err
	}
	s.step = state.Step
	return nil
}
