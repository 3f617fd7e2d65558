package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"cgan-forge/internal/errs"
)

// Layer is one differentiable stage. Every Forward call captures its own
// inputs, so several forward passes can be backpropagated independently.
type Layer interface {
	Forward(x Variable) (Variable, error)
	Parameters() []*Parameter
}

// Linear computes x·W + b with W stored as [In × Out].
type Linear struct {
	In     int
	Out    int
	Weight *Parameter
	Bias   *Parameter
}

// NewLinear creates a Linear layer initialised uniformly in
// [-1/sqrt(in), 1/sqrt(in)].
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: NewParameter(name+".weight", in, out),
		Bias:   NewParameter(name+".bias", 1, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	uniform := func(_, _ int, _ float64) float64 {
		return (rng.Float64()*2 - 1) * bound
	}
	l.Weight.Value.Apply(uniform, l.Weight.Value)
	l.Bias.Value.Apply(uniform, l.Bias.Value)
	return l
}

// Parameters returns the weight and bias.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.Weight, l.Bias}
}

// Forward implements Layer.
func (l *Linear) Forward(x Variable) (Variable, error) {
	rows, cols := x.Dims()
	if cols != l.In {
		return Variable{}, errs.ShapeMismatch(fmt.Sprintf("%s input features", l.Weight.Name), l.In, cols)
	}
	input := x.Value
	out := mat.NewDense(rows, l.Out, nil)
	out.Mul(input, l.Weight.Value)
	bias := l.Bias.Value.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(out.RawRowView(i), bias)
	}

	return NewVariable(out, func(grad *mat.Dense) error {
		var gw mat.Dense
		gw.Mul(input.T(), grad)
		l.Weight.Grad.Add(l.Weight.Grad, &gw)
		gb := l.Bias.Grad.RawRowView(0)
		for i := 0; i < rows; i++ {
			floats.Add(gb, grad.RawRowView(i))
		}
		if !x.RequiresGrad() {
			return nil
		}
		gx := mat.NewDense(rows, l.In, nil)
		gx.Mul(grad, l.Weight.Value.T())
		return x.Backward(gx)
	}), nil
}

type activation struct {
	f  func(x float64) float64
	df func(x, y float64) float64
}

func (a activation) Parameters() []*Parameter { return nil }

func (a activation) Forward(x Variable) (Variable, error) {
	input := x.Value
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return a.f(v) }, input)
	if !x.RequiresGrad() {
		return Constant(&out), nil
	}
	return NewVariable(&out, func(grad *mat.Dense) error {
		var gx mat.Dense
		gx.Apply(func(i, j int, g float64) float64 {
			return g * a.df(input.At(i, j), out.At(i, j))
		}, grad)
		return x.Backward(&gx)
	}), nil
}

// LeakyReLU passes positive values and scales negative ones by slope.
func LeakyReLU(slope float64) Layer {
	return activation{
		f: func(x float64) float64 {
			if x > 0 {
				return x
			}
			return slope * x
		},
		df: func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return slope
		},
	}
}

// Tanh squashes values into (-1, 1).
func Tanh() Layer {
	return activation{
		f:  math.Tanh,
		df: func(_, y float64) float64 { return 1 - y*y },
	}
}

// Sigmoid squashes values into (0, 1).
func Sigmoid() Layer {
	return activation{
		f:  sigmoid,
		df: func(_, y float64) float64 { return y * (1 - y) },
	}
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Sequential chains layers in order.
type Sequential []Layer

// Forward implements Layer.
func (s Sequential) Forward(x Variable) (Variable, error) {
	var err error
	for _, layer := range s {
		x, err = layer.Forward(x)
		if err != nil {
			return Variable{}, err
		}
	}
	return x, nil
}

// Parameters implements Layer.
func (s Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, layer := range s {
		params = append(params, layer.Parameters()...)
	}
	return params
}
