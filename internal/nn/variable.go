package nn

import (
	"gonum.org/v1/gonum/mat"

	"cgan-forge/internal/errs"
)

// Variable is a batch of values (one row per sample) that may remember how
// to push a gradient back to whatever produced it.
type Variable struct {
	Value *mat.Dense
	back  func(grad *mat.Dense) error
}

// Constant wraps m as a leaf with no producer.
func Constant(m *mat.Dense) Variable {
	return Variable{Value: m}
}

// NewVariable wraps m with a backward function.
func NewVariable(m *mat.Dense, back func(grad *mat.Dense) error) Variable {
	return Variable{Value: m, back: back}
}

// RequiresGrad reports whether a gradient pushed into v reaches a producer.
func (v Variable) RequiresGrad() bool {
	return v.back != nil
}

// Dims returns the batch size and feature width of v.
func (v Variable) Dims() (int, int) {
	return v.Value.Dims()
}

// Backward pushes grad (same shape as Value) to the producer of v.
func (v Variable) Backward(grad *mat.Dense) error {
	if v.back == nil {
		return nil
	}
	r, c := v.Value.Dims()
	gr, gc := grad.Dims()
	if r != gr {
		return errs.ShapeMismatch("gradient rows", r, gr)
	}
	if c != gc {
		return errs.ShapeMismatch("gradient columns", c, gc)
	}
	return v.back(grad)
}

// Detached is a value copy of a Variable that has been severed from the
// graph that produced it. Gradients flowing into a Detached stop there, so
// the producer's parameters never see them.
type Detached struct {
	value *mat.Dense
}

// Detach copies the values of v and drops its backward link.
func Detach(v Variable) Detached {
	return Detached{value: mat.DenseCopyOf(v.Value)}
}

// Value returns the detached values.
func (d Detached) Value() *mat.Dense {
	return d.value
}

// Variable re-enters the detached values into a graph as a constant.
func (d Detached) Variable() Variable {
	return Constant(d.value)
}

// ConcatColumns joins a and b side by side, e.g. a sample and its
// conditioning signal. Both must have the same number of rows.
func ConcatColumns(a, b Variable) (Variable, error) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br {
		return Variable{}, errs.ShapeMismatch("concatenated rows", ar, br)
	}
	out := mat.NewDense(ar, ac+bc, nil)
	out.Augment(a.Value, b.Value)
	if !a.RequiresGrad() && !b.RequiresGrad() {
		return Constant(out), nil
	}
	return NewVariable(out, func(grad *mat.Dense) error {
		if a.RequiresGrad() {
			ga := mat.DenseCopyOf(grad.Slice(0, ar, 0, ac))
			if err := a.Backward(ga); err != nil {
				return err
			}
		}
		if b.RequiresGrad() {
			gb := mat.DenseCopyOf(grad.Slice(0, ar, ac, ac+bc))
			if err := b.Backward(gb); err != nil {
				return err
			}
		}
		return nil
	}), nil
}
