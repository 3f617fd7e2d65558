// Package nn provides the differentiable pieces the generator and
// discriminator are assembled from: learnable parameters, graph-linked
// variables, an explicit stop-gradient wrapper and a handful of layers.
package nn

import (
	"gonum.org/v1/gonum/mat"
)

// Parameter is a learnable matrix together with its accumulated gradient.
// Backward passes add into Grad; only the owning optimizer writes Value.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParameter allocates a zeroed rows×cols parameter.
func NewParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Len returns the number of scalar values held by p.
func (p *Parameter) Len() int {
	r, c := p.Value.Dims()
	return r * c
}

// ZeroGrads clears every gradient in params.
func ZeroGrads(params []*Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// CountParameters sums the sizes of params.
func CountParameters(params []*Parameter) int {
	total := 0
	for _, p := range params {
		total += p.Len()
	}
	return total
}

// CloneValues copies the current values of params.
func CloneValues(params []*Parameter) []*mat.Dense {
	out := make([]*mat.Dense, len(params))
	for i, p := range params {
		out[i] = mat.DenseCopyOf(p.Value)
	}
	return out
}

// ValuesEqual reports whether params hold exactly the values in snapshot.
func ValuesEqual(params []*Parameter, snapshot []*mat.Dense) bool {
	if len(params) != len(snapshot) {
		return false
	}
	for i, p := range params {
		if !mat.Equal(p.Value, snapshot[i]) {
			return false
		}
	}
	return true
}
