package nn

import "gonum.org/v1/gonum/mat"

// Network is a black-box differentiable function approximator that takes a
// primary input plus a per-row conditioning signal. Callers only see the
// forward pass and the learnable parameters; the architecture is private.
type Network interface {
	Forward(x Variable, cond *mat.Dense) (Variable, error)
	Parameters() []*Parameter
	ZeroGrad()
}
