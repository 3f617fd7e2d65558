package nn

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"cgan-forge/internal/errs"
)

// weightedSum is the scalar sum(out .* probe), whose gradient w.r.t. out is probe.
func weightedSum(out, probe *mat.Dense) float64 {
	var prod mat.Dense
	prod.MulElem(out, probe)
	return mat.Sum(&prod)
}

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

// recordingLeaf returns a variable whose backward stores the incoming gradient.
func recordingLeaf(m *mat.Dense, sink **mat.Dense) Variable {
	return NewVariable(m, func(grad *mat.Dense) error {
		*sink = mat.DenseCopyOf(grad)
		return nil
	})
}

func checkLayerGradients(t *testing.T, layer Layer, in *mat.Dense, outCols int, rng *rand.Rand) {
	t.Helper()
	rows, _ := in.Dims()
	probe := randomDense(rng, rows, outCols)

	var gotInput *mat.Dense
	out, err := layer.Forward(recordingLeaf(in, &gotInput))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	ZeroGrads(layer.Parameters())
	if err := out.Backward(probe); err != nil {
		t.Fatalf("backward: %v", err)
	}

	inputLoss := func(x []float64) float64 {
		y, err := layer.Forward(Constant(mat.NewDense(rows, len(x)/rows, x)))
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		return weightedSum(y.Value, probe)
	}
	want := fd.Gradient(nil, inputLoss, mat.DenseCopyOf(in).RawMatrix().Data, &fd.Settings{Formula: fd.Central})
	if !floats.EqualApprox(gotInput.RawMatrix().Data, want, 1e-5) {
		t.Fatalf("input gradient mismatch:\n got %v\nwant %v", gotInput.RawMatrix().Data, want)
	}

	for _, p := range layer.Parameters() {
		p := p
		orig := mat.DenseCopyOf(p.Value)
		paramLoss := func(w []float64) float64 {
			copy(p.Value.RawMatrix().Data, w)
			y, err := layer.Forward(Constant(in))
			if err != nil {
				t.Fatalf("forward: %v", err)
			}
			return weightedSum(y.Value, probe)
		}
		want := fd.Gradient(nil, paramLoss, mat.DenseCopyOf(orig).RawMatrix().Data, &fd.Settings{Formula: fd.Central})
		p.Value.Copy(orig)
		if !floats.EqualApprox(p.Grad.RawMatrix().Data, want, 1e-5) {
			t.Fatalf("%s gradient mismatch:\n got %v\nwant %v", p.Name, p.Grad.RawMatrix().Data, want)
		}
	}
}

func TestLinearGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	layer := NewLinear("fc", 4, 3, rng)
	checkLayerGradients(t, layer, randomDense(rng, 5, 4), 3, rng)
}

func TestActivationGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for name, layer := range map[string]Layer{
		"leaky":   LeakyReLU(0.2),
		"tanh":    Tanh(),
		"sigmoid": Sigmoid(),
	} {
		t.Run(name, func(t *testing.T) {
			checkLayerGradients(t, layer, randomDense(rng, 3, 4), 4, rng)
		})
	}
}

func TestSequentialGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	net := Sequential{
		NewLinear("l0", 3, 5, rng),
		LeakyReLU(0.2),
		NewLinear("l1", 5, 2, rng),
		Sigmoid(),
	}
	if got := CountParameters(net.Parameters()); got != 3*5+5+5*2+2 {
		t.Fatalf("unexpected parameter count %d", got)
	}
	checkLayerGradients(t, net, randomDense(rng, 4, 3), 2, rng)
}

func TestLinearRejectsWrongWidth(t *testing.T) {
	layer := NewLinear("fc", 4, 2, rand.New(rand.NewSource(1)))
	_, err := layer.Forward(Constant(mat.NewDense(2, 3, nil)))
	if !errs.IsShapeMismatch(err) {
		t.Fatalf("expected shape mismatch, got %v", err)
	}
}

func TestLinearInitDeterministic(t *testing.T) {
	a := NewLinear("fc", 6, 4, rand.New(rand.NewSource(11)))
	b := NewLinear("fc", 6, 4, rand.New(rand.NewSource(11)))
	if !ValuesEqual(a.Parameters(), CloneValues(b.Parameters())) {
		t.Fatalf("same seed produced different weights")
	}
}
