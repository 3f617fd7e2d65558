package model

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"cgan-forge/internal/errs"
	"cgan-forge/internal/nn"
)

const defaultSlope = 0.2

var (
	defaultGenHidden  = []int{128, 256, 512, 1024}
	defaultDiscHidden = []int{512, 512}
)

// FullyConnectedGenerator maps [noise | onehot] through LeakyReLU hidden
// layers to a Tanh image in [-1, 1].
type FullyConnectedGenerator struct {
	latentDim  int
	numClasses int
	body       nn.Sequential
}

// NewFullyConnectedGenerator builds the generator for spec.
func NewFullyConnectedGenerator(spec Spec, rng *rand.Rand) *FullyConnectedGenerator {
	hidden := spec.GenHidden
	if len(hidden) == 0 {
		hidden = defaultGenHidden
	}
	body := mlp("gen", spec.LatentDim+spec.NumClasses, hidden, spec.ImageSize(), spec.Slope, rng)
	body = append(body, nn.Tanh())
	return &FullyConnectedGenerator{
		latentDim:  spec.LatentDim,
		numClasses: spec.NumClasses,
		body:       body,
	}
}

// Forward maps noise rows and their conditioning rows to flattened images.
func (g *FullyConnectedGenerator) Forward(noise nn.Variable, cond *mat.Dense) (nn.Variable, error) {
	if _, c := noise.Dims(); c != g.latentDim {
		return nn.Variable{}, errs.ShapeMismatch("generator latent width", g.latentDim, c)
	}
	if err := checkCondition(cond, noise, g.numClasses); err != nil {
		return nn.Variable{}, err
	}
	in, err := nn.ConcatColumns(noise, nn.Constant(cond))
	if err != nil {
		return nn.Variable{}, err
	}
	return g.body.Forward(in)
}

// Parameters implements nn.Network.
func (g *FullyConnectedGenerator) Parameters() []*nn.Parameter { return g.body.Parameters() }

// ZeroGrad implements nn.Network.
func (g *FullyConnectedGenerator) ZeroGrad() { nn.ZeroGrads(g.Parameters()) }

// FullyConnectedDiscriminator maps [image | onehot] to the probability that
// the image is a real sample of that class.
type FullyConnectedDiscriminator struct {
	imageSize  int
	numClasses int
	body       nn.Sequential
}

// NewFullyConnectedDiscriminator builds the discriminator for spec.
func NewFullyConnectedDiscriminator(spec Spec, rng *rand.Rand) *FullyConnectedDiscriminator {
	hidden := spec.DiscHidden
	if len(hidden) == 0 {
		hidden = defaultDiscHidden
	}
	body := mlp("disc", spec.ImageSize()+spec.NumClasses, hidden, 1, spec.Slope, rng)
	body = append(body, nn.Sigmoid())
	return &FullyConnectedDiscriminator{
		imageSize:  spec.ImageSize(),
		numClasses: spec.NumClasses,
		body:       body,
	}
}

// Forward scores flattened images under their conditioning rows.
func (d *FullyConnectedDiscriminator) Forward(images nn.Variable, cond *mat.Dense) (nn.Variable, error) {
	if _, c := images.Dims(); c != d.imageSize {
		return nn.Variable{}, errs.ShapeMismatch("discriminator image width", d.imageSize, c)
	}
	if err := checkCondition(cond, images, d.numClasses); err != nil {
		return nn.Variable{}, err
	}
	in, err := nn.ConcatColumns(images, nn.Constant(cond))
	if err != nil {
		return nn.Variable{}, err
	}
	return d.body.Forward(in)
}

// Parameters implements nn.Network.
func (d *FullyConnectedDiscriminator) Parameters() []*nn.Parameter { return d.body.Parameters() }

// ZeroGrad implements nn.Network.
func (d *FullyConnectedDiscriminator) ZeroGrad() { nn.ZeroGrads(d.Parameters()) }

func checkCondition(cond *mat.Dense, x nn.Variable, numClasses int) error {
	cr, cc := cond.Dims()
	if cc != numClasses {
		return errs.ShapeMismatch("conditioning width", numClasses, cc)
	}
	if xr, _ := x.Dims(); cr != xr {
		return errs.ShapeMismatch("conditioning rows", xr, cr)
	}
	return nil
}

// mlp stacks Linear+LeakyReLU for each hidden width and ends with a bare
// Linear to out.
func mlp(prefix string, in int, hidden []int, out int, slope float64, rng *rand.Rand) nn.Sequential {
	var layers nn.Sequential
	prev := in
	for i, width := range hidden {
		layers = append(layers, nn.NewLinear(fmt.Sprintf("%s.%d", prefix, i), prev, width, rng), nn.LeakyReLU(slope))
		prev = width
	}
	return append(layers, nn.NewLinear(fmt.Sprintf("%s.%d", prefix, len(hidden)), prev, out, rng))
}
