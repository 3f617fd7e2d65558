// Package model holds the concrete generator and discriminator variants and
// the registry that selects them by name.
package model

import (
	"math/rand"
	"sort"

	"cgan-forge/internal/errs"
	"cgan-forge/internal/nn"
)

// Spec describes the data a model pair is built for.
type Spec struct {
	LatentDim  int
	ImageShape []int
	NumClasses int
	// GenHidden and DiscHidden override the default hidden widths.
	GenHidden  []int
	DiscHidden []int
	Slope      float64
	Seed       int64
}

// ImageSize returns the number of values in one flattened image.
func (s Spec) ImageSize() int {
	size := 1
	for _, d := range s.ImageShape {
		size *= d
	}
	return size
}

func (s Spec) validate() error {
	if s.LatentDim <= 0 {
		return errs.Configuration("latent_dim", "must be > 0 (got %d)", s.LatentDim)
	}
	if len(s.ImageShape) == 0 {
		return errs.Configuration("image_shape", "must not be empty")
	}
	for _, d := range s.ImageShape {
		if d <= 0 {
			return errs.Configuration("image_shape", "dimensions must be > 0 (got %v)", s.ImageShape)
		}
	}
	if s.NumClasses <= 0 {
		return errs.Configuration("n_classes", "must be > 0 (got %d)", s.NumClasses)
	}
	return nil
}

// Constructor builds a generator/discriminator pair.
type Constructor func(spec Spec, rng *rand.Rand) (gen, disc nn.Network)

var registry = map[string]Constructor{
	"fc": func(spec Spec, rng *rand.Rand) (nn.Network, nn.Network) {
		return NewFullyConnectedGenerator(spec, rng), NewFullyConnectedDiscriminator(spec, rng)
	},
}

// New builds the pair registered under modelType. Weights are drawn from a
// source seeded with spec.Seed, generator first.
func New(modelType string, spec Spec) (gen, disc nn.Network, err error) {
	ctor, ok := registry[modelType]
	if !ok {
		return nil, nil, errs.Configuration("model_type", "unknown variant %q (known: %v)", modelType, Types())
	}
	if err := spec.validate(); err != nil {
		return nil, nil, err
	}
	if spec.Slope == 0 {
		spec.Slope = defaultSlope
	}
	gen, disc = ctor(spec, rand.New(rand.NewSource(spec.Seed)))
	return gen, disc, nil
}

// Known reports whether modelType is registered.
func Known(modelType string) bool {
	_, ok := registry[modelType]
	return ok
}

// Types lists the registered variants.
func Types() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
