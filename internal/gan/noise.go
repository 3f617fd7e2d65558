// Package gan implements conditional GAN training: latent noise, label
// conditioning, the adversarial losses and the alternating
// discriminator/generator update.
package gan

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"cgan-forge/internal/errs"
)

// Distribution names the prior latent vectors are drawn from.
type Distribution string

const (
	// Normal draws from N(0, 1).
	Normal Distribution = "normal"
	// Uniform draws from U(-1, 1).
	Uniform Distribution = "uniform"
)

// NoiseSampler draws latent vectors. Every call makes a fresh independent
// draw; nothing is cached between calls.
type NoiseSampler struct {
	rng  *rand.Rand
	dist Distribution
}

// NewNoiseSampler returns a sampler for dist seeded with seed.
func NewNoiseSampler(dist Distribution, seed int64) (*NoiseSampler, error) {
	switch dist {
	case "":
		dist = Normal
	case Normal, Uniform:
	default:
		return nil, errs.Configuration("noise", "unknown distribution %q", dist)
	}
	return &NoiseSampler{rng: rand.New(rand.NewSource(seed)), dist: dist}, nil
}

// Distribution returns the configured prior.
func (s *NoiseSampler) Distribution() Distribution { return s.dist }

// Sample returns a batchSize×latentDim matrix of i.i.d. draws. Both sizes
// must be positive.
func (s *NoiseSampler) Sample(batchSize, latentDim int) (*mat.Dense, error) {
	if batchSize <= 0 || latentDim <= 0 {
		return nil, errors.Errorf("noise: cannot sample %dx%d", batchSize, latentDim)
	}
	data := make([]float64, batchSize*latentDim)
	for i := range data {
		if s.dist == Uniform {
			data[i] = s.rng.Float64()*2 - 1
		} else {
			data[i] = s.rng.NormFloat64()
		}
	}
	return mat.NewDense(batchSize, latentDim, data), nil
}
