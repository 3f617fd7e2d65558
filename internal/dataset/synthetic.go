package dataset

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// NewSynthetic builds n labelled images of the given shape. Class k lights
// up every pixel whose flat index is congruent to k modulo classes, plus a
// little seeded noise, so each class is separable and runs are repeatable.
func NewSynthetic(n int, imageShape []int, classes int, seed int64) (*TensorDataset, error) {
	size := shapeSize(imageShape)
	if n <= 0 || size == 0 || classes <= 0 {
		return nil, errors.Errorf("synthetic: need n, image size and classes > 0 (got %d, %v, %d)", n, imageShape, classes)
	}
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, n*size)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		label := i % classes
		labels[i] = label
		img := data[i*size : (i+1)*size]
		for j := range img {
			v := -0.8
			if j%classes == label {
				v = 0.8
			}
			img[j] = math.Max(-1, math.Min(1, v+0.1*rng.NormFloat64()))
		}
	}
	shape := append([]int{n}, imageShape...)
	images := tensor.New(tensor.WithBacking(data), tensor.WithShape(shape...))
	return NewTensorDataset(images, labels)
}
