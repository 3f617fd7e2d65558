package dataset

import (
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"cgan-forge/internal/errs"
)

// Batch is one minibatch of real images and their class labels.
// Samples has shape [B, C, H, W] (or [B, ...image dims]) and Labels has B
// entries in [0, classes).
type Batch struct {
	Samples *tensor.Dense
	Labels  []int
}

// NewBatch wraps row-major image values. The sample count is inferred from
// len(data) and imageShape; labels are kept as given so a mismatch can be
// caught by Validate.
func NewBatch(imageShape []int, data []float64, labels []int) (Batch, error) {
	size := shapeSize(imageShape)
	if size == 0 {
		return Batch{}, errs.ShapeMismatch("image size", 1, 0)
	}
	if len(data)%size != 0 {
		return Batch{}, errs.ShapeMismatch("trailing image values", 0, len(data)%size)
	}
	n := len(data) / size
	if n == 0 {
		return Batch{Labels: labels}, nil
	}
	shape := append([]int{n}, imageShape...)
	return Batch{
		Samples: tensor.New(tensor.WithBacking(data), tensor.WithShape(shape...)),
		Labels:  labels,
	}, nil
}

// Len returns the number of samples.
func (b Batch) Len() int {
	if b.Samples == nil {
		return 0
	}
	return b.Samples.Shape()[0]
}

// Empty reports whether the batch holds neither samples nor labels.
func (b Batch) Empty() bool {
	return b.Len() == 0 && len(b.Labels) == 0
}

// ImageShape returns the per-sample dimensions.
func (b Batch) ImageShape() []int {
	if b.Samples == nil {
		return nil
	}
	return append([]int(nil), b.Samples.Shape()[1:]...)
}

// Validate checks that samples and labels describe the same number of rows.
func (b Batch) Validate() error {
	if n := b.Len(); n != len(b.Labels) {
		return errs.ShapeMismatch("batch labels", n, len(b.Labels))
	}
	return nil
}

// Matrix returns the samples as a [B × prod(image dims)] matrix sharing the
// batch's storage.
func (b Batch) Matrix() *mat.Dense {
	n := b.Len()
	data := b.Samples.Data().([]float64)
	return mat.NewDense(n, len(data)/n, data)
}

func shapeSize(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	size := 1
	for _, d := range shape {
		if d <= 0 {
			return 0
		}
		size *= d
	}
	return size
}
