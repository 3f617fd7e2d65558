package dataset

import (
	"context"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"cgan-forge/internal/errs"
)

// Source yields one pass of batches per epoch. The error channel is closed
// after the batch channel and carries at most one error.
type Source interface {
	Epoch(ctx context.Context, epoch int) (<-chan Batch, <-chan error)
}

// Dataset is an indexable collection of labelled images.
type Dataset interface {
	Len() int
	ImageShape() []int
	// Example copies image i into dst and returns its label.
	Example(i int, dst []float64) (int, error)
}

// TensorDataset keeps every image in one [N, ...image dims] tensor.
type TensorDataset struct {
	images *tensor.Dense
	labels []int
	size   int
}

// NewTensorDataset wraps images and labels, which must agree in length.
func NewTensorDataset(images *tensor.Dense, labels []int) (*TensorDataset, error) {
	shape := images.Shape()
	if len(shape) < 2 {
		return nil, errors.Errorf("dataset: images need a leading sample axis, got shape %v", shape)
	}
	if shape[0] != len(labels) {
		return nil, errs.ShapeMismatch("dataset labels", shape[0], len(labels))
	}
	return &TensorDataset{
		images: images,
		labels: labels,
		size:   shapeSize(shape[1:]),
	}, nil
}

// Len implements Dataset.
func (d *TensorDataset) Len() int { return len(d.labels) }

// ImageShape implements Dataset.
func (d *TensorDataset) ImageShape() []int {
	return append([]int(nil), d.images.Shape()[1:]...)
}

// Example implements Dataset.
func (d *TensorDataset) Example(i int, dst []float64) (int, error) {
	if i < 0 || i >= len(d.labels) {
		return 0, errors.Errorf("dataset: index %d out of range [0, %d)", i, len(d.labels))
	}
	if len(dst) != d.size {
		return 0, errs.ShapeMismatch("example buffer", d.size, len(dst))
	}
	data := d.images.Data().([]float64)
	copy(dst, data[i*d.size:(i+1)*d.size])
	return d.labels[i], nil
}

// Labels returns the label of every example.
func (d *TensorDataset) Labels() []int { return d.labels }
