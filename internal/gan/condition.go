package gan

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"cgan-forge/internal/errs"
)

// Conditioner turns class labels into the conditioning rows fed to both
// networks. Implementations must be pure: the same label always yields the
// same representation for the whole run.
type Conditioner interface {
	Classes() int
	Condition(label int) ([]float64, error)
	ConditionBatch(labels []int) (*mat.Dense, error)
}

// OneHot encodes label k as the k-th unit vector of length Classes.
type OneHot struct {
	classes int
}

// NewOneHot returns a one-hot conditioner for classes labels.
func NewOneHot(classes int) (*OneHot, error) {
	if classes <= 0 {
		return nil, errs.Configuration("n_classes", "must be > 0 (got %d)", classes)
	}
	return &OneHot{classes: classes}, nil
}

// Classes implements Conditioner.
func (o *OneHot) Classes() int { return o.classes }

// Condition implements Conditioner.
func (o *OneHot) Condition(label int) ([]float64, error) {
	if err := o.check(label); err != nil {
		return nil, err
	}
	v := make([]float64, o.classes)
	v[label] = 1
	return v, nil
}

// ConditionBatch implements Conditioner.
func (o *OneHot) ConditionBatch(labels []int) (*mat.Dense, error) {
	if len(labels) == 0 {
		return nil, errs.ShapeMismatch("conditioned labels", 1, 0)
	}
	m := mat.NewDense(len(labels), o.classes, nil)
	for i, label := range labels {
		if err := o.check(label); err != nil {
			return nil, err
		}
		m.Set(i, label, 1)
	}
	return m, nil
}

func (o *OneHot) check(label int) error {
	if label < 0 || label >= o.classes {
		return errs.ShapeMismatch(fmt.Sprintf("label %d within classes", label), o.classes, label+1)
	}
	return nil
}

// LabelPolicy decides which labels the generator is conditioned on.
type LabelPolicy string

const (
	// ReuseRealLabels conditions each fake on the label of the real sample
	// in the same row, so every fake has a label-matched real counterpart.
	ReuseRealLabels LabelPolicy = "real"
	// UniformLabels draws generator labels uniformly from [0, classes).
	UniformLabels LabelPolicy = "uniform"
)

// ParseLabelPolicy validates a configured policy name.
func ParseLabelPolicy(name string) (LabelPolicy, error) {
	switch LabelPolicy(name) {
	case "", ReuseRealLabels:
		return ReuseRealLabels, nil
	case UniformLabels:
		return UniformLabels, nil
	default:
		return "", errs.Configuration("label_policy", "unknown policy %q", name)
	}
}

// generatorLabels picks the labels fakes are generated for.
func generatorLabels(policy LabelPolicy, batchLabels []int, classes int, rng *rand.Rand) []int {
	if policy != UniformLabels {
		return batchLabels
	}
	labels := make([]int, len(batchLabels))
	for i := range labels {
		labels[i] = rng.Intn(classes)
	}
	return labels
}
