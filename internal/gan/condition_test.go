package gan

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"

	"cgan-forge/internal/errs"
)

func TestOneHotCondition(t *testing.T) {
	c, err := NewOneHot(4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	v, err := c.Condition(2)
	if err != nil {
		t.Fatalf("condition: %v", err)
	}
	if !floats.Equal(v, []float64{0, 0, 1, 0}) {
		t.Fatalf("unexpected encoding %v", v)
	}
	again, _ := c.Condition(2)
	if !floats.Equal(v, again) {
		t.Fatalf("encoding not stable")
	}
}

func TestOneHotBatchMatchesSingle(t *testing.T) {
	c, _ := NewOneHot(3)
	labels := []int{2, 0, 1, 2}
	m, err := c.ConditionBatch(labels)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	for i, label := range labels {
		want, _ := c.Condition(label)
		if !floats.Equal(m.RawRowView(i), want) {
			t.Fatalf("row %d: got %v want %v", i, m.RawRowView(i), want)
		}
	}
	if r, _ := m.Dims(); r != len(labels) {
		t.Fatalf("unexpected rows %d", r)
	}
}

func TestOneHotRejectsOutOfRange(t *testing.T) {
	c, _ := NewOneHot(3)
	for _, label := range []int{-1, 3} {
		if _, err := c.Condition(label); !errs.IsShapeMismatch(err) {
			t.Fatalf("label %d: expected shape mismatch, got %v", label, err)
		}
	}
	if _, err := c.ConditionBatch([]int{0, 5}); !errs.IsShapeMismatch(err) {
		t.Fatalf("expected shape mismatch, got %v", err)
	}
	if _, err := NewOneHot(0); !errs.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestParseLabelPolicy(t *testing.T) {
	for in, want := range map[string]LabelPolicy{"": ReuseRealLabels, "real": ReuseRealLabels, "uniform": UniformLabels} {
		got, err := ParseLabelPolicy(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %q, %v", in, got, err)
		}
	}
	if _, err := ParseLabelPolicy("shuffled"); !errs.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestGeneratorLabels(t *testing.T) {
	batch := []int{1, 1, 1, 1}
	if got := generatorLabels(ReuseRealLabels, batch, 10, nil); &got[0] != &batch[0] {
		t.Fatalf("real policy should reuse the batch labels")
	}
	a := generatorLabels(UniformLabels, make([]int, 64), 10, rand.New(rand.NewSource(3)))
	b := generatorLabels(UniformLabels, make([]int, 64), 10, rand.New(rand.NewSource(3)))
	seen := map[int]bool{}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("uniform labels not deterministic")
		}
		if a[i] < 0 || a[i] >= 10 {
			t.Fatalf("label %d out of range", a[i])
		}
		seen[a[i]] = true
	}
	if len(seen) < 2 {
		t.Fatalf("uniform labels collapsed to %v", seen)
	}
}
