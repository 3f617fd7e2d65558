package dataset

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pkg/errors"

	"cgan-forge/internal/errs"
)

func TestNewBatchAndValidate(t *testing.T) {
	b, err := NewBatch([]int{1, 2, 2}, make([]float64, 8), []int{0, 1})
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	if b.Len() != 2 || b.Validate() != nil {
		t.Fatalf("expected valid batch of 2, got len=%d err=%v", b.Len(), b.Validate())
	}
	if r, c := b.Matrix().Dims(); r != 2 || c != 4 {
		t.Fatalf("unexpected matrix %dx%d", r, c)
	}

	short, err := NewBatch([]int{1, 2, 2}, make([]float64, 8), []int{0})
	if err != nil {
		t.Fatalf("NewBatch: %v", err)
	}
	if !errs.IsShapeMismatch(short.Validate()) {
		t.Fatalf("expected label count mismatch")
	}
	if _, err := NewBatch([]int{1, 2, 2}, make([]float64, 7), nil); !errs.IsShapeMismatch(err) {
		t.Fatalf("expected trailing values error, got %v", err)
	}
	if !(Batch{}).Empty() {
		t.Fatalf("zero batch should be empty")
	}
}

func TestLoaderCoversDatasetInOrder(t *testing.T) {
	ds, err := NewSynthetic(10, []int{1, 2, 2}, 3, 1)
	if err != nil {
		t.Fatalf("NewSynthetic: %v", err)
	}
	loader, err := NewLoader(ds, LoaderOptions{BatchSize: 4, NumWorkers: 3})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if loader.NumBatches() != 3 {
		t.Fatalf("expected 3 batches, got %d", loader.NumBatches())
	}
	labels, sizes := drain(t, loader, 0)
	if !reflect.DeepEqual(sizes, []int{4, 4, 2}) {
		t.Fatalf("unexpected batch sizes %v", sizes)
	}
	if !reflect.DeepEqual(labels, ds.Labels()) {
		t.Fatalf("unshuffled loader reordered labels: %v", labels)
	}
}

type brokenDataset struct {
	Dataset
	bad int
}

func (d brokenDataset) Example(i int, dst []float64) (int, error) {
	if i == d.bad {
		return 0, errors.Errorf("example %d is corrupt", i)
	}
	return d.Dataset.Example(i, dst)
}

func TestLoaderReportsErrorAfterBatches(t *testing.T) {
	ds, _ := NewSynthetic(12, []int{4}, 3, 1)
	loader, _ := NewLoader(brokenDataset{Dataset: ds, bad: 5}, LoaderOptions{BatchSize: 4, NumWorkers: 2})
	batches, errCh := loader.Epoch(context.Background(), 0)
	var got int
	for range batches {
		got++
	}
	if got != 1 {
		t.Fatalf("expected the batch before the corrupt one, got %d batches", got)
	}
	if err, ok := <-errCh; !ok || err == nil {
		t.Fatalf("expected a pending error once batches closed, got %v (open=%v)", err, ok)
	}
	if _, ok := <-errCh; ok {
		t.Fatalf("error channel should close after its error")
	}
}

func TestLoaderShuffleDeterministic(t *testing.T) {
	ds, _ := NewSynthetic(32, []int{4}, 4, 2)
	opts := LoaderOptions{BatchSize: 5, NumWorkers: 4, Shuffle: true, Seed: 9}
	a, _ := NewLoader(ds, opts)
	b, _ := NewLoader(ds, opts)

	first, _ := drain(t, a, 0)
	second, _ := drain(t, b, 0)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same seed and epoch gave different orders")
	}
	other, _ := drain(t, a, 1)
	if reflect.DeepEqual(first, other) {
		t.Fatalf("epochs should reshuffle")
	}
}

func TestSyntheticClassesSeparable(t *testing.T) {
	ds, err := NewSynthetic(6, []int{1, 3, 3}, 3, 4)
	if err != nil {
		t.Fatalf("NewSynthetic: %v", err)
	}
	img := make([]float64, 9)
	label, err := ds.Example(4, img)
	if err != nil {
		t.Fatalf("Example: %v", err)
	}
	if label != 1 {
		t.Fatalf("expected label 1, got %d", label)
	}
	if img[1] < 0 || img[0] > 0 {
		t.Fatalf("class pattern missing: %v", img)
	}
	if _, err := ds.Example(6, img); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestLoadMNISTGzip(t *testing.T) {
	dir := t.TempDir()
	var images bytes.Buffer
	binary.Write(&images, binary.BigEndian, [4]uint32{idxImagesMagic, 2, 2, 2})
	images.Write([]byte{0, 255, 255, 0, 0, 0, 0, 0})
	writeGzip(t, filepath.Join(dir, mnistTrainImages+".gz"), images.Bytes())

	var labels bytes.Buffer
	binary.Write(&labels, binary.BigEndian, [2]uint32{idxLabelsMagic, 2})
	labels.Write([]byte{7, 3})
	if err := os.WriteFile(filepath.Join(dir, mnistTrainLabels), labels.Bytes(), 0o644); err != nil {
		t.Fatalf("write labels: %v", err)
	}

	ds, err := LoadMNIST(dir)
	if err != nil {
		t.Fatalf("LoadMNIST: %v", err)
	}
	if ds.Len() != 2 || !reflect.DeepEqual(ds.ImageShape(), []int{1, 2, 2}) {
		t.Fatalf("unexpected dataset len=%d shape=%v", ds.Len(), ds.ImageShape())
	}
	img := make([]float64, 4)
	label, _ := ds.Example(0, img)
	if label != 7 || !reflect.DeepEqual(img, []float64{-1, 1, 1, -1}) {
		t.Fatalf("unexpected first example %d %v", label, img)
	}
}

func TestLoadMNISTBadMagic(t *testing.T) {
	dir := t.TempDir()
	var images bytes.Buffer
	binary.Write(&images, binary.BigEndian, [4]uint32{1, 0, 0, 0})
	if err := os.WriteFile(filepath.Join(dir, mnistTrainImages), images.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadMNIST(dir); err == nil {
		t.Fatalf("expected bad magic error")
	}
}

func TestLoadMNISTBadHeader(t *testing.T) {
	for _, tc := range []struct {
		name   string
		header [4]uint32
	}{
		{"zero_rows", [4]uint32{idxImagesMagic, 5, 0, 28}},
		{"zero_cols", [4]uint32{idxImagesMagic, 5, 28, 0}},
		{"oversized", [4]uint32{idxImagesMagic, 1 << 31, 28, 28}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			var images bytes.Buffer
			binary.Write(&images, binary.BigEndian, tc.header)
			if err := os.WriteFile(filepath.Join(dir, mnistTrainImages), images.Bytes(), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := LoadMNIST(dir); err == nil {
				t.Fatalf("expected header error")
			}
		})
	}
}

func drain(t *testing.T, src Source, epoch int) (labels []int, sizes []int) {
	t.Helper()
	batches, errCh := src.Epoch(context.Background(), epoch)
	for b := range batches {
		labels = append(labels, b.Labels...)
		sizes = append(sizes, b.Len())
	}
	if err := <-errCh; err != nil {
		t.Fatalf("epoch error: %v", err)
	}
	return labels, sizes
}

func writeGzip(t *testing.T, path string, data []byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(data)
	zw.Close()
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
