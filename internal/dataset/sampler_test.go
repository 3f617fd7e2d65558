package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"testing"
	"time"
)

func TestBuildRoundRobinOrderDeterministic(t *testing.T) {
	roots := map[string][]string{
		"/rootA": {"/rootA/shard-000000.tar", "/rootA/shard-000002.tar"},
		"/rootB": {"/rootB/shard-000001.tar"},
	}
	order1 := buildRoundRobinOrder(roots, rand.New(rand.NewSource(7)))
	order2 := buildRoundRobinOrder(roots, rand.New(rand.NewSource(7)))

	if !reflect.DeepEqual(order1, order2) {
		t.Fatalf("round robin order not deterministic: %v vs %v", order1, order2)
	}
	if len(order1) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(order1))
	}
	if order1[0].root == order1[1].root {
		t.Fatalf("expected alternating roots, got %v", order1)
	}
}

func TestSamplerSinglePassDeterministic(t *testing.T) {
	temp := t.TempDir()
	rootA := filepath.Join(temp, "rootA")
	rootB := filepath.Join(temp, "rootB")
	mustShard(t, filepath.Join(rootA, "shard-000000.tar"), map[string]int{"a0": 0, "a1": 1})
	mustShard(t, filepath.Join(rootA, "shard-000002.tar"), map[string]int{"a2": 2})
	mustShard(t, filepath.Join(rootB, "shard-000001.tar"), map[string]int{"b0": 3})

	roots, err := DiscoverByRoot([]string{rootA, rootB})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	opts := SamplerOptions{Roots: roots, Seed: 123, NumWorkers: 2}

	run1 := collectKeys(t, opts)
	run2 := collectKeys(t, opts)
	if !reflect.DeepEqual(run1, run2) {
		t.Fatalf("sampler order not deterministic: %v vs %v", run1, run2)
	}
	if len(run1) != 4 {
		t.Fatalf("expected every sample exactly once, got %v", run1)
	}
}

func TestShardSourceBatches(t *testing.T) {
	root := t.TempDir()
	mustShard(t, filepath.Join(root, "shard-000000.tar"), map[string]int{"x0": 0, "x1": 1, "x2": 2})
	mustShard(t, filepath.Join(root, "shard-000001.tar"), map[string]int{"y0": 1, "y1": 0})

	src, err := NewShardSource(ShardOptions{
		Roots:      []string{root},
		ImageShape: []int{1, 4, 4},
		BatchSize:  2,
		NumWorkers: 2,
		Seed:       5,
	})
	if err != nil {
		t.Fatalf("NewShardSource: %v", err)
	}
	batches, errCh := src.Epoch(context.Background(), 0)
	var sizes []int
	for b := range batches {
		if err := b.Validate(); err != nil {
			t.Fatalf("invalid batch: %v", err)
		}
		if !reflect.DeepEqual(b.ImageShape(), []int{1, 4, 4}) {
			t.Fatalf("unexpected image shape %v", b.ImageShape())
		}
		for _, v := range b.Samples.Data().([]float64) {
			if v < -1 || v > 1 {
				t.Fatalf("pixel %f outside [-1, 1]", v)
			}
		}
		sizes = append(sizes, b.Len())
	}
	if err := <-errCh; err != nil {
		t.Fatalf("epoch error: %v", err)
	}
	if !reflect.DeepEqual(sizes, []int{2, 2, 1}) {
		t.Fatalf("unexpected batch sizes %v", sizes)
	}
}

func TestNewShardSourceRequiresShards(t *testing.T) {
	_, err := NewShardSource(ShardOptions{Roots: []string{t.TempDir()}, ImageShape: []int{1, 2, 2}, BatchSize: 1})
	if err == nil {
		t.Fatalf("expected error for empty root")
	}
}

func TestDecodeImageScales(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.SetGray(0, 0, color.Gray{Y: 255})
	pixels, err := decodeImage(encodePNG(t, img), []int{1, 2, 2})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pixels[0] != 1 || pixels[3] != -1 {
		t.Fatalf("unexpected pixels %v", pixels)
	}
	if _, err := decodeImage([]byte("nope"), []int{1, 2, 2}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func collectKeys(t *testing.T, opts SamplerOptions) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, errCh, err := StartSampler(ctx, opts)
	if err != nil {
		t.Fatalf("StartSampler error: %v", err)
	}
	var keys []string
	for sample := range stream {
		keys = append(keys, sample.Key)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("sampler reported error: %v", err)
	}
	return keys
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// mustShard writes a shard whose images are 4x4 gray PNGs shaded by label.
func mustShard(t *testing.T, path string, samples map[string]int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	keys := make([]string, 0, len(samples))
	for key := range samples {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, key := range keys {
		img := image.NewGray(image.Rect(0, 0, 4, 4))
		for i := range img.Pix {
			img.Pix[i] = uint8(samples[key] * 60)
		}
		addTarEntry(tw, key+".png", encodePNG(t, img))
		addTarEntry(tw, key+".cls", []byte(strconv.Itoa(samples[key])))
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
}
