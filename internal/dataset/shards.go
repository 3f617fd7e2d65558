package dataset

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"

	"cgan-forge/internal/errs"
)

// ShardOptions configures a ShardSource.
type ShardOptions struct {
	Roots      []string
	ImageShape []int
	BatchSize  int
	NumWorkers int
	Seed       int64
	PendingCap int
}

// ShardSource streams WebDataset tar shards (image + .cls members) and
// decodes each image to ImageShape.
type ShardSource struct {
	opts   ShardOptions
	shards map[string][]string
}

// NewShardSource discovers the shards under opts.Roots.
func NewShardSource(opts ShardOptions) (*ShardSource, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.New("shards: batch size must be > 0")
	}
	if _, _, _, err := imageGeometry(opts.ImageShape); err != nil {
		return nil, err
	}
	shards, err := DiscoverByRoot(opts.Roots)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, s := range shards {
		total += len(s)
	}
	if total == 0 {
		return nil, errors.Errorf("shards: no shard-NNNNNN.tar files under %v", opts.Roots)
	}
	return &ShardSource{opts: opts, shards: shards}, nil
}

// Epoch implements Source.
func (s *ShardSource) Epoch(parent context.Context, epoch int) (<-chan Batch, <-chan error) {
	ctx, cancel := context.WithCancel(parent)
	out := make(chan Batch)
	errCh := make(chan error, 1)

	go func() {
		defer cancel()
		defer close(errCh)
		defer close(out)
		if err := s.run(ctx, epoch, out); err != nil {
			errCh <- err
		}
	}()
	return out, errCh
}

func (s *ShardSource) run(ctx context.Context, epoch int, out chan<- Batch) error {
	samples, sampleErrs, err := StartSampler(ctx, SamplerOptions{
		Roots:      s.shards,
		Seed:       s.opts.Seed + int64(epoch),
		NumWorkers: s.opts.NumWorkers,
		PendingCap: s.opts.PendingCap,
	})
	if err != nil {
		return err
	}

	size := shapeSize(s.opts.ImageShape)
	data := make([]float64, 0, s.opts.BatchSize*size)
	labels := make([]int, 0, s.opts.BatchSize)
	flush := func() error {
		if len(labels) == 0 {
			return nil
		}
		b, err := NewBatch(s.opts.ImageShape, data, labels)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- b:
		}
		data = make([]float64, 0, s.opts.BatchSize*size)
		labels = make([]int, 0, s.opts.BatchSize)
		return nil
	}

	for sample := range samples {
		pixels, err := decodeImage(sample.Image, s.opts.ImageShape)
		if err != nil {
			return errors.Wrapf(err, "decode %s", sample.Key)
		}
		data = append(data, pixels...)
		labels = append(labels, sample.Label)
		if len(labels) == s.opts.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := <-sampleErrs; err != nil {
		return err
	}
	return flush()
}

// imageGeometry accepts [H, W] or [C, H, W] with C of 1 (gray) or 3 (RGB).
func imageGeometry(shape []int) (channels, height, width int, err error) {
	switch len(shape) {
	case 2:
		channels, height, width = 1, shape[0], shape[1]
	case 3:
		channels, height, width = shape[0], shape[1], shape[2]
	default:
		return 0, 0, 0, errs.Configuration("image_shape", "image sources need [H W] or [C H W], got %v", shape)
	}
	if channels != 1 && channels != 3 {
		return 0, 0, 0, errs.Configuration("image_shape", "channels must be 1 or 3, got %d", channels)
	}
	if height <= 0 || width <= 0 {
		return 0, 0, 0, errs.Configuration("image_shape", "dimensions must be > 0, got %v", shape)
	}
	return channels, height, width, nil
}

// decodeImage nearest-neighbour resamples raw to shape and scales each
// channel into [-1, 1], channel-major.
func decodeImage(raw []byte, shape []int) ([]float64, error) {
	channels, height, width, err := imageGeometry(shape)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, errors.New("empty image")
	}
	out := make([]float64, channels*height*width)
	plane := height * width
	for y := 0; y < height; y++ {
		py := bounds.Min.Y + y*bounds.Dy()/height
		for x := 0; x < width; x++ {
			px := bounds.Min.X + x*bounds.Dx()/width
			r, g, b, _ := img.At(px, py).RGBA()
			idx := y*width + x
			if channels == 1 {
				out[idx] = scale16((r + g + b) / 3)
				continue
			}
			out[idx] = scale16(r)
			out[plane+idx] = scale16(g)
			out[2*plane+idx] = scale16(b)
		}
	}
	return out, nil
}

func scale16(v uint32) float64 {
	return float64(v)/32767.5 - 1
}
