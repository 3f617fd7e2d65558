package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Sample is one image/label pair read from a WebDataset shard.
type Sample struct {
	Key   string
	Image []byte
	Label int
}

// ErrPendingOverflow indicates too many half-paired entries were buffered.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// pairer joins the image and .cls members that share a key.
type pairer struct {
	images map[string][]byte
	labels map[string]int
}

func newPairer() *pairer {
	return &pairer{images: make(map[string][]byte), labels: make(map[string]int)}
}

func (p *pairer) pending() int {
	return len(p.images) + len(p.labels)
}

// add records one member and returns the completed sample, if any.
func (p *pairer) add(name string, payload []byte) (Sample, bool, error) {
	ext := strings.ToLower(filepath.Ext(name))
	key := strings.TrimSuffix(name, filepath.Ext(name))
	switch ext {
	case ".jpg", ".jpeg", ".png":
		p.images[key] = payload
	case ".cls":
		label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
		if err != nil {
			return Sample{}, false, errors.Wrapf(err, "parse label %s", name)
		}
		p.labels[key] = label
	default:
		return Sample{}, false, nil
	}
	img, hasImage := p.images[key]
	label, hasLabel := p.labels[key]
	if !hasImage || !hasLabel {
		return Sample{}, false, nil
	}
	delete(p.images, key)
	delete(p.labels, key)
	return Sample{Key: key, Image: img, Label: label}, true, nil
}

// StreamShard streams paired samples from the tar shard at path. The error
// channel is closed once the sample channel is closed.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Sample, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)
		if err := readShard(ctx, path, pendingCap, out); err != nil {
			errCh <- err
		}
	}()
	return out, errCh
}

func readShard(ctx context.Context, path string, pendingCap int, out chan<- Sample) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open shard")
	}
	defer f.Close()

	tr := tar.NewReader(bufio.NewReader(f))
	pairs := newPairer()
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "read tar %s", path)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(hdr.Name)
		payload, err := io.ReadAll(tr)
		if err != nil {
			return errors.Wrapf(err, "read member %s", name)
		}
		sample, ok, err := pairs.add(name, payload)
		if err != nil {
			return err
		}
		if pairs.pending() > pendingCap {
			return ErrPendingOverflow
		}
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- sample:
		}
	}
	if n := pairs.pending(); n > 0 {
		return errors.Errorf("%s: %d members without a partner", path, n)
	}
	return nil
}
