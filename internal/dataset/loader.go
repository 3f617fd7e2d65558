package dataset

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	BatchSize  int
	NumWorkers int
	Shuffle    bool
	Seed       int64
}

// Loader batches an indexable Dataset. Batches are assembled by NumWorkers
// goroutines and re-ordered so every epoch is deterministic for a seed.
type Loader struct {
	ds   Dataset
	opts LoaderOptions
}

// NewLoader validates opts and returns a Loader over ds.
func NewLoader(ds Dataset, opts LoaderOptions) (*Loader, error) {
	if ds == nil {
		return nil, errors.New("loader: dataset is nil")
	}
	if opts.BatchSize <= 0 {
		return nil, errors.New("loader: batch size must be > 0")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	return &Loader{ds: ds, opts: opts}, nil
}

// NumBatches returns the number of batches per epoch.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.opts.BatchSize - 1) / l.opts.BatchSize
}

type batchJob struct {
	id      int
	indices []int
}

type batchResult struct {
	id    int
	batch Batch
	err   error
}

// Epoch implements Source.
func (l *Loader) Epoch(parent context.Context, epoch int) (<-chan Batch, <-chan error) {
	ctx, cancel := context.WithCancel(parent)
	out := make(chan Batch, l.opts.NumWorkers)
	errCh := make(chan error, 1)
	jobs := make(chan batchJob, l.opts.NumWorkers)
	results := make(chan batchResult, l.opts.NumWorkers)

	order := l.order(epoch)
	go func() {
		defer close(jobs)
		for id, start := 0, 0; start < len(order); id, start = id+1, start+l.opts.BatchSize {
			end := min(start+l.opts.BatchSize, len(order))
			select {
			case <-ctx.Done():
				return
			case jobs <- batchJob{id: id, indices: order[start:end]}:
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < l.opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				b, err := l.assemble(job.indices)
				select {
				case <-ctx.Done():
					return
				case results <- batchResult{id: job.id, batch: b, err: err}:
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer cancel()
		defer close(errCh)
		defer close(out)
		pending := make(map[int]batchResult)
		next := 0
		for res := range results {
			pending[res.id] = res
			for {
				r, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				if r.err != nil {
					errCh <- r.err
					return
				}
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- r.batch:
				}
				next++
			}
		}
	}()

	return out, errCh
}

func (l *Loader) order(epoch int) []int {
	order := make([]int, l.ds.Len())
	for i := range order {
		order[i] = i
	}
	if l.opts.Shuffle {
		rng := rand.New(rand.NewSource(l.opts.Seed + int64(epoch)))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

func (l *Loader) assemble(indices []int) (Batch, error) {
	shape := l.ds.ImageShape()
	size := shapeSize(shape)
	data := make([]float64, len(indices)*size)
	labels := make([]int, len(indices))
	for i, idx := range indices {
		label, err := l.ds.Example(idx, data[i*size:(i+1)*size])
		if err != nil {
			return Batch{}, err
		}
		labels[i] = label
	}
	return NewBatch(shape, data, labels)
}
