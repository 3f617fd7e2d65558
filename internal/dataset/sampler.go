package dataset

import (
	"context"
	"math/rand"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// SamplerOptions configures a single pass over sharded roots.
type SamplerOptions struct {
	Roots      map[string][]string
	Seed       int64
	NumWorkers int
	PendingCap int
}

// StartSampler streams every sample of every shard exactly once. Shards are
// visited round-robin across roots in a seeded order and opened by
// NumWorkers workers; samples are emitted in shard order, so the stream is
// deterministic for a given seed.
func StartSampler(parent context.Context, opts SamplerOptions) (<-chan Sample, <-chan error, error) {
	order := buildRoundRobinOrder(opts.Roots, rand.New(rand.NewSource(opts.Seed)))
	if len(order) == 0 {
		return nil, nil, errors.New("sampler: no shards discovered")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}

	ctx, cancel := context.WithCancel(parent)
	jobs := make(chan shardJob, opts.NumWorkers)
	cursors := make(chan shardCursor, opts.NumWorkers)
	out := make(chan Sample, opts.NumWorkers*2)
	errCh := make(chan error, opts.NumWorkers)

	go func() {
		defer close(jobs)
		for id, entry := range order {
			select {
			case <-ctx.Done():
				return
			case jobs <- shardJob{id: id, path: entry.path}:
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			openShards(ctx, jobs, cursors, opts.PendingCap)
		}()
	}
	go func() {
		wg.Wait()
		close(cursors)
	}()

	go func() {
		defer cancel()
		defer close(errCh)
		defer close(out)
		if err := forwardInOrder(ctx, cursors, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh, nil
}

type shardJob struct {
	id   int
	path string
}

type shardCursor struct {
	id      int
	samples <-chan Sample
	errCh   <-chan error
}

func openShards(ctx context.Context, jobs <-chan shardJob, cursors chan<- shardCursor, pendingCap int) {
	for job := range jobs {
		samples, errCh := StreamShard(ctx, job.path, pendingCap)
		select {
		case <-ctx.Done():
			return
		case cursors <- shardCursor{id: job.id, samples: samples, errCh: errCh}:
		}
	}
}

// forwardInOrder drains shard cursors by ascending id.
func forwardInOrder(ctx context.Context, cursors <-chan shardCursor, out chan<- Sample) error {
	pending := make(map[int]shardCursor)
	next := 0
	for {
		cursor, ok := pending[next]
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c, open := <-cursors:
				if !open {
					return nil
				}
				pending[c.id] = c
			}
			continue
		}
		for sample := range cursor.samples {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- sample:
			}
		}
		if err := <-cursor.errCh; err != nil {
			return err
		}
		delete(pending, next)
		next++
	}
}

type orderEntry struct {
	root string
	path string
}

// buildRoundRobinOrder shuffles each root's shards and interleaves roots in
// sorted name order.
func buildRoundRobinOrder(roots map[string][]string, rng *rand.Rand) []orderEntry {
	names := make([]string, 0, len(roots))
	queues := make(map[string][]string, len(roots))
	for root, shards := range roots {
		if len(shards) == 0 {
			continue
		}
		names = append(names, root)
		q := append([]string(nil), shards...)
		sort.Strings(q)
		queues[root] = q
	}
	sort.Strings(names)
	if rng != nil {
		for _, root := range names {
			q := queues[root]
			rng.Shuffle(len(q), func(i, j int) { q[i], q[j] = q[j], q[i] })
		}
	}
	var order []orderEntry
	for advanced := true; advanced; {
		advanced = false
		for _, root := range names {
			q := queues[root]
			if len(q) == 0 {
				continue
			}
			order = append(order, orderEntry{root: root, path: q[0]})
			queues[root] = q[1:]
			advanced = true
		}
	}
	return order
}
