package data

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/sourcegraph/conc/stream"
)

// Batch is one training step's worth of windows, assembled into
// [batchSize][blockSize] input and target matrices.
type Batch struct {
	Inputs  [][]int
	Targets [][]int
}

// Loader iterates a Dataset in shuffled batches. Only the order of
// windows is shuffled, never the tokens inside a window. When Workers
// is positive, batch assembly runs on a worker pool that prefetches
// ahead of the consumer; the consumer callback still sees batches
// one at a time, in order.
type Loader struct {
	ds        Dataset
	batchSize int
	workers   int
	rng       *rand.Rand
}

// NewLoader validates sizes and wraps the dataset.
func NewLoader(ds Dataset, batchSize, workers int, rng *rand.Rand) (*Loader, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("data: batch size must be positive, got %d", batchSize)
	}
	if workers < 0 {
		return nil, fmt.Errorf("data: worker count must be non-negative, got %d", workers)
	}
	if ds.Len() < batchSize {
		return nil, fmt.Errorf("data: dataset has %d windows, fewer than batch size %d",
			ds.Len(), batchSize)
	}
	if rng == nil {
		return nil, fmt.Errorf("data: loader requires an explicit rand source")
	}
	return &Loader{ds: ds, batchSize: batchSize, workers: workers, rng: rng}, nil
}

// NumBatches returns the number of full batches per epoch. The trailing
// partial batch is dropped so every step sees fixed shapes.
func (l *Loader) NumBatches() int { return l.ds.Len() / l.batchSize }

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.batchSize }

// Each runs fn over one epoch of shuffled batches. fn is always invoked
// sequentially and in batch order regardless of the worker count, so the
// training step stays single-threaded. The first error from assembly or
// fn stops the epoch; ctx cancellation is checked between batches.
func (l *Loader) Each(ctx context.Context, fn func(Batch) error) error {
	perm := l.rng.Perm(l.ds.Len())
	nb := l.NumBatches()

	if l.workers == 0 {
		for bi := 0; bi < nb; bi++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch, err := l.assemble(perm[bi*l.batchSize : (bi+1)*l.batchSize])
			if err != nil {
				return err
			}
			if err := fn(batch); err != nil {
				return err
			}
		}
		return nil
	}

	var failed error
	s := stream.New().WithMaxGoroutines(l.workers)
	for bi := 0; bi < nb; bi++ {
		if ctx.Err() != nil {
			break
		}
		idx := perm[bi*l.batchSize : (bi+1)*l.batchSize]
		s.Go(func() stream.Callback {
			batch, err := l.assemble(idx)
			return func() {
				if failed != nil {
					return
				}
				switch {
				case err != nil:
					failed = err
				case ctx.Err() != nil:
					failed = ctx.Err()
				default:
					failed = fn(batch)
				}
			}
		})
	}
	s.Wait()
	if failed != nil {
		return failed
	}
	return ctx.Err()
}

func (l *Loader) assemble(idx []int) (Batch, error) {
	batch := Batch{
		Inputs:  make([][]int, len(idx)),
		Targets: make([][]int, len(idx)),
	}
	for row, i := range idx {
		x, y, err := l.ds.Get(i)
		if err != nil {
			return Batch{}, fmt.Errorf("data: assemble batch: %w", err)
		}
		batch.Inputs[row] = x
		batch.Targets[row] = y
	}
	return batch, nil
}
