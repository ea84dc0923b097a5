package data

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loaderFixture(t *testing.T, workers int) *Loader {
	t.Helper()
	ds, err := NewCharDataset("abcdefghijklmnopqrstuvwxyz0123456789", 4)
	require.NoError(t, err)
	l, err := NewLoader(ds, 8, workers, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	return l
}

func TestLoaderValidation(t *testing.T) {
	ds, err := NewCharDataset("abcdefgh", 3)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))

	_, err = NewLoader(ds, 0, 0, rng)
	require.Error(t, err)
	_, err = NewLoader(ds, 2, -1, rng)
	require.Error(t, err)
	_, err = NewLoader(ds, 100, 0, rng)
	require.Error(t, err, "batch larger than dataset")
	_, err = NewLoader(ds, 2, 0, nil)
	require.Error(t, err)
}

func TestLoaderEpochShape(t *testing.T) {
	for _, workers := range []int{0, 3} {
		l := loaderFixture(t, workers)
		seen := 0
		err := l.Each(context.Background(), func(b Batch) error {
			seen++
			assert.Len(t, b.Inputs, 8)
			assert.Len(t, b.Targets, 8)
			for row := range b.Inputs {
				assert.Len(t, b.Inputs[row], 4)
				assert.Len(t, b.Targets[row], 4)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, l.NumBatches(), seen, "workers=%d", workers)
	}
}

func TestLoaderCallbackErrorStops(t *testing.T) {
	sentinel := errors.New("stop here")
	for _, workers := range []int{0, 3} {
		l := loaderFixture(t, workers)
		calls := 0
		err := l.Each(context.Background(), func(Batch) error {
			calls++
			if calls == 2 {
				return sentinel
			}
			return nil
		})
		require.ErrorIs(t, err, sentinel, "workers=%d", workers)
		// Later callbacks are suppressed after the failure.
		assert.Equal(t, 2, calls, "workers=%d", workers)
	}
}

func TestLoaderContextCancel(t *testing.T) {
	l := loaderFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Each(ctx, func(Batch) error {
		t.Fatal("callback after cancellation")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoaderShufflesAcrossEpochs(t *testing.T) {
	l := loaderFixture(t, 0)
	first := [][]int{}
	require.NoError(t, l.Each(context.Background(), func(b Batch) error {
		first = append(first, b.Inputs[0])
		return nil
	}))
	second := [][]int{}
	require.NoError(t, l.Each(context.Background(), func(b Batch) error {
		second = append(second, b.Inputs[0])
		return nil
	}))
	assert.NotEqual(t, first, second, "epoch order should differ")
}
