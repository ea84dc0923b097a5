package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// Finite-difference check of the full backward pass through every layer.
// Dropout is zero so Forward and ForwardWithCache compute the same
// function; probing a handful of entries per tensor keeps this fast.
func TestGPTGradients(t *testing.T) {
	const (
		eps    = 1e-5
		tol    = 1e-4
		probes = 6
	)

	rng := rand.New(rand.NewSource(11))
	cfg := Config{
		VocabSize: 7,
		BlockSize: 5,
		NLayer:    2,
		NHead:     2,
		NEmbd:     8,
	}
	m, err := NewGPT(cfg, rng)
	require.NoError(t, err)

	inputs := randTokens(rng, 2, 5, cfg.VocabSize)
	targets := randTokens(rng, 2, 5, cfg.VocabSize)

	lossAt := func() float64 {
		logits, err := m.Forward(inputs)
		require.NoError(t, err)
		loss, _, err := CrossEntropy(logits, targets)
		require.NoError(t, err)
		return loss
	}

	logits, cache, err := m.ForwardWithCache(inputs)
	require.NoError(t, err)
	_, dLogits, err := CrossEntropy(logits, targets)
	require.NoError(t, err)
	require.NoError(t, m.Backward(cache, dLogits))

	for pi, p := range m.Parameters() {
		dat := p.Data()
		grad := p.Grad()
		require.NotNil(t, grad, "param %d received no gradient", pi)

		for probe := 0; probe < probes; probe++ {
			i := rng.Intn(len(dat))
			orig := dat[i]

			dat[i] = orig + eps
			plus := lossAt()
			dat[i] = orig - eps
			minus := lossAt()
			dat[i] = orig

			numeric := (plus - minus) / (2 * eps)
			analytic := grad[i]
			rel := math.Abs(numeric-analytic) /
				math.Max(1e-8, math.Abs(numeric)+math.Abs(analytic))
			require.LessOrEqual(t, rel, tol,
				"param %d index %d: numeric %v analytic %v", pi, i, numeric, analytic)
		}
	}
}

// Gradients from two identical passes must accumulate, not overwrite.
func TestGPTGradAccumulation(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	m, err := NewGPT(Config{VocabSize: 5, BlockSize: 4, NLayer: 1, NHead: 1, NEmbd: 4}, rng)
	require.NoError(t, err)

	inputs := [][]int{{0, 1, 2, 3}}
	targets := [][]int{{1, 2, 3, 4}}

	pass := func() {
		logits, cache, err := m.ForwardWithCache(inputs)
		require.NoError(t, err)
		_, dLogits, err := CrossEntropy(logits, targets)
		require.NoError(t, err)
		require.NoError(t, m.Backward(cache, dLogits))
	}

	pass()
	p0 := m.Parameters()[0]
	single := append([]float64(nil), p0.Grad()...)

	pass()
	for i, g := range p0.Grad() {
		require.InDelta(t, 2*single[i], g, 1e-12)
	}
}
