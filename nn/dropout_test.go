package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropoutMask(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	assert.Nil(t, dropoutMask(10, 0, rng), "p=0 means no mask")

	mask := dropoutMask(10000, 0.25, rng)
	require.Len(t, mask, 10000)

	// Inverted dropout: entries are 0 or 1/(1-p), and roughly p of them
	// are dropped.
	dropped := 0
	for _, m := range mask {
		switch m {
		case 0:
			dropped++
		default:
			assert.InDelta(t, 1/0.75, m, 1e-12)
		}
	}
	assert.InDelta(t, 2500, dropped, 200)
}

func TestApplyMask(t *testing.T) {
	x := []float64{1, 2, 3, 4}

	applyMask(x, nil) // no-op
	assert.Equal(t, []float64{1, 2, 3, 4}, x)

	applyMask(x, []float64{2, 0, 2, 0})
	assert.Equal(t, []float64{2, 0, 6, 0}, x)
}

// With nonzero dropout the cached training pass must differ from the
// deterministic inference pass.
func TestDropoutPerturbsTrainingPass(t *testing.T) {
	cfg := testConfig()
	cfg.EmbdDrop = 0.5
	cfg.ResidDrop = 0.5
	cfg.AttnDrop = 0.5

	m, err := NewGPT(cfg, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	tokens := [][]int{{1, 2, 3, 4, 5, 6}}
	plain, err := m.Forward(tokens)
	require.NoError(t, err)
	cached, _, err := m.ForwardWithCache(tokens)
	require.NoError(t, err)

	assert.NotEqual(t, plain.Data(), cached.Data())
}
