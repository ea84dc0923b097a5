package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		VocabSize: 13,
		BlockSize: 8,
		NLayer:    2,
		NHead:     2,
		NEmbd:     16,
	}
}

func testModel(t *testing.T) *GPT {
	t.Helper()
	m, err := NewGPT(testConfig(), rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	return m
}

func randTokens(rng *rand.Rand, b, seq, vocab int) [][]int {
	out := make([][]int, b)
	for i := range out {
		out[i] = make([]int, seq)
		for j := range out[i] {
			out[i][j] = rng.Intn(vocab)
		}
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero vocab", func(c *Config) { c.VocabSize = 0 }},
		{"zero block", func(c *Config) { c.BlockSize = 0 }},
		{"zero layers", func(c *Config) { c.NLayer = 0 }},
		{"head mismatch", func(c *Config) { c.NHead = 3 }},
		{"negative dropout", func(c *Config) { c.AttnDrop = -0.1 }},
		{"dropout one", func(c *Config) { c.EmbdDrop = 1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
	require.NoError(t, testConfig().Validate())
}

func TestGPTForwardShape(t *testing.T) {
	m := testModel(t)
	rng := rand.New(rand.NewSource(1))

	for _, seq := range []int{1, 4, 8} {
		logits, err := m.Forward(randTokens(rng, 3, seq, 13))
		require.NoError(t, err)
		assert.Equal(t, 3, logits.Dim(0))
		assert.Equal(t, seq, logits.Dim(1))
		assert.Equal(t, 13, logits.Dim(2))
	}
}

func TestGPTForwardValidation(t *testing.T) {
	m := testModel(t)

	_, err := m.Forward([][]int{})
	require.Error(t, err, "empty batch")

	_, err = m.Forward([][]int{{}})
	require.Error(t, err, "empty sequence")

	_, err = m.Forward([][]int{make([]int, 9)})
	require.Error(t, err, "sequence longer than block size")

	_, err = m.Forward([][]int{{0, 1}, {0, 1, 2}})
	require.Error(t, err, "ragged batch")

	_, err = m.Forward([][]int{{0, 13}})
	require.Error(t, err, "token out of vocabulary")
}

// Perturbing the input at position p must leave logits at positions
// before p untouched: the causal mask forbids attending forward.
func TestGPTCausalMasking(t *testing.T) {
	m := testModel(t)
	rng := rand.New(rand.NewSource(5))

	tokens := randTokens(rng, 1, 8, 13)
	base, err := m.Forward(tokens)
	require.NoError(t, err)
	baseData := append([]float64(nil), base.Data()...)

	for p := 1; p < 8; p++ {
		mutated := randTokens(rng, 1, 8, 13)
		copy(mutated[0], tokens[0])
		mutated[0][p] = (tokens[0][p] + 1) % 13

		out, err := m.Forward(mutated)
		require.NoError(t, err)

		V := 13
		for pos := 0; pos < p; pos++ {
			for v := 0; v < V; v++ {
				i := pos*V + v
				assert.Equal(t, baseData[i], out.Data()[i],
					"perturbation at %d leaked into position %d", p, pos)
			}
		}
		// Sanity: the perturbed position itself must change.
		changed := false
		for v := 0; v < V; v++ {
			if baseData[p*V+v] != out.Data()[p*V+v] {
				changed = true
				break
			}
		}
		assert.True(t, changed)
	}
}

// With all dropout off, the training path must match the inference path.
func TestGPTCacheMatchesForward(t *testing.T) {
	m := testModel(t)
	rng := rand.New(rand.NewSource(9))
	tokens := randTokens(rng, 2, 6, 13)

	plain, err := m.Forward(tokens)
	require.NoError(t, err)
	cached, _, err := m.ForwardWithCache(tokens)
	require.NoError(t, err)

	assert.InDeltaSlice(t, plain.Data(), cached.Data(), 1e-12)
}

func TestGPTDeterministicInit(t *testing.T) {
	a, err := NewGPT(testConfig(), rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	b, err := NewGPT(testConfig(), rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	tokens := [][]int{{1, 2, 3, 4}}
	la, err := a.Forward(tokens)
	require.NoError(t, err)
	lb, err := b.Forward(tokens)
	require.NoError(t, err)
	assert.Equal(t, la.Data(), lb.Data())
}

func TestGPTParameters(t *testing.T) {
	m := testModel(t)
	params := m.Parameters()
	require.NotEmpty(t, params)

	total := 0
	for _, p := range params {
		total += p.NumElements()
	}
	assert.Equal(t, m.NumParams(), total)
	assert.Greater(t, total, 0)
}
