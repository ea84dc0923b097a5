package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargpt/tensor"
)

func TestCrossEntropyUniform(t *testing.T) {
	// Uniform logits score every target at -log(1/V) = log(V).
	B, T, V := 2, 3, 7
	logits := tensor.New(tensor.Shape{B, T, V})
	targets := [][]int{{0, 1, 2}, {3, 4, 5}}

	loss, grad, err := CrossEntropy(logits, targets)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(float64(V)), loss, 1e-12)
	require.NotNil(t, grad)
	assert.True(t, grad.Shape().Equal(tensor.Shape{B, T, V}))
}

func TestCrossEntropyGradSumsToZero(t *testing.T) {
	// softmax - one_hot sums to zero over the vocabulary at each position.
	logits, err := tensor.FromSlice([]float64{
		1, -2, 0.5, 3,
		0, 0, 0, 0,
	}, tensor.Shape{1, 2, 4})
	require.NoError(t, err)

	_, grad, err := CrossEntropy(logits, [][]int{{3, 0}})
	require.NoError(t, err)

	gd := grad.Data()
	for pos := 0; pos < 2; pos++ {
		sum := 0.0
		for v := 0; v < 4; v++ {
			sum += gd[pos*4+v]
		}
		assert.InDelta(t, 0.0, sum, 1e-12, "position %d", pos)
	}
}

func TestCrossEntropyFiniteDiff(t *testing.T) {
	const eps = 1e-6
	vals := []float64{0.3, -1.1, 2.0, 0.7, -0.2, 1.5}
	targets := [][]int{{2, 0}}

	mk := func(v []float64) *tensor.Tensor {
		x, err := tensor.FromSlice(append([]float64(nil), v...), tensor.Shape{1, 2, 3})
		require.NoError(t, err)
		return x
	}

	_, grad, err := CrossEntropy(mk(vals), targets)
	require.NoError(t, err)

	for i := range vals {
		plus := append([]float64(nil), vals...)
		plus[i] += eps
		lp, _, err := CrossEntropy(mk(plus), targets)
		require.NoError(t, err)

		minus := append([]float64(nil), vals...)
		minus[i] -= eps
		lm, _, err := CrossEntropy(mk(minus), targets)
		require.NoError(t, err)

		numeric := (lp - lm) / (2 * eps)
		assert.InDelta(t, numeric, grad.Data()[i], 1e-7, "logit %d", i)
	}
}

func TestCrossEntropyStability(t *testing.T) {
	logits, err := tensor.FromSlice([]float64{1000, 999, 998}, tensor.Shape{1, 1, 3})
	require.NoError(t, err)
	loss, _, err := CrossEntropy(logits, [][]int{{0}})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(loss))
	assert.False(t, math.IsInf(loss, 0))
}

func TestCrossEntropyValidation(t *testing.T) {
	logits := tensor.New(tensor.Shape{1, 2, 3})

	_, _, err := CrossEntropy(logits, [][]int{{0}})
	require.Error(t, err, "target row length mismatch")

	_, _, err = CrossEntropy(logits, [][]int{{0, 1}, {0, 1}})
	require.Error(t, err, "batch size mismatch")

	_, _, err = CrossEntropy(logits, [][]int{{0, 3}})
	require.Error(t, err, "target out of vocabulary")

	bad := tensor.New(tensor.Shape{2, 3})
	_, _, err = CrossEntropy(bad, [][]int{{0}})
	require.Error(t, err, "wrong rank")
}
