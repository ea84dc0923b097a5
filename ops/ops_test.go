package ops

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargpt/tensor"
)

func mustTensor(t *testing.T, data []float64, shape tensor.Shape) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromSlice(data, shape)
	require.NoError(t, err)
	return x
}

func TestMatMul(t *testing.T) {
	a := mustTensor(t, []float64{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	b := mustTensor(t, []float64{7, 8, 9, 10, 11, 12}, tensor.Shape{3, 2})

	c, err := MatMul(a, b)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, c.Shape())
	assert.InDeltaSlice(t, []float64{58, 64, 139, 154}, c.Data(), 1e-12)

	_, err = MatMul(a, a)
	require.Error(t, err, "inner dimensions must agree")
}

func TestMatMulTransposedVariants(t *testing.T) {
	a := mustTensor(t, []float64{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	b := mustTensor(t, []float64{7, 8, 9, 10, 11, 12}, tensor.Shape{2, 3})

	// a @ bT checked against the hand-transposed product.
	bT := mustTensor(t, []float64{7, 10, 8, 11, 9, 12}, tensor.Shape{3, 2})
	want, err := MatMul(a, bT)
	require.NoError(t, err)
	got, err := MatMulTB(a, b)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Data(), got.Data(), 1e-12)

	// aT @ b likewise.
	aT := mustTensor(t, []float64{1, 4, 2, 5, 3, 6}, tensor.Shape{3, 2})
	want, err = MatMul(aT, b)
	require.NoError(t, err)
	got, err = MatMulTA(a, b)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 3}, got.Shape())
	assert.InDeltaSlice(t, want.Data(), got.Data(), 1e-12)
}

func TestAdd(t *testing.T) {
	a := mustTensor(t, []float64{1, 2, 3}, tensor.Shape{3})
	b := mustTensor(t, []float64{10, 20, 30}, tensor.Shape{3})

	c, err := Add(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 22, 33}, c.Data())
	assert.Equal(t, []float64{1, 2, 3}, a.Data(), "inputs are untouched")

	_, err = Add(a, mustTensor(t, []float64{1, 2}, tensor.Shape{2}))
	require.Error(t, err)
}

func TestAddBias(t *testing.T) {
	x := mustTensor(t, []float64{1, 2, 3, 4}, tensor.Shape{2, 2})
	require.NoError(t, AddBias(x, []float64{10, 20}))
	assert.Equal(t, []float64{11, 22, 13, 24}, x.Data())

	require.Error(t, AddBias(x, []float64{1, 2, 3}))
}

func TestSoftmax(t *testing.T) {
	v := []float64{1, 2, 3}
	Softmax(v)
	sum := 0.0
	for _, p := range v {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.True(t, v[2] > v[1] && v[1] > v[0])
}

func TestSoftmaxLargeValues(t *testing.T) {
	// Without max subtraction these would overflow to +Inf.
	v := []float64{1000, 1001, 1002}
	Softmax(v)
	for _, p := range v {
		assert.False(t, math.IsNaN(p))
		assert.False(t, math.IsInf(p, 0))
	}
	assert.InDelta(t, 1.0, v[0]+v[1]+v[2], 1e-12)
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 1, Argmax([]float64{0.1, 0.7, 0.2}))
	assert.Equal(t, 0, Argmax([]float64{5}))
	assert.Equal(t, -1, Argmax(nil))
}

func TestGelu(t *testing.T) {
	x := mustTensor(t, []float64{-3, 0, 3}, tensor.Shape{3})
	y := Gelu(x)

	// GELU(0) = 0; large positive inputs pass through, large negative die.
	assert.InDelta(t, 0.0, y.Data()[1], 1e-12)
	assert.InDelta(t, 3.0, y.Data()[2], 1e-2)
	assert.InDelta(t, 0.0, y.Data()[0], 1e-2)
}

func TestGeluBackwardFiniteDiff(t *testing.T) {
	const eps = 1e-6
	xs := []float64{-2, -0.5, 0, 0.5, 2}
	x := mustTensor(t, xs, tensor.Shape{len(xs)})
	dout := mustTensor(t, []float64{1, 1, 1, 1, 1}, tensor.Shape{len(xs)})

	dx := GeluBackward(x, dout)
	for i, v := range xs {
		plus := Gelu(mustTensor(t, []float64{v + eps}, tensor.Shape{1})).Data()[0]
		minus := Gelu(mustTensor(t, []float64{v - eps}, tensor.Shape{1})).Data()[0]
		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, dx.Data()[i], 1e-6, "x=%v", v)
	}
}
