// Package ops provides the functional tensor operations the model layers
// are built from. Matrix products are delegated to gonum, which shares the
// tensors' float64 backing slices without copying.
package ops

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"chargpt/tensor"
)

// MatMul computes a @ b for a [m,k] and b [k,n].
func MatMul(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a.NDim() != 2 || b.NDim() != 2 {
		return nil, fmt.Errorf("ops: matmul requires 2D tensors, got %v and %v", a.Shape(), b.Shape())
	}
	m, k := a.Dim(0), a.Dim(1)
	k2, n := b.Dim(0), b.Dim(1)
	if k != k2 {
		return nil, fmt.Errorf("ops: matmul inner dims %d and %d do not match", k, k2)
	}
	am := mat.NewDense(m, k, a.Data())
	bm := mat.NewDense(k2, n, b.Data())
	out := tensor.New(tensor.Shape{m, n})
	om := mat.NewDense(m, n, out.Data())
	om.Mul(am, bm)
	return out, nil
}

// MatMulTB computes a @ b^T for a [m,k] and b [n,k].
func MatMulTB(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a.NDim() != 2 || b.NDim() != 2 {
		return nil, fmt.Errorf("ops: matmul requires 2D tensors, got %v and %v", a.Shape(), b.Shape())
	}
	m, k := a.Dim(0), a.Dim(1)
	n, k2 := b.Dim(0), b.Dim(1)
	if k != k2 {
		return nil, fmt.Errorf("ops: matmul inner dims %d and %d do not match", k, k2)
	}
	am := mat.NewDense(m, k, a.Data())
	bm := mat.NewDense(n, k2, b.Data())
	out := tensor.New(tensor.Shape{m, n})
	om := mat.NewDense(m, n, out.Data())
	om.Mul(am, bm.T())
	return out, nil
}

// MatMulTA computes a^T @ b for a [k,m] and b [k,n].
func MatMulTA(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a.NDim() != 2 || b.NDim() != 2 {
		return nil, fmt.Errorf("ops: matmul requires 2D tensors, got %v and %v", a.Shape(), b.Shape())
	}
	k, m := a.Dim(0), a.Dim(1)
	k2, n := b.Dim(0), b.Dim(1)
	if k != k2 {
		return nil, fmt.Errorf("ops: matmul inner dims %d and %d do not match", k, k2)
	}
	am := mat.NewDense(k, m, a.Data())
	bm := mat.NewDense(k2, n, b.Data())
	out := tensor.New(tensor.Shape{m, n})
	om := mat.NewDense(m, n, out.Data())
	om.Mul(am.T(), bm)
	return out, nil
}

// Add performs element-wise addition of same-shape tensors.
func Add(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if !a.Shape().Equal(b.Shape()) {
		return nil, fmt.Errorf("ops: add shape mismatch %v vs %v", a.Shape(), b.Shape())
	}
	out := a.Clone()
	floats.Add(out.Data(), b.Data())
	return out, nil
}

// AddBias adds a row vector bias [cols] to every row of x [..., cols],
// in place.
func AddBias(x *tensor.Tensor, bias []float64) error {
	cols := len(bias)
	data := x.Data()
	if len(data)%cols != 0 {
		return fmt.Errorf("ops: bias length %d does not divide tensor size %d", cols, len(data))
	}
	for off := 0; off < len(data); off += cols {
		floats.Add(data[off:off+cols], bias)
	}
	return nil
}

// Softmax converts a logit vector to probabilities in place,
// numerically stable.
func Softmax(v []float64) {
	if len(v) == 0 {
		return
	}
	max := floats.Max(v)
	sum := 0.0
	for i, x := range v {
		v[i] = math.Exp(x - max)
		sum += v[i]
	}
	floats.Scale(1/sum, v)
}

// Argmax returns the index of the largest element, or -1 for an empty slice.
func Argmax(v []float64) int {
	if len(v) == 0 {
		return -1
	}
	return floats.MaxIdx(v)
}

const geluC = 0.044715

// Gelu applies the tanh-approximated GELU activation element-wise,
// returning a new tensor.
func Gelu(x *tensor.Tensor) *tensor.Tensor {
	c := math.Sqrt(2.0 / math.Pi)
	out := tensor.New(x.Shape())
	src, dst := x.Data(), out.Data()
	for i, v := range src {
		dst[i] = 0.5 * v * (1 + math.Tanh(c*(v+geluC*v*v*v)))
	}
	return out
}

// GeluBackward computes dout * gelu'(x), returning a new tensor.
func GeluBackward(x, dout *tensor.Tensor) *tensor.Tensor {
	c := math.Sqrt(2.0 / math.Pi)
	out := tensor.New(x.Shape())
	xd, dd, dst := x.Data(), dout.Data(), out.Data()
	for i, v := range xd {
		inner := c * (v + geluC*v*v*v)
		th := math.Tanh(inner)
		dinner := c * (1 + 3*geluC*v*v)
		dst[i] = dd[i] * (0.5*(1+th) + 0.5*v*(1-th*th)*dinner)
	}
	return out
}
