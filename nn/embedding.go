package nn

import (
	"fmt"
	"math/rand"

	"chargpt/tensor"
)

// Embedding is a lookup table of learned vectors. It serves both the token
// embedding (indexed by token id) and the positional embedding (indexed by
// position).
type Embedding struct {
	Weight *tensor.Tensor // [num, dim]
	Num    int
	Dim    int
}

// NewEmbedding creates an embedding table with normally distributed entries.
func NewEmbedding(num, dim int, rng *rand.Rand) (*Embedding, error) {
	if num < 1 || dim < 1 {
		return nil, fmt.Errorf("nn: embedding dims must be positive, got %dx%d", num, dim)
	}
	data := make([]float64, num*dim)
	for i := range data {
		data[i] = rng.NormFloat64() * initStd
	}
	w, err := tensor.FromSlice(data, tensor.Shape{num, dim})
	if err != nil {
		return nil, err
	}
	return &Embedding{Weight: w, Num: num, Dim: dim}, nil
}

// Forward gathers the rows for the given indices.
// ids: [n] -> output: [n, dim]
func (e *Embedding) Forward(ids []int) (*tensor.Tensor, error) {
	out := tensor.New(tensor.Shape{len(ids), e.Dim})
	wd, od := e.Weight.Data(), out.Data()
	for i, id := range ids {
		if id < 0 || id >= e.Num {
			return nil, fmt.Errorf("nn: embedding index %d out of range [0,%d)", id, e.Num)
		}
		copy(od[i*e.Dim:(i+1)*e.Dim], wd[id*e.Dim:(id+1)*e.Dim])
	}
	return out, nil
}

// Backward scatter-adds dout rows into the table gradient.
// ids must be the slice passed to Forward; dout: [len(ids), dim].
func (e *Embedding) Backward(ids []int, dout *tensor.Tensor) error {
	if dout.NumElements() != len(ids)*e.Dim {
		return fmt.Errorf("nn: embedding grad %v does not match %d ids", dout.Shape(), len(ids))
	}
	dW := make([]float64, e.Num*e.Dim)
	dd := dout.Data()
	for i, id := range ids {
		for d := 0; d < e.Dim; d++ {
			dW[id*e.Dim+d] += dd[i*e.Dim+d]
		}
	}
	e.Weight.AccumGrad(dW)
	return nil
}

// Parameters returns the trainable parameters.
func (e *Embedding) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{e.Weight}
}
