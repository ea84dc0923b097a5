package nn

import (
	"fmt"
	"math/rand"

	"chargpt/ops"
	"chargpt/tensor"
)

// MLP is the position-wise feed-forward block: expand to 4x the embedding
// width, GELU, project back, residual dropout.
type MLP struct {
	Fc   *Linear // [dim, 4*dim]
	Proj *Linear // [4*dim, dim]
	Drop float64
}

// NewMLP creates the feed-forward block for the given embedding width.
func NewMLP(dim int, drop float64, rng *rand.Rand) (*MLP, error) {
	fc, err := NewLinear(dim, 4*dim, true, rng)
	if err != nil {
		return nil, err
	}
	proj, err := NewLinear(4*dim, dim, true, rng)
	if err != nil {
		return nil, err
	}
	return &MLP{Fc: fc, Proj: proj, Drop: drop}, nil
}

type mlpCache struct {
	x     *tensor.Tensor // layer input
	fcOut *tensor.Tensor // pre-activation
	act   *tensor.Tensor // post-GELU
	mask  []float64      // dropout mask, nil if disabled
}

// Forward runs the MLP for inference (no dropout).
// x: [B,T,C] -> [B,T,C]
func (m *MLP) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, _, err := m.run(x, nil)
	return out, err
}

// ForwardWithCache runs the MLP in training mode.
func (m *MLP) ForwardWithCache(x *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, *mlpCache, error) {
	return m.run(x, rng)
}

func (m *MLP) run(x *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, *mlpCache, error) {
	fcOut, err := m.Fc.Forward(x)
	if err != nil {
		return nil, nil, fmt.Errorf("nn: mlp fc: %w", err)
	}
	act := ops.Gelu(fcOut)
	out, err := m.Proj.Forward(act)
	if err != nil {
		return nil, nil, fmt.Errorf("nn: mlp proj: %w", err)
	}
	if rng == nil {
		return out, nil, nil
	}
	mask := dropoutMask(out.NumElements(), m.Drop, rng)
	applyMask(out.Data(), mask)
	return out, &mlpCache{x: x, fcOut: fcOut, act: act, mask: mask}, nil
}

// Backward accumulates weight gradients and returns the input gradient.
func (m *MLP) Backward(cache *mlpCache, dout *tensor.Tensor) (*tensor.Tensor, error) {
	dy := dout.Clone()
	applyMask(dy.Data(), cache.mask)

	dAct, err := m.Proj.Backward(cache.act, dy)
	if err != nil {
		return nil, err
	}
	dFc := ops.GeluBackward(cache.fcOut, dAct)
	return m.Fc.Backward(cache.x, dFc)
}

// Parameters returns all trainable parameters.
func (m *MLP) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	params = append(params, m.Fc.Parameters()...)
	params = append(params, m.Proj.Parameters()...)
	return params
}
