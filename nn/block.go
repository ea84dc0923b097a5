package nn

import (
	"math/rand"

	"chargpt/tensor"
)

// Block is one transformer layer, pre-norm:
//
//	x = x + attn(ln1(x))
//	x = x + mlp(ln2(x))
type Block struct {
	Ln1  *LayerNorm
	Attn *CausalSelfAttention
	Ln2  *LayerNorm
	Mlp  *MLP
}

// NewBlock creates one transformer layer.
func NewBlock(dim, numHeads int, attnDrop, residDrop float64, rng *rand.Rand) (*Block, error) {
	ln1, err := NewLayerNorm(dim, 1e-5)
	if err != nil {
		return nil, err
	}
	attn, err := NewCausalSelfAttention(dim, numHeads, attnDrop, residDrop, rng)
	if err != nil {
		return nil, err
	}
	ln2, err := NewLayerNorm(dim, 1e-5)
	if err != nil {
		return nil, err
	}
	mlp, err := NewMLP(dim, residDrop, rng)
	if err != nil {
		return nil, err
	}
	return &Block{Ln1: ln1, Attn: attn, Ln2: ln2, Mlp: mlp}, nil
}

type blockCache struct {
	x        *tensor.Tensor // block input
	normed1  *tensor.Tensor
	attn     *attnCache
	postAttn *tensor.Tensor // after first residual
	normed2  *tensor.Tensor
	mlp      *mlpCache
}

// Forward runs the block for inference.
// x: [B,T,C] -> [B,T,C]
func (blk *Block) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	normed1, err := blk.Ln1.Forward(x)
	if err != nil {
		return nil, err
	}
	attnOut, err := blk.Attn.Forward(normed1)
	if err != nil {
		return nil, err
	}
	postAttn := addInto(x.Clone(), attnOut)

	normed2, err := blk.Ln2.Forward(postAttn)
	if err != nil {
		return nil, err
	}
	mlpOut, err := blk.Mlp.Forward(normed2)
	if err != nil {
		return nil, err
	}
	return addInto(postAttn, mlpOut), nil
}

// ForwardWithCache runs the block in training mode, saving intermediates.
func (blk *Block) ForwardWithCache(x *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, *blockCache, error) {
	cache := &blockCache{x: x}

	normed1, err := blk.Ln1.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	cache.normed1 = normed1

	attnOut, attnCache, err := blk.Attn.ForwardWithCache(normed1, rng)
	if err != nil {
		return nil, nil, err
	}
	cache.attn = attnCache

	postAttn := addInto(x.Clone(), attnOut)
	cache.postAttn = postAttn

	normed2, err := blk.Ln2.Forward(postAttn)
	if err != nil {
		return nil, nil, err
	}
	cache.normed2 = normed2

	mlpOut, mlpCache, err := blk.Mlp.ForwardWithCache(normed2, rng)
	if err != nil {
		return nil, nil, err
	}
	cache.mlp = mlpCache

	return addInto(postAttn.Clone(), mlpOut), cache, nil
}

// Backward propagates gradients through the block. Residual connections
// split the incoming gradient between the branch and the skip path.
func (blk *Block) Backward(cache *blockCache, dout *tensor.Tensor) (*tensor.Tensor, error) {
	dNormed2, err := blk.Mlp.Backward(cache.mlp, dout)
	if err != nil {
		return nil, err
	}
	dPostAttnBranch, err := blk.Ln2.Backward(cache.postAttn, dNormed2)
	if err != nil {
		return nil, err
	}
	dPostAttn := addInto(dout.Clone(), dPostAttnBranch)

	dNormed1, err := blk.Attn.Backward(cache.attn, dPostAttn)
	if err != nil {
		return nil, err
	}
	dxBranch, err := blk.Ln1.Backward(cache.x, dNormed1)
	if err != nil {
		return nil, err
	}
	return addInto(dPostAttn.Clone(), dxBranch), nil
}

// Parameters returns all trainable parameters.
func (blk *Block) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	params = append(params, blk.Ln1.Parameters()...)
	params = append(params, blk.Attn.Parameters()...)
	params = append(params, blk.Ln2.Parameters()...)
	params = append(params, blk.Mlp.Parameters()...)
	return params
}

// addInto adds b into a element-wise and returns a.
func addInto(a, b *tensor.Tensor) *tensor.Tensor {
	ad, bd := a.Data(), b.Data()
	for i := range ad {
		ad[i] += bd[i]
	}
	return a
}
