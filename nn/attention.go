package nn

import (
	"fmt"
	"math"
	"math/rand"

	"chargpt/tensor"
)

// CausalSelfAttention is multi-head self-attention with a lower-triangular
// mask: position i attends only to positions <= i. This is the correctness
// invariant of next-token training; without it logits at i would leak
// future tokens.
type CausalSelfAttention struct {
	Wq *Linear // [dim, dim]
	Wk *Linear // [dim, dim]
	Wv *Linear // [dim, dim]
	Wo *Linear // [dim, dim]

	NumHeads int
	HeadDim  int
	Dim      int

	AttnDrop  float64 // dropout on attention weights
	ResidDrop float64 // dropout on the projected output
}

// NewCausalSelfAttention creates an attention layer.
func NewCausalSelfAttention(dim, numHeads int, attnDrop, residDrop float64, rng *rand.Rand) (*CausalSelfAttention, error) {
	if dim%numHeads != 0 {
		return nil, fmt.Errorf("nn: dim %d not divisible by heads %d", dim, numHeads)
	}
	wq, err := NewLinear(dim, dim, true, rng)
	if err != nil {
		return nil, err
	}
	wk, err := NewLinear(dim, dim, true, rng)
	if err != nil {
		return nil, err
	}
	wv, err := NewLinear(dim, dim, true, rng)
	if err != nil {
		return nil, err
	}
	wo, err := NewLinear(dim, dim, true, rng)
	if err != nil {
		return nil, err
	}
	return &CausalSelfAttention{
		Wq: wq, Wk: wk, Wv: wv, Wo: wo,
		NumHeads: numHeads, HeadDim: dim / numHeads, Dim: dim,
		AttnDrop: attnDrop, ResidDrop: residDrop,
	}, nil
}

// attnCache stores the intermediates Backward needs.
type attnCache struct {
	x        *tensor.Tensor // layer input [B,T,C]
	q, k, v  []float64      // [B,H,T,D]
	probs    []float64      // softmax weights, pre-dropout [B,H,T,T]
	probsEff []float64      // weights actually applied to V (== probs without dropout)
	attnMask []float64      // dropout mask over probs, nil if disabled
	concat   *tensor.Tensor // merged head outputs before Wo [B,T,C]
	outMask  []float64      // residual dropout mask, nil if disabled
}

// Forward runs attention for inference: no dropout, no cache.
// x: [B,T,C] -> [B,T,C]
func (a *CausalSelfAttention) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, _, err := a.run(x, nil)
	return out, err
}

// ForwardWithCache runs attention in training mode, applying dropout and
// recording intermediates for Backward.
func (a *CausalSelfAttention) ForwardWithCache(x *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, *attnCache, error) {
	return a.run(x, rng)
}

func (a *CausalSelfAttention) run(x *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, *attnCache, error) {
	if x.NDim() != 3 || x.Dim(2) != a.Dim {
		return nil, nil, fmt.Errorf("nn: attention input %v, want [B,T,%d]", x.Shape(), a.Dim)
	}
	B, T := x.Dim(0), x.Dim(1)
	H, D := a.NumHeads, a.HeadDim

	qp, err := a.Wq.Forward(x)
	if err != nil {
		return nil, nil, fmt.Errorf("nn: Wq: %w", err)
	}
	kp, err := a.Wk.Forward(x)
	if err != nil {
		return nil, nil, fmt.Errorf("nn: Wk: %w", err)
	}
	vp, err := a.Wv.Forward(x)
	if err != nil {
		return nil, nil, fmt.Errorf("nn: Wv: %w", err)
	}

	q := splitHeads(qp.Data(), B, T, H, D)
	k := splitHeads(kp.Data(), B, T, H, D)
	v := splitHeads(vp.Data(), B, T, H, D)

	scale := 1 / math.Sqrt(float64(D))
	probs := make([]float64, B*H*T*T)

	for b := 0; b < B; b++ {
		for h := 0; h < H; h++ {
			bhOff := (b*H + h) * T * D
			scOff := (b*H + h) * T * T
			for i := 0; i < T; i++ {
				// Scaled scores over positions <= i; the rest stay
				// masked out of the softmax entirely.
				maxVal := math.Inf(-1)
				for j := 0; j <= i; j++ {
					dot := 0.0
					for d := 0; d < D; d++ {
						dot += q[bhOff+i*D+d] * k[bhOff+j*D+d]
					}
					dot *= scale
					probs[scOff+i*T+j] = dot
					if dot > maxVal {
						maxVal = dot
					}
				}
				sumExp := 0.0
				for j := 0; j <= i; j++ {
					e := math.Exp(probs[scOff+i*T+j] - maxVal)
					probs[scOff+i*T+j] = e
					sumExp += e
				}
				for j := 0; j <= i; j++ {
					probs[scOff+i*T+j] /= sumExp
				}
			}
		}
	}

	probsEff := probs
	var attnMask []float64
	if rng != nil {
		attnMask = dropoutMask(len(probs), a.AttnDrop, rng)
		if attnMask != nil {
			probsEff = make([]float64, len(probs))
			copy(probsEff, probs)
			applyMask(probsEff, attnMask)
		}
	}

	// out = probs @ V per head.
	headOut := make([]float64, B*H*T*D)
	for b := 0; b < B; b++ {
		for h := 0; h < H; h++ {
			bhOff := (b*H + h) * T * D
			scOff := (b*H + h) * T * T
			for i := 0; i < T; i++ {
				for d := 0; d < D; d++ {
					sum := 0.0
					for j := 0; j <= i; j++ {
						sum += probsEff[scOff+i*T+j] * v[bhOff+j*D+d]
					}
					headOut[bhOff+i*D+d] = sum
				}
			}
		}
	}

	concat, err := tensor.FromSlice(mergeHeads(headOut, B, T, H, D), tensor.Shape{B, T, a.Dim})
	if err != nil {
		return nil, nil, err
	}
	out, err := a.Wo.Forward(concat)
	if err != nil {
		return nil, nil, fmt.Errorf("nn: Wo: %w", err)
	}

	var outMask []float64
	if rng != nil {
		outMask = dropoutMask(out.NumElements(), a.ResidDrop, rng)
		applyMask(out.Data(), outMask)
	}

	if rng == nil {
		return out, nil, nil
	}
	cache := &attnCache{
		x: x, q: q, k: k, v: v,
		probs: probs, probsEff: probsEff, attnMask: attnMask,
		concat: concat, outMask: outMask,
	}
	return out, cache, nil
}

// Backward propagates gradients through the attention layer, accumulating
// projection weight gradients and returning the input gradient.
func (a *CausalSelfAttention) Backward(cache *attnCache, dout *tensor.Tensor) (*tensor.Tensor, error) {
	B, T := cache.x.Dim(0), cache.x.Dim(1)
	H, D := a.NumHeads, a.HeadDim

	// Residual dropout routes gradients only through kept units.
	dy := dout.Clone()
	applyMask(dy.Data(), cache.outMask)

	dConcat, err := a.Wo.Backward(cache.concat, dy)
	if err != nil {
		return nil, fmt.Errorf("nn: Wo backward: %w", err)
	}
	dHeadOut := splitHeads(dConcat.Data(), B, T, H, D)

	scale := 1 / math.Sqrt(float64(D))
	dQ := make([]float64, len(cache.q))
	dK := make([]float64, len(cache.k))
	dV := make([]float64, len(cache.v))
	dProbs := make([]float64, T*T)

	for b := 0; b < B; b++ {
		for h := 0; h < H; h++ {
			bhOff := (b*H + h) * T * D
			scOff := (b*H + h) * T * T

			// dV = probsEff^T @ dHeadOut
			for j := 0; j < T; j++ {
				for d := 0; d < D; d++ {
					sum := 0.0
					for i := j; i < T; i++ {
						sum += cache.probsEff[scOff+i*T+j] * dHeadOut[bhOff+i*D+d]
					}
					dV[bhOff+j*D+d] = sum
				}
			}

			// dProbsEff = dHeadOut @ V^T, then back through the dropout
			// mask to the softmax output.
			for i := 0; i < T; i++ {
				for j := 0; j <= i; j++ {
					sum := 0.0
					for d := 0; d < D; d++ {
						sum += dHeadOut[bhOff+i*D+d] * cache.v[bhOff+j*D+d]
					}
					if cache.attnMask != nil {
						sum *= cache.attnMask[scOff+i*T+j]
					}
					dProbs[i*T+j] = sum
				}
			}

			// Softmax backward per row, folding in the score scale:
			// dScore = p * (dp - sum_j dp_j p_j) * scale.
			for i := 0; i < T; i++ {
				dot := 0.0
				for j := 0; j <= i; j++ {
					dot += dProbs[i*T+j] * cache.probs[scOff+i*T+j]
				}
				for j := 0; j <= i; j++ {
					dProbs[i*T+j] = cache.probs[scOff+i*T+j] * (dProbs[i*T+j] - dot) * scale
				}
			}

			// dQ = dScore @ K, dK = dScore^T @ Q.
			for i := 0; i < T; i++ {
				for d := 0; d < D; d++ {
					sum := 0.0
					for j := 0; j <= i; j++ {
						sum += dProbs[i*T+j] * cache.k[bhOff+j*D+d]
					}
					dQ[bhOff+i*D+d] = sum
				}
			}
			for j := 0; j < T; j++ {
				for d := 0; d < D; d++ {
					sum := 0.0
					for i := j; i < T; i++ {
						sum += dProbs[i*T+j] * cache.q[bhOff+i*D+d]
					}
					dK[bhOff+j*D+d] = sum
				}
			}
		}
	}

	shape := tensor.Shape{B, T, a.Dim}
	dQt, err := tensor.FromSlice(mergeHeads(dQ, B, T, H, D), shape)
	if err != nil {
		return nil, err
	}
	dKt, err := tensor.FromSlice(mergeHeads(dK, B, T, H, D), shape)
	if err != nil {
		return nil, err
	}
	dVt, err := tensor.FromSlice(mergeHeads(dV, B, T, H, D), shape)
	if err != nil {
		return nil, err
	}

	dx1, err := a.Wq.Backward(cache.x, dQt)
	if err != nil {
		return nil, err
	}
	dx2, err := a.Wk.Backward(cache.x, dKt)
	if err != nil {
		return nil, err
	}
	dx3, err := a.Wv.Backward(cache.x, dVt)
	if err != nil {
		return nil, err
	}

	dx := dx1
	dxd, d2, d3 := dx.Data(), dx2.Data(), dx3.Data()
	for i := range dxd {
		dxd[i] += d2[i] + d3[i]
	}
	return dx, nil
}

// Parameters returns all trainable parameters.
func (a *CausalSelfAttention) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	params = append(params, a.Wq.Parameters()...)
	params = append(params, a.Wk.Parameters()...)
	params = append(params, a.Wv.Parameters()...)
	params = append(params, a.Wo.Parameters()...)
	return params
}

// splitHeads rearranges [B,T,H*D] (flat) into [B,H,T,D] (flat).
func splitHeads(data []float64, B, T, H, D int) []float64 {
	out := make([]float64, len(data))
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			for h := 0; h < H; h++ {
				src := (b*T+t)*H*D + h*D
				dst := ((b*H+h)*T + t) * D
				copy(out[dst:dst+D], data[src:src+D])
			}
		}
	}
	return out
}

// mergeHeads rearranges [B,H,T,D] (flat) back into [B,T,H*D] (flat).
func mergeHeads(data []float64, B, T, H, D int) []float64 {
	out := make([]float64, len(data))
	for b := 0; b < B; b++ {
		for h := 0; h < H; h++ {
			for t := 0; t < T; t++ {
				src := ((b*H+h)*T + t) * D
				dst := (b*T+t)*H*D + h*D
				copy(out[dst:dst+D], data[src:src+D])
			}
		}
	}
	return out
}
