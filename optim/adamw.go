// Package optim provides the AdamW optimizer and learning-rate schedule
// used for training.
package optim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"chargpt/tensor"
)

// AdamW implements the AdamW optimizer (decoupled weight decay) with
// optional global-norm gradient clipping.
type AdamW struct {
	Params      []*tensor.Tensor
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
	MaxGradNorm float64 // 0 disables clipping

	m    [][]float64 // first moment
	v    [][]float64 // second moment
	step int
}

// NewAdamW creates an optimizer with LLM-tuned defaults.
func NewAdamW(params []*tensor.Tensor, lr float64) (*AdamW, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("optim: no parameters")
	}
	if lr <= 0 {
		return nil, fmt.Errorf("optim: learning rate must be positive, got %v", lr)
	}
	m := make([][]float64, len(params))
	v := make([][]float64, len(params))
	for i, p := range params {
		m[i] = make([]float64, p.NumElements())
		v[i] = make([]float64, p.NumElements())
	}
	return &AdamW{
		Params:      params,
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.95,
		Eps:         1e-8,
		WeightDecay: 0.1,
		MaxGradNorm: 1.0,
		m:           m,
		v:           v,
	}, nil
}

// Step performs one optimization step. Gradients must be accumulated on
// each parameter tensor before calling.
func (opt *AdamW) Step() {
	opt.step++

	if opt.MaxGradNorm > 0 {
		opt.clipGradNorm()
	}

	bc1 := 1 - math.Pow(opt.Beta1, float64(opt.step))
	bc2 := 1 - math.Pow(opt.Beta2, float64(opt.step))

	for i, param := range opt.Params {
		grad := param.Grad()
		if grad == nil {
			continue
		}
		pd := param.Data()
		m, v := opt.m[i], opt.v[i]

		for j, g := range grad {
			m[j] = opt.Beta1*m[j] + (1-opt.Beta1)*g
			v[j] = opt.Beta2*v[j] + (1-opt.Beta2)*g*g
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			update := mHat / (math.Sqrt(vHat) + opt.Eps)
			pd[j] -= opt.LR * (update + opt.WeightDecay*pd[j])
		}
	}
}

// ZeroGrad clears all parameter gradients.
func (opt *AdamW) ZeroGrad() {
	for _, p := range opt.Params {
		p.ZeroGrad()
	}
}

// GradNorm returns the global L2 norm over all parameter gradients.
func (opt *AdamW) GradNorm() float64 {
	sumSq := 0.0
	for _, p := range opt.Params {
		if g := p.Grad(); g != nil {
			sumSq += floats.Dot(g, g)
		}
	}
	return math.Sqrt(sumSq)
}

// clipGradNorm rescales all gradients when their global norm exceeds
// MaxGradNorm.
func (opt *AdamW) clipGradNorm() {
	norm := opt.GradNorm()
	if norm <= opt.MaxGradNorm {
		return
	}
	scale := opt.MaxGradNorm / norm
	for _, p := range opt.Params {
		if g := p.Grad(); g != nil {
			floats.Scale(scale, g)
		}
	}
}

// SetLR updates the learning rate (used by the schedule each step).
func (opt *AdamW) SetLR(lr float64) { opt.LR = lr }
