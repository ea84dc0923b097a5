// Package nn implements the GPT model: its layers, their manual backward
// passes, and the cross-entropy training loss.
package nn

import (
	"fmt"
	"math/rand"

	"chargpt/ops"
	"chargpt/tensor"
)

// initStd is the standard deviation used for weight initialization.
const initStd = 0.02

// Linear implements y = x @ W^T + bias.
type Linear struct {
	Weight *tensor.Tensor // [outFeatures, inFeatures]
	Bias   *tensor.Tensor // [outFeatures] or nil
	InF    int
	OutF   int
}

// NewLinear creates a linear layer with normally distributed weights and
// zero bias.
func NewLinear(inFeatures, outFeatures int, bias bool, rng *rand.Rand) (*Linear, error) {
	if inFeatures < 1 || outFeatures < 1 {
		return nil, fmt.Errorf("nn: linear dims must be positive, got %dx%d", inFeatures, outFeatures)
	}
	wData := make([]float64, outFeatures*inFeatures)
	for i := range wData {
		wData[i] = rng.NormFloat64() * initStd
	}
	w, err := tensor.FromSlice(wData, tensor.Shape{outFeatures, inFeatures})
	if err != nil {
		return nil, err
	}
	l := &Linear{Weight: w, InF: inFeatures, OutF: outFeatures}
	if bias {
		l.Bias = tensor.New(tensor.Shape{outFeatures})
	}
	return l, nil
}

// Forward computes y = x @ W^T + bias.
// x: [..., inF] -> [..., outF]
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	rows := x.NumElements() / l.InF
	if rows*l.InF != x.NumElements() {
		return nil, fmt.Errorf("nn: linear input %v not divisible by inF %d", x.Shape(), l.InF)
	}
	x2d, err := x.View(tensor.Shape{rows, l.InF})
	if err != nil {
		return nil, err
	}
	out, err := ops.MatMulTB(x2d, l.Weight)
	if err != nil {
		return nil, fmt.Errorf("nn: linear forward: %w", err)
	}
	if l.Bias != nil {
		if err := ops.AddBias(out, l.Bias.Data()); err != nil {
			return nil, err
		}
	}
	outShape := x.Shape().Clone()
	outShape[len(outShape)-1] = l.OutF
	return out.View(outShape)
}

// Backward accumulates weight and bias gradients and returns the gradient
// with respect to the input. x must be the tensor passed to Forward.
func (l *Linear) Backward(x, dout *tensor.Tensor) (*tensor.Tensor, error) {
	rows := x.NumElements() / l.InF
	x2d, err := x.View(tensor.Shape{rows, l.InF})
	if err != nil {
		return nil, err
	}
	d2d, err := dout.View(tensor.Shape{rows, l.OutF})
	if err != nil {
		return nil, err
	}

	// dW = dout^T @ x -> [outF, inF]
	dW, err := ops.MatMulTA(d2d, x2d)
	if err != nil {
		return nil, fmt.Errorf("nn: linear backward: %w", err)
	}
	l.Weight.AccumGrad(dW.Data())

	// dBias = column sums of dout.
	if l.Bias != nil {
		dB := make([]float64, l.OutF)
		dd := d2d.Data()
		for off := 0; off < len(dd); off += l.OutF {
			for o := 0; o < l.OutF; o++ {
				dB[o] += dd[off+o]
			}
		}
		l.Bias.AccumGrad(dB)
	}

	// dx = dout @ W -> [rows, inF]
	dx, err := ops.MatMul(d2d, l.Weight)
	if err != nil {
		return nil, err
	}
	return dx.View(x.Shape())
}

// Parameters returns the trainable parameters.
func (l *Linear) Parameters() []*tensor.Tensor {
	if l.Bias != nil {
		return []*tensor.Tensor{l.Weight, l.Bias}
	}
	return []*tensor.Tensor{l.Weight}
}
