package nn

import (
	"fmt"
	"math"

	"chargpt/tensor"
)

// LayerNorm normalizes the last dimension to zero mean and unit variance,
// then applies a learned scale and shift.
type LayerNorm struct {
	Gamma *tensor.Tensor // [normSize], initialized to 1
	Beta  *tensor.Tensor // [normSize], initialized to 0
	Eps   float64
}

// NewLayerNorm creates a layer norm with gamma=1, beta=0.
func NewLayerNorm(normSize int, eps float64) (*LayerNorm, error) {
	if normSize < 1 {
		return nil, fmt.Errorf("nn: layer norm size must be positive, got %d", normSize)
	}
	gamma := tensor.New(tensor.Shape{normSize})
	for i := range gamma.Data() {
		gamma.Data()[i] = 1
	}
	return &LayerNorm{Gamma: gamma, Beta: tensor.New(tensor.Shape{normSize}), Eps: eps}, nil
}

// Forward applies normalization over the last dimension.
// x: [..., normSize] -> same shape.
func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	n := ln.Gamma.NumElements()
	if x.NumElements()%n != 0 {
		return nil, fmt.Errorf("nn: layer norm size %d does not divide input %v", n, x.Shape())
	}
	out := tensor.New(x.Shape())
	xd, od := x.Data(), out.Data()
	gd, bd := ln.Gamma.Data(), ln.Beta.Data()

	for off := 0; off < len(xd); off += n {
		row := xd[off : off+n]
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(n)
		variance := 0.0
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(n)
		invStd := 1 / math.Sqrt(variance+ln.Eps)
		for i, v := range row {
			od[off+i] = (v-mean)*invStd*gd[i] + bd[i]
		}
	}
	return out, nil
}

// Backward accumulates gamma/beta gradients and returns the input gradient.
// Forward statistics are recomputed from x.
func (ln *LayerNorm) Backward(x, dout *tensor.Tensor) (*tensor.Tensor, error) {
	n := ln.Gamma.NumElements()
	if x.NumElements()%n != 0 {
		return nil, fmt.Errorf("nn: layer norm size %d does not divide input %v", n, x.Shape())
	}
	xd, dd := x.Data(), dout.Data()
	gd := ln.Gamma.Data()

	dx := tensor.New(x.Shape())
	dxd := dx.Data()
	dGamma := make([]float64, n)
	dBeta := make([]float64, n)
	xNorm := make([]float64, n)
	dyHat := make([]float64, n)

	for off := 0; off < len(xd); off += n {
		row := xd[off : off+n]
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(n)
		variance := 0.0
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(n)
		invStd := 1 / math.Sqrt(variance+ln.Eps)

		for i, v := range row {
			xNorm[i] = (v - mean) * invStd
		}
		for i := 0; i < n; i++ {
			dGamma[i] += dd[off+i] * xNorm[i]
			dBeta[i] += dd[off+i]
		}

		// dx = invStd/N * (N*dyHat - sum(dyHat) - xNorm*sum(dyHat*xNorm))
		// where dyHat = dout * gamma.
		sumDyHat := 0.0
		sumDyHatXNorm := 0.0
		for i := 0; i < n; i++ {
			dyHat[i] = dd[off+i] * gd[i]
			sumDyHat += dyHat[i]
			sumDyHatXNorm += dyHat[i] * xNorm[i]
		}
		invN := 1 / float64(n)
		for i := 0; i < n; i++ {
			dxd[off+i] = invStd * invN * (float64(n)*dyHat[i] - sumDyHat - xNorm[i]*sumDyHatXNorm)
		}
	}

	ln.Gamma.AccumGrad(dGamma)
	ln.Beta.AccumGrad(dBeta)
	return dx, nil
}

// Parameters returns the trainable parameters.
func (ln *LayerNorm) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{ln.Gamma, ln.Beta}
}
