package nn

import "math/rand"

// dropoutMask builds an inverted-dropout mask: each element is 0 with
// probability p, otherwise 1/(1-p) so activation scale is preserved.
// Returns nil for p <= 0 (no dropout), which callers treat as identity.
func dropoutMask(n int, p float64, rng *rand.Rand) []float64 {
	if p <= 0 {
		return nil
	}
	keep := 1 / (1 - p)
	mask := make([]float64, n)
	for i := range mask {
		if rng.Float64() >= p {
			mask[i] = keep
		}
	}
	return mask
}

// applyMask multiplies v by mask element-wise, in place. A nil mask is a
// no-op. Used identically in the forward pass and for routing gradients
// back through the same dropped units.
func applyMask(v, mask []float64) {
	if mask == nil {
		return
	}
	for i := range v {
		v[i] *= mask[i]
	}
}
