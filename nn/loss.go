package nn

import (
	"fmt"
	"math"

	"chargpt/tensor"
)

// CrossEntropy computes the mean next-token cross-entropy over every
// position of every sequence in the batch, and the gradient of that loss
// with respect to the logits. Scoring all B*T positions from a single
// forward pass is what makes autoregressive training efficient.
//
// logits: [B,T,V], targets: [B][T] token ids.
// Returns (loss, dLogits).
func CrossEntropy(logits *tensor.Tensor, targets [][]int) (float64, *tensor.Tensor, error) {
	if logits.NDim() != 3 {
		return 0, nil, fmt.Errorf("nn: cross entropy logits %v, want [B,T,V]", logits.Shape())
	}
	B, T, V := logits.Dim(0), logits.Dim(1), logits.Dim(2)
	if len(targets) != B {
		return 0, nil, fmt.Errorf("nn: cross entropy batch %d targets for %d sequences", len(targets), B)
	}

	ld := logits.Data()
	grad := tensor.New(logits.Shape())
	gd := grad.Data()
	n := B * T
	totalLoss := 0.0

	for b := 0; b < B; b++ {
		if len(targets[b]) != T {
			return 0, nil, fmt.Errorf("nn: cross entropy targets row %d has %d entries, want %d", b, len(targets[b]), T)
		}
		for s := 0; s < T; s++ {
			off := (b*T + s) * V
			tgt := targets[b][s]
			if tgt < 0 || tgt >= V {
				return 0, nil, fmt.Errorf("nn: target token %d out of range [0,%d)", tgt, V)
			}

			// Stable log-softmax: loss = logSumExp - logit[target],
			// grad = softmax - one_hot, averaged over all positions.
			maxVal := math.Inf(-1)
			for v := 0; v < V; v++ {
				if ld[off+v] > maxVal {
					maxVal = ld[off+v]
				}
			}
			sumExp := 0.0
			for v := 0; v < V; v++ {
				e := math.Exp(ld[off+v] - maxVal)
				gd[off+v] = e
				sumExp += e
			}
			totalLoss += maxVal + math.Log(sumExp) - ld[off+tgt]

			invSum := 1 / sumExp
			for v := 0; v < V; v++ {
				gd[off+v] *= invSum / float64(n)
			}
			gd[off+tgt] -= 1 / float64(n)
		}
	}

	return totalLoss / float64(n), grad, nil
}
