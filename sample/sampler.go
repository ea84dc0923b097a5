// Package sample decodes new tokens from a trained model.
package sample

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"chargpt/nn"
	"chargpt/ops"
)

// Config controls decoding behavior.
type Config struct {
	Temperature float64 // logit divisor; 1 leaves the distribution unchanged
	TopK        int     // keep only the k most likely tokens; 0 disables
	Greedy      bool    // take the argmax instead of drawing
}

// DefaultConfig returns plain stochastic sampling.
func DefaultConfig() Config {
	return Config{Temperature: 1.0}
}

// Sampler generates token continuations autoregressively. Unlike
// training, which scores every position in one pass, generation is
// inherently sequential: each new token needs a fresh forward pass
// conditioned on everything decoded so far.
type Sampler struct {
	model *nn.GPT
	cfg   Config
	rng   *rand.Rand
}

// New validates the config and builds a sampler. rng may be nil only for
// greedy decoding.
func New(model *nn.GPT, cfg Config, rng *rand.Rand) (*Sampler, error) {
	if model == nil {
		return nil, fmt.Errorf("sample: nil model")
	}
	if cfg.Temperature <= 0 {
		return nil, fmt.Errorf("sample: temperature must be positive, got %v", cfg.Temperature)
	}
	if cfg.TopK < 0 {
		return nil, fmt.Errorf("sample: top-k must be non-negative, got %d", cfg.TopK)
	}
	if !cfg.Greedy && rng == nil {
		return nil, fmt.Errorf("sample: stochastic sampling requires a rand source")
	}
	return &Sampler{model: model, cfg: cfg, rng: rng}, nil
}

// Generate extends prompt by numTokens new tokens and returns the full
// sequence (prompt plus continuation). When the running sequence grows
// past the model's context length, it is conditioned on the trailing
// BlockSize tokens.
func (s *Sampler) Generate(prompt []int, numTokens int) ([]int, error) {
	if len(prompt) == 0 {
		return nil, fmt.Errorf("sample: empty prompt")
	}
	if numTokens < 0 {
		return nil, fmt.Errorf("sample: token count must be non-negative, got %d", numTokens)
	}

	blockSize := s.model.Config.BlockSize
	seq := make([]int, len(prompt), len(prompt)+numTokens)
	copy(seq, prompt)

	for step := 0; step < numTokens; step++ {
		window := seq
		if len(window) > blockSize {
			window = window[len(window)-blockSize:]
		}
		logits, err := s.model.Forward([][]int{window})
		if err != nil {
			return nil, fmt.Errorf("sample: step %d: %w", step, err)
		}

		vocab := logits.Dim(2)
		last := make([]float64, vocab)
		copy(last, logits.Data()[(len(window)-1)*vocab:len(window)*vocab])

		if s.cfg.Temperature != 1.0 {
			for i := range last {
				last[i] /= s.cfg.Temperature
			}
		}
		if s.cfg.TopK > 0 && s.cfg.TopK < vocab {
			maskBelowTopK(last, s.cfg.TopK)
		}

		var next int
		if s.cfg.Greedy {
			next = ops.Argmax(last)
		} else {
			ops.Softmax(last)
			next = s.draw(last)
		}
		seq = append(seq, next)
	}
	return seq, nil
}

// draw samples an index from a probability vector.
func (s *Sampler) draw(probs []float64) int {
	r := s.rng.Float64()
	cum := 0.0
	for i, p := range probs {
		cum += p
		if r < cum {
			return i
		}
	}
	return len(probs) - 1 // rounding leftover
}

// maskBelowTopK sets every logit smaller than the k-th largest to -inf so
// it carries zero probability after the softmax.
func maskBelowTopK(logits []float64, k int) {
	sorted := make([]float64, len(logits))
	copy(sorted, logits)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	threshold := sorted[k-1]

	above := 0
	for _, v := range logits {
		if v > threshold {
			above++
		}
	}
	// Ties at the threshold fill the remaining slots left to right.
	ties := k - above
	for i, v := range logits {
		switch {
		case v > threshold:
		case v == threshold && ties > 0:
			ties--
		default:
			logits[i] = math.Inf(-1)
		}
	}
}
