package optim

import (
	"fmt"
	"math"
)

// Schedule computes the learning rate from the cumulative number of
// target tokens processed: linear warmup over WarmupTokens, then cosine
// decay toward MinFactor*Base as the count approaches FinalTokens.
// Driving the schedule by tokens rather than steps keeps it invariant to
// batch size and sequence length.
type Schedule struct {
	Base         float64
	WarmupTokens int
	FinalTokens  int
	MinFactor    float64 // decay floor as a fraction of Base, typically 0.1
}

// NewSchedule validates and builds a schedule.
func NewSchedule(base float64, warmupTokens, finalTokens int) (Schedule, error) {
	if base <= 0 {
		return Schedule{}, fmt.Errorf("optim: base learning rate must be positive, got %v", base)
	}
	if warmupTokens < 0 || finalTokens <= 0 {
		return Schedule{}, fmt.Errorf("optim: token horizons must be positive, got warmup=%d final=%d",
			warmupTokens, finalTokens)
	}
	return Schedule{Base: base, WarmupTokens: warmupTokens, FinalTokens: finalTokens, MinFactor: 0.1}, nil
}

// LR returns the learning rate after tokens have been processed.
func (s Schedule) LR(tokens int) float64 {
	if tokens < s.WarmupTokens {
		w := s.WarmupTokens
		if w < 1 {
			w = 1
		}
		return s.Base * float64(tokens) / float64(w)
	}
	span := s.FinalTokens - s.WarmupTokens
	if span < 1 {
		span = 1
	}
	progress := float64(tokens-s.WarmupTokens) / float64(span)
	if progress > 1 {
		progress = 1
	}
	mult := 0.5 * (1 + math.Cos(math.Pi*progress))
	if mult < s.MinFactor {
		mult = s.MinFactor
	}
	return s.Base * mult
}
