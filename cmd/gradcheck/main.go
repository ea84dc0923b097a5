// Command gradcheck compares analytic gradients against central finite
// differences on a tiny model with dropout disabled.
package main

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/rs/zerolog"

	"chargpt/nn"
)

const (
	eps          = 1e-5
	tolerance    = 1e-6
	probesPerTensor = 12 // parameter entries probed per tensor
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	rng := rand.New(rand.NewSource(1))
	cfg := nn.Config{
		VocabSize: 11,
		BlockSize: 6,
		NLayer:    2,
		NHead:     2,
		NEmbd:     8,
	}
	model, err := nn.NewGPT(cfg, rng)
	if err != nil {
		logger.Fatal().Err(err).Msg("build model")
	}

	inputs := make([][]int, 2)
	targets := make([][]int, 2)
	for b := range inputs {
		inputs[b] = make([]int, cfg.BlockSize)
		targets[b] = make([]int, cfg.BlockSize)
		for t := range inputs[b] {
			inputs[b][t] = rng.Intn(cfg.VocabSize)
			targets[b][t] = rng.Intn(cfg.VocabSize)
		}
	}

	lossAt := func() float64 {
		logits, err := model.Forward(inputs)
		if err != nil {
			logger.Fatal().Err(err).Msg("forward")
		}
		loss, _, err := nn.CrossEntropy(logits, targets)
		if err != nil {
			logger.Fatal().Err(err).Msg("loss")
		}
		return loss
	}

	// Analytic pass. Dropout is off, so cached activations match Forward.
	logits, cache, err := model.ForwardWithCache(inputs)
	if err != nil {
		logger.Fatal().Err(err).Msg("forward with cache")
	}
	_, dLogits, err := nn.CrossEntropy(logits, targets)
	if err != nil {
		logger.Fatal().Err(err).Msg("loss")
	}
	if err := model.Backward(cache, dLogits); err != nil {
		logger.Fatal().Err(err).Msg("backward")
	}

	worst := 0.0
	failed := 0
	for pi, p := range model.Parameters() {
		dat := p.Data()
		grad := p.Grad()
		for probe := 0; probe < probesPerTensor; probe++ {
			i := rng.Intn(len(dat))
			orig := dat[i]

			dat[i] = orig + eps
			plus := lossAt()
			dat[i] = orig - eps
			minus := lossAt()
			dat[i] = orig

			numeric := (plus - minus) / (2 * eps)
			analytic := grad[i]
			rel := math.Abs(numeric-analytic) /
				math.Max(1e-8, math.Abs(numeric)+math.Abs(analytic))
			if rel > worst {
				worst = rel
			}
			if rel > tolerance {
				failed++
				logger.Warn().
					Int("param", pi).
					Int("index", i).
					Float64("numeric", numeric).
					Float64("analytic", analytic).
					Float64("rel_err", rel).
					Msg("gradient mismatch")
			}
		}
	}

	logger.Info().Float64("worst_rel_err", worst).Int("failures", failed).Msg("gradcheck done")
	if failed > 0 {
		os.Exit(1)
	}
	fmt.Println("OK")
}
