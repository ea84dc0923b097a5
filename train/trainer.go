// Package train runs the optimization loop: epochs over shuffled batches,
// cross-entropy loss, manual backward, gradient clipping, and AdamW updates
// under a token-driven learning-rate schedule.
package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chargpt/data"
	"chargpt/nn"
	"chargpt/optim"
	"chargpt/sample"
	"chargpt/tokenizer"
)

// Config holds training hyperparameters.
type Config struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Beta1        float64
	Beta2        float64
	WeightDecay  float64
	GradClip     float64 // global L2 norm ceiling; 0 disables
	LRDecay      bool
	WarmupTokens int
	FinalTokens  int // 0 derives epochs * windows * block size
	Workers      int // batch-assembly workers; 0 = synchronous
	Seed         int64

	LogEvery     int // steps between progress logs
	SampleEvery  int // steps between generation samples; 0 disables
	SamplePrompt string
	SampleLen    int
	Temperature  float64
}

// DefaultConfig returns hyperparameters suited to small char-level models.
func DefaultConfig() Config {
	return Config{
		Epochs:       2,
		BatchSize:    32,
		LearningRate: 6e-4,
		Beta1:        0.9,
		Beta2:        0.95,
		WeightDecay:  0.1,
		GradClip:     1.0,
		LRDecay:      true,
		WarmupTokens: 10240,
		Workers:      4,
		Seed:         42,
		LogEvery:     10,
		SampleEvery:  500,
		SamplePrompt: "The ",
		SampleLen:    100,
		Temperature:  0.8,
	}
}

// Trainer drives the epoch/batch state machine over a dataset.
type Trainer struct {
	model  *nn.GPT
	opt    *optim.AdamW
	sched  optim.Schedule
	loader *data.Loader
	evalDS data.Dataset
	tok    tokenizer.Tokenizer // optional; enables in-training samples
	cfg    Config
	log    zerolog.Logger

	blockSize int
	step      int
	tokens    int // cumulative target tokens processed
	smooth    float64
}

// New wires a trainer. evalDS and tok may be nil; they disable the eval
// pass and in-training generation respectively.
func New(model *nn.GPT, trainDS data.Dataset, evalDS data.Dataset, tok tokenizer.Tokenizer, cfg Config, logger zerolog.Logger) (*Trainer, error) {
	if model == nil {
		return nil, fmt.Errorf("train: nil model")
	}
	if cfg.Epochs < 1 {
		return nil, fmt.Errorf("train: epoch count must be positive, got %d", cfg.Epochs)
	}

	x, _, err := trainDS.Get(0)
	if err != nil {
		return nil, fmt.Errorf("train: probe dataset: %w", err)
	}
	blockSize := len(x)

	rng := rand.New(rand.NewSource(cfg.Seed))
	loader, err := data.NewLoader(trainDS, cfg.BatchSize, cfg.Workers, rng)
	if err != nil {
		return nil, err
	}

	opt, err := optim.NewAdamW(model.Parameters(), cfg.LearningRate)
	if err != nil {
		return nil, err
	}
	if cfg.Beta1 > 0 {
		opt.Beta1 = cfg.Beta1
	}
	if cfg.Beta2 > 0 {
		opt.Beta2 = cfg.Beta2
	}
	opt.WeightDecay = cfg.WeightDecay
	opt.MaxGradNorm = cfg.GradClip

	finalTokens := cfg.FinalTokens
	if finalTokens == 0 {
		finalTokens = cfg.Epochs * loader.NumBatches() * cfg.BatchSize * blockSize
	}
	sched, err := optim.NewSchedule(cfg.LearningRate, cfg.WarmupTokens, finalTokens)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	return &Trainer{
		model:  model,
		opt:    opt,
		sched:  sched,
		loader: loader,
		evalDS: evalDS,
		tok:    tok,
		cfg:    cfg,
		log:    logger.With().Str("run", runID).Logger(),

		blockSize: blockSize,
	}, nil
}

// TokensProcessed returns the cumulative count of target tokens trained on.
func (t *Trainer) TokensProcessed() int { return t.tokens }

// SmoothLoss returns the exponentially smoothed training loss.
func (t *Trainer) SmoothLoss() float64 { return t.smooth }

// Run trains for the configured number of epochs. ctx cancellation stops
// between steps.
func (t *Trainer) Run(ctx context.Context) error {
	t.log.Info().
		Int("params", t.model.NumParams()).
		Int("windows", t.loader.NumBatches()*t.cfg.BatchSize).
		Int("batch_size", t.cfg.BatchSize).
		Int("block_size", t.blockSize).
		Int("epochs", t.cfg.Epochs).
		Float64("lr", t.cfg.LearningRate).
		Msg("training start")

	start := time.Now()
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		if err := t.loader.Each(ctx, func(b data.Batch) error {
			return t.trainStep(epoch, b)
		}); err != nil {
			return fmt.Errorf("train: epoch %d: %w", epoch, err)
		}

		if t.evalDS != nil {
			loss, err := t.evaluate(ctx)
			if err != nil {
				return fmt.Errorf("train: eval after epoch %d: %w", epoch, err)
			}
			t.log.Info().Int("epoch", epoch).Float64("eval_loss", loss).Msg("eval")
		}
	}

	t.log.Info().
		Dur("elapsed", time.Since(start)).
		Int("tokens", t.tokens).
		Float64("smooth_loss", t.smooth).
		Msg("training complete")
	return nil
}

func (t *Trainer) trainStep(epoch int, batch data.Batch) error {
	stepStart := time.Now()
	t.step++

	lr := t.cfg.LearningRate
	if t.cfg.LRDecay {
		lr = t.sched.LR(t.tokens)
	}
	t.opt.SetLR(lr)

	logits, cache, err := t.model.ForwardWithCache(batch.Inputs)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	loss, dLogits, err := nn.CrossEntropy(logits, batch.Targets)
	if err != nil {
		return fmt.Errorf("loss: %w", err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return fmt.Errorf("loss diverged at step %d: %v", t.step, loss)
	}

	t.opt.ZeroGrad()
	if err := t.model.Backward(cache, dLogits); err != nil {
		return fmt.Errorf("backward: %w", err)
	}
	t.opt.Step()

	t.tokens += len(batch.Targets) * t.blockSize
	if t.smooth == 0 {
		t.smooth = loss
	} else {
		t.smooth = 0.95*t.smooth + 0.05*loss
	}

	if t.cfg.LogEvery > 0 && t.step%t.cfg.LogEvery == 0 {
		elapsed := time.Since(stepStart)
		t.log.Info().
			Int("epoch", epoch).
			Int("step", t.step).
			Float64("loss", loss).
			Float64("smooth", t.smooth).
			Float64("lr", lr).
			Float64("tok_per_sec", float64(len(batch.Targets)*t.blockSize)/elapsed.Seconds()).
			Msg("step")
	}
	if t.cfg.SampleEvery > 0 && t.tok != nil && t.step%t.cfg.SampleEvery == 0 {
		if text, err := t.sampleText(); err == nil {
			t.log.Info().Int("step", t.step).Str("sample", text).Msg("sample")
		} else {
			t.log.Warn().Err(err).Msg("in-training sample failed")
		}
	}
	return nil
}

// evalBatches caps the eval pass so it stays cheap on large splits.
const evalBatches = 20

var errEvalDone = errors.New("eval budget reached")

// evaluate measures mean loss over eval batches with dropout disabled and
// no parameter updates.
func (t *Trainer) evaluate(ctx context.Context) (float64, error) {
	rng := rand.New(rand.NewSource(t.cfg.Seed + 1))
	loader, err := data.NewLoader(t.evalDS, t.cfg.BatchSize, 0, rng)
	if err != nil {
		// Eval split smaller than a batch: score it as a single batch.
		return t.evalWhole()
	}

	total, n := 0.0, 0
	err = loader.Each(ctx, func(b data.Batch) error {
		logits, err := t.model.Forward(b.Inputs)
		if err != nil {
			return err
		}
		loss, _, err := nn.CrossEntropy(logits, b.Targets)
		if err != nil {
			return err
		}
		total += loss
		n++
		if n >= evalBatches {
			return errEvalDone
		}
		return nil
	})
	if err != nil && !errors.Is(err, errEvalDone) {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return total / float64(n), nil
}

// evalWhole scores every window of a tiny eval split as one batch.
func (t *Trainer) evalWhole() (float64, error) {
	inputs := make([][]int, 0, t.evalDS.Len())
	targets := make([][]int, 0, t.evalDS.Len())
	for i := 0; i < t.evalDS.Len(); i++ {
		x, y, err := t.evalDS.Get(i)
		if err != nil {
			return 0, err
		}
		inputs = append(inputs, x)
		targets = append(targets, y)
	}
	logits, err := t.model.Forward(inputs)
	if err != nil {
		return 0, err
	}
	loss, _, err := nn.CrossEntropy(logits, targets)
	return loss, err
}

// sampleText generates a short continuation of the configured prompt.
func (t *Trainer) sampleText() (string, error) {
	prompt, err := t.tok.Encode(t.cfg.SamplePrompt)
	if err != nil {
		return "", err
	}
	s, err := sample.New(t.model, sample.Config{Temperature: t.cfg.Temperature, TopK: 10},
		rand.New(rand.NewSource(t.cfg.Seed+int64(t.step))))
	if err != nil {
		return "", err
	}
	seq, err := s.Generate(prompt, t.cfg.SampleLen)
	if err != nil {
		return "", err
	}
	return t.tok.Decode(seq)
}
