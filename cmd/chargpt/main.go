// Command chargpt trains a character-level transformer on a text corpus
// and prints a sampled continuation when training finishes.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"chargpt/config"
	"chargpt/data"
	"chargpt/nn"
	"chargpt/sample"
	"chargpt/train"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chargpt:", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("chargpt", pflag.ContinueOnError)
	cfgPath := flags.String("config", "", "path to a YAML config file")
	debug := flags.Bool("debug", false, "enable debug logging")

	d := config.Default()
	flags.String("corpus", d.Corpus, "path to the training text")
	flags.Int("model.block_size", d.Model.BlockSize, "context window length")
	flags.Int("model.n_layer", d.Model.NLayer, "transformer block count")
	flags.Int("model.n_head", d.Model.NHead, "attention heads per block")
	flags.Int("model.n_embd", d.Model.NEmbd, "embedding width")
	flags.Float64("model.dropout", d.Model.Dropout, "dropout probability")
	flags.Float64("data.train_frac", d.Data.TrainFrac, "fraction of windows used for training")
	flags.Int("train.epochs", d.Train.Epochs, "training epochs")
	flags.Int("train.batchsize", d.Train.BatchSize, "windows per batch")
	flags.Float64("train.learningrate", d.Train.LearningRate, "peak learning rate")
	flags.Int64("train.seed", d.Train.Seed, "RNG seed")
	flags.Int("train.workers", d.Train.Workers, "batch assembly workers")
	flags.String("sample.prompt", d.Sample.Prompt, "prompt for the final sample")
	flags.Int("sample.length", d.Sample.Length, "tokens to generate after training")
	flags.Float64("sample.temperature", d.Sample.Temperature, "sampling temperature")
	flags.Int("sample.top_k", d.Sample.TopK, "restrict sampling to the k most likely tokens; 0 disables")
	flags.Bool("sample.greedy", d.Sample.Greedy, "pick argmax instead of sampling")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	cfg, err := config.Load(*cfgPath, flags)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(cfg.Corpus)
	if err != nil {
		return fmt.Errorf("read corpus: %w", err)
	}

	ds, err := data.NewCharDataset(string(raw), cfg.Model.BlockSize)
	if err != nil {
		return err
	}
	trainDS, evalDS, err := ds.Split(cfg.Data.TrainFrac)
	if err != nil {
		return err
	}
	logger.Info().
		Str("corpus", cfg.Corpus).
		Int("chars", len([]rune(string(raw)))).
		Int("vocab", ds.VocabSize()).
		Int("train_windows", trainDS.Len()).
		Msg("dataset ready")

	rng := rand.New(rand.NewSource(cfg.Train.Seed))
	model, err := nn.NewGPT(cfg.ModelConfig(ds.VocabSize()), rng)
	if err != nil {
		return err
	}

	var evalSet data.Dataset
	if evalDS != nil {
		evalSet = evalDS
	}
	trainer, err := train.New(model, trainDS, evalSet, ds.Tokenizer(), cfg.Train, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := trainer.Run(ctx); err != nil {
		return err
	}

	prompt, err := ds.Tokenizer().Encode(cfg.Sample.Prompt)
	if err != nil {
		return fmt.Errorf("encode prompt: %w", err)
	}
	sampler, err := sample.New(model, cfg.SampleConfig(), rand.New(rand.NewSource(cfg.Train.Seed)))
	if err != nil {
		return err
	}
	seq, err := sampler.Generate(prompt, cfg.Sample.Length)
	if err != nil {
		return err
	}
	text, err := ds.Tokenizer().Decode(seq)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}
