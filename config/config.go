// Package config aggregates model, data, training, and sampling settings
// with viper-backed defaults, optional YAML files, and flag overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"chargpt/nn"
	"chargpt/sample"
	"chargpt/train"
)

// Config is the full runtime configuration for a training run.
type Config struct {
	Corpus string `mapstructure:"corpus"`

	Model struct {
		BlockSize int     `mapstructure:"block_size"`
		NLayer    int     `mapstructure:"n_layer"`
		NHead     int     `mapstructure:"n_head"`
		NEmbd     int     `mapstructure:"n_embd"`
		Dropout   float64 `mapstructure:"dropout"`
	} `mapstructure:"model"`

	Data struct {
		TrainFrac float64 `mapstructure:"train_frac"`
	} `mapstructure:"data"`

	Train train.Config `mapstructure:"train"`

	Sample struct {
		Prompt      string  `mapstructure:"prompt"`
		Length      int     `mapstructure:"length"`
		Temperature float64 `mapstructure:"temperature"`
		TopK        int     `mapstructure:"top_k"`
		Greedy      bool    `mapstructure:"greedy"`
	} `mapstructure:"sample"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	var c Config
	c.Corpus = "input.txt"
	c.Model.BlockSize = 128
	c.Model.NLayer = 4
	c.Model.NHead = 4
	c.Model.NEmbd = 128
	c.Model.Dropout = 0.1
	c.Data.TrainFrac = 0.9
	c.Train = train.DefaultConfig()
	c.Sample.Prompt = "The "
	c.Sample.Length = 500
	c.Sample.Temperature = 0.8
	c.Sample.TopK = 10
	return c
}

// ModelConfig converts the model section to an nn.Config for a known vocab.
func (c Config) ModelConfig(vocabSize int) nn.Config {
	return nn.Config{
		VocabSize: vocabSize,
		BlockSize: c.Model.BlockSize,
		NLayer:    c.Model.NLayer,
		NHead:     c.Model.NHead,
		NEmbd:     c.Model.NEmbd,
		EmbdDrop:  c.Model.Dropout,
		ResidDrop: c.Model.Dropout,
		AttnDrop:  c.Model.Dropout,
	}
}

// SampleConfig converts the sample section to a sample.Config.
func (c Config) SampleConfig() sample.Config {
	return sample.Config{
		Temperature: c.Sample.Temperature,
		TopK:        c.Sample.TopK,
		Greedy:      c.Sample.Greedy,
	}
}

// Load builds a Config from defaults, an optional YAML file, environment
// variables prefixed CHARGPT_, and any flags bound to the flag set.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("chargpt")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Model.BlockSize < 1 {
		return fmt.Errorf("config: block_size must be positive, got %d", c.Model.BlockSize)
	}
	if c.Model.NEmbd%c.Model.NHead != 0 {
		return fmt.Errorf("config: n_embd %d not divisible by n_head %d", c.Model.NEmbd, c.Model.NHead)
	}
	if c.Data.TrainFrac <= 0 || c.Data.TrainFrac > 1 {
		return fmt.Errorf("config: train_frac must be in (0, 1], got %v", c.Data.TrainFrac)
	}
	return nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("corpus", d.Corpus)
	v.SetDefault("model.block_size", d.Model.BlockSize)
	v.SetDefault("model.n_layer", d.Model.NLayer)
	v.SetDefault("model.n_head", d.Model.NHead)
	v.SetDefault("model.n_embd", d.Model.NEmbd)
	v.SetDefault("model.dropout", d.Model.Dropout)
	v.SetDefault("data.train_frac", d.Data.TrainFrac)

	v.SetDefault("train.epochs", d.Train.Epochs)
	v.SetDefault("train.batchsize", d.Train.BatchSize)
	v.SetDefault("train.learningrate", d.Train.LearningRate)
	v.SetDefault("train.beta1", d.Train.Beta1)
	v.SetDefault("train.beta2", d.Train.Beta2)
	v.SetDefault("train.weightdecay", d.Train.WeightDecay)
	v.SetDefault("train.gradclip", d.Train.GradClip)
	v.SetDefault("train.lrdecay", d.Train.LRDecay)
	v.SetDefault("train.warmuptokens", d.Train.WarmupTokens)
	v.SetDefault("train.finaltokens", d.Train.FinalTokens)
	v.SetDefault("train.workers", d.Train.Workers)
	v.SetDefault("train.seed", d.Train.Seed)
	v.SetDefault("train.logevery", d.Train.LogEvery)
	v.SetDefault("train.sampleevery", d.Train.SampleEvery)
	v.SetDefault("train.sampleprompt", d.Train.SamplePrompt)
	v.SetDefault("train.samplelen", d.Train.SampleLen)
	v.SetDefault("train.temperature", d.Train.Temperature)

	v.SetDefault("sample.prompt", d.Sample.Prompt)
	v.SetDefault("sample.length", d.Sample.Length)
	v.SetDefault("sample.temperature", d.Sample.Temperature)
	v.SetDefault("sample.top_k", d.Sample.TopK)
	v.SetDefault("sample.greedy", d.Sample.Greedy)
}
