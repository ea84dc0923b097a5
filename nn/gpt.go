package nn

import (
	"fmt"
	"math/rand"

	"chargpt/tensor"
)

// Config defines the GPT architecture hyperparameters.
type Config struct {
	VocabSize int // number of distinct tokens
	BlockSize int // maximum context length
	NLayer    int // number of transformer blocks
	NHead     int // attention heads per block
	NEmbd     int // embedding width

	EmbdDrop  float64 // dropout on summed token+position embeddings
	ResidDrop float64 // dropout on residual branch outputs
	AttnDrop  float64 // dropout on attention weights
}

// Validate checks the configuration is internally consistent.
func (c Config) Validate() error {
	switch {
	case c.VocabSize < 1:
		return fmt.Errorf("nn: vocab size must be positive, got %d", c.VocabSize)
	case c.BlockSize < 1:
		return fmt.Errorf("nn: block size must be positive, got %d", c.BlockSize)
	case c.NLayer < 1:
		return fmt.Errorf("nn: layer count must be positive, got %d", c.NLayer)
	case c.NHead < 1:
		return fmt.Errorf("nn: head count must be positive, got %d", c.NHead)
	case c.NEmbd < 1:
		return fmt.Errorf("nn: embedding width must be positive, got %d", c.NEmbd)
	case c.NEmbd%c.NHead != 0:
		return fmt.Errorf("nn: embedding width %d not divisible by %d heads", c.NEmbd, c.NHead)
	}
	for _, p := range []float64{c.EmbdDrop, c.ResidDrop, c.AttnDrop} {
		if p < 0 || p >= 1 {
			return fmt.Errorf("nn: dropout rate %v outside [0,1)", p)
		}
	}
	return nil
}

// TinyConfig returns a configuration small enough for tests and quick CPU
// experiments.
func TinyConfig(vocabSize, blockSize int) Config {
	return Config{
		VocabSize: vocabSize,
		BlockSize: blockSize,
		NLayer:    2,
		NHead:     4,
		NEmbd:     64,
		EmbdDrop:  0.1,
		ResidDrop: 0.1,
		AttnDrop:  0.1,
	}
}

// SmallConfig returns the configuration used for character-level
// experiments on real corpora.
func SmallConfig(vocabSize, blockSize int) Config {
	return Config{
		VocabSize: vocabSize,
		BlockSize: blockSize,
		NLayer:    8,
		NHead:     8,
		NEmbd:     256,
		EmbdDrop:  0.1,
		ResidDrop: 0.1,
		AttnDrop:  0.1,
	}
}

// GPT maps a sequence of token indices to next-token logits at every
// position. Token and position embeddings are summed, passed through
// NLayer pre-norm transformer blocks, normalized, and projected to the
// vocabulary.
type GPT struct {
	Config Config

	TokEmb *Embedding // [vocab, embd]
	PosEmb *Embedding // [block, embd]
	Blocks []*Block
	Norm   *LayerNorm
	Head   *Linear // lm head: embd -> vocab, no bias

	rng *rand.Rand // dropout source for training passes
}

// NewGPT creates a model from config. rng seeds the weights and drives
// dropout during training; passing it explicitly keeps runs reproducible.
func NewGPT(cfg Config, rng *rand.Rand) (*GPT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("nn: model requires an explicit rand source")
	}

	tokEmb, err := NewEmbedding(cfg.VocabSize, cfg.NEmbd, rng)
	if err != nil {
		return nil, fmt.Errorf("nn: token embedding: %w", err)
	}
	posEmb, err := NewEmbedding(cfg.BlockSize, cfg.NEmbd, rng)
	if err != nil {
		return nil, fmt.Errorf("nn: position embedding: %w", err)
	}

	blocks := make([]*Block, cfg.NLayer)
	for i := range blocks {
		blk, err := NewBlock(cfg.NEmbd, cfg.NHead, cfg.AttnDrop, cfg.ResidDrop, rng)
		if err != nil {
			return nil, fmt.Errorf("nn: block %d: %w", i, err)
		}
		blocks[i] = blk
	}

	norm, err := NewLayerNorm(cfg.NEmbd, 1e-5)
	if err != nil {
		return nil, err
	}
	head, err := NewLinear(cfg.NEmbd, cfg.VocabSize, false, rng)
	if err != nil {
		return nil, fmt.Errorf("nn: head: %w", err)
	}

	return &GPT{
		Config: cfg,
		TokEmb: tokEmb, PosEmb: posEmb,
		Blocks: blocks, Norm: norm, Head: head,
		rng: rng,
	}, nil
}

// Cache stores one training pass's intermediates for Backward.
type Cache struct {
	b, t    int
	ids     []int // flattened [B*T] token ids
	posIDs  []int // flattened [B*T] positions
	emb     *tensor.Tensor
	embMask []float64
	blocks  []*blockCache
	lastOut *tensor.Tensor // input to final norm
	normed  *tensor.Tensor // input to head
}

// flattenTokens validates the batch and returns flattened token and
// position indices.
func (m *GPT) flattenTokens(tokens [][]int) (ids, posIDs []int, b, t int, err error) {
	b = len(tokens)
	if b == 0 {
		return nil, nil, 0, 0, fmt.Errorf("nn: empty batch")
	}
	t = len(tokens[0])
	if t < 1 || t > m.Config.BlockSize {
		return nil, nil, 0, 0, fmt.Errorf("nn: sequence length %d outside [1,%d]", t, m.Config.BlockSize)
	}
	ids = make([]int, 0, b*t)
	posIDs = make([]int, 0, b*t)
	for _, row := range tokens {
		if len(row) != t {
			return nil, nil, 0, 0, fmt.Errorf("nn: ragged batch: row lengths %d and %d", t, len(row))
		}
		ids = append(ids, row...)
		for p := 0; p < t; p++ {
			posIDs = append(posIDs, p)
		}
	}
	return ids, posIDs, b, t, nil
}

// embed computes token+position embeddings as a [B,T,C] tensor.
func (m *GPT) embed(ids, posIDs []int, b, t int) (*tensor.Tensor, error) {
	tok, err := m.TokEmb.Forward(ids)
	if err != nil {
		return nil, fmt.Errorf("nn: token embedding: %w", err)
	}
	pos, err := m.PosEmb.Forward(posIDs)
	if err != nil {
		return nil, fmt.Errorf("nn: position embedding: %w", err)
	}
	return addInto(tok, pos).View(tensor.Shape{b, t, m.Config.NEmbd})
}

// Forward runs the model for inference: dropout disabled.
// tokens: [B][T] ids -> logits [B,T,vocab].
func (m *GPT) Forward(tokens [][]int) (*tensor.Tensor, error) {
	ids, posIDs, b, t, err := m.flattenTokens(tokens)
	if err != nil {
		return nil, err
	}
	x, err := m.embed(ids, posIDs, b, t)
	if err != nil {
		return nil, err
	}
	for i, blk := range m.Blocks {
		if x, err = blk.Forward(x); err != nil {
			return nil, fmt.Errorf("nn: block %d: %w", i, err)
		}
	}
	if x, err = m.Norm.Forward(x); err != nil {
		return nil, err
	}
	return m.Head.Forward(x)
}

// ForwardWithCache runs the model in training mode: dropout active,
// intermediates recorded for Backward.
func (m *GPT) ForwardWithCache(tokens [][]int) (*tensor.Tensor, *Cache, error) {
	ids, posIDs, b, t, err := m.flattenTokens(tokens)
	if err != nil {
		return nil, nil, err
	}
	x, err := m.embed(ids, posIDs, b, t)
	if err != nil {
		return nil, nil, err
	}

	cache := &Cache{b: b, t: t, ids: ids, posIDs: posIDs}
	cache.embMask = dropoutMask(x.NumElements(), m.Config.EmbdDrop, m.rng)
	applyMask(x.Data(), cache.embMask)
	cache.emb = x

	cache.blocks = make([]*blockCache, len(m.Blocks))
	for i, blk := range m.Blocks {
		var bc *blockCache
		if x, bc, err = blk.ForwardWithCache(x, m.rng); err != nil {
			return nil, nil, fmt.Errorf("nn: block %d: %w", i, err)
		}
		cache.blocks[i] = bc
	}
	cache.lastOut = x

	if x, err = m.Norm.Forward(x); err != nil {
		return nil, nil, err
	}
	cache.normed = x

	logits, err := m.Head.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	return logits, cache, nil
}

// Backward propagates the logits gradient through the whole model,
// accumulating parameter gradients.
func (m *GPT) Backward(cache *Cache, dLogits *tensor.Tensor) error {
	dNormed, err := m.Head.Backward(cache.normed, dLogits)
	if err != nil {
		return fmt.Errorf("nn: head backward: %w", err)
	}
	dx, err := m.Norm.Backward(cache.lastOut, dNormed)
	if err != nil {
		return err
	}
	for i := len(m.Blocks) - 1; i >= 0; i-- {
		if dx, err = m.Blocks[i].Backward(cache.blocks[i], dx); err != nil {
			return fmt.Errorf("nn: block %d backward: %w", i, err)
		}
	}

	applyMask(dx.Data(), cache.embMask)
	flat, err := dx.View(tensor.Shape{cache.b * cache.t, m.Config.NEmbd})
	if err != nil {
		return err
	}
	if err := m.TokEmb.Backward(cache.ids, flat); err != nil {
		return err
	}
	return m.PosEmb.Backward(cache.posIDs, flat)
}

// Parameters returns all trainable parameters.
func (m *GPT) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	params = append(params, m.TokEmb.Parameters()...)
	params = append(params, m.PosEmb.Parameters()...)
	for _, blk := range m.Blocks {
		params = append(params, blk.Parameters()...)
	}
	params = append(params, m.Norm.Parameters()...)
	params = append(params, m.Head.Parameters()...)
	return params
}

// NumParams returns the total trainable parameter count.
func (m *GPT) NumParams() int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.NumElements()
	}
	return total
}
