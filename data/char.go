// Package data turns raw text into the fixed-length token windows the
// trainer consumes.
package data

import (
	"fmt"

	"chargpt/tokenizer"
)

// Dataset is an indexable collection of (input, target) token windows.
type Dataset interface {
	// Len returns the number of windows.
	Len() int
	// Get returns the input and target sequences for window i.
	// Both have the same fixed length; target[k] is the token that
	// follows input[k] in the corpus.
	Get(i int) (input, target []int, err error)
}

// CharDataset windows a character corpus into next-token training pairs.
// The corpus is treated as one long immutable stream; a window exists at
// every valid starting offset. Window i reads corpus[i : i+blockSize+1]:
// the first blockSize tokens are the input, the last blockSize the target.
type CharDataset struct {
	tokens    []int
	blockSize int
	tok       *tokenizer.Char
}

// NewCharDataset builds the vocabulary from text and encodes it once.
// The corpus must be longer than blockSize characters.
func NewCharDataset(text string, blockSize int) (*CharDataset, error) {
	if blockSize < 1 {
		return nil, fmt.Errorf("data: block size must be positive, got %d", blockSize)
	}
	tok := tokenizer.NewChar(text)
	tokens, err := tok.Encode(text)
	if err != nil {
		// The vocabulary is derived from the same text, so this cannot
		// happen; surface it anyway rather than swallowing it.
		return nil, fmt.Errorf("data: encode corpus: %w", err)
	}
	if len(tokens) <= blockSize {
		return nil, fmt.Errorf("data: corpus has %d tokens, need more than block size %d",
			len(tokens), blockSize)
	}
	return &CharDataset{tokens: tokens, blockSize: blockSize, tok: tok}, nil
}

// Len returns the number of windows: corpus length minus block size.
func (d *CharDataset) Len() int { return len(d.tokens) - d.blockSize }

// BlockSize returns the window input length.
func (d *CharDataset) BlockSize() int { return d.blockSize }

// VocabSize returns the number of distinct characters in the corpus.
func (d *CharDataset) VocabSize() int { return d.tok.VocabSize() }

// Tokenizer returns the vocabulary mapping built from the corpus.
func (d *CharDataset) Tokenizer() *tokenizer.Char { return d.tok }

// Get returns the window at offset i. Pure lookup, no side effects.
func (d *CharDataset) Get(i int) ([]int, []int, error) {
	if i < 0 || i >= d.Len() {
		return nil, nil, fmt.Errorf("data: window %d out of range [0,%d)", i, d.Len())
	}
	chunk := d.tokens[i : i+d.blockSize+1]
	input := make([]int, d.blockSize)
	target := make([]int, d.blockSize)
	copy(input, chunk[:d.blockSize])
	copy(target, chunk[1:])
	return input, target, nil
}

// Split cuts the dataset's underlying corpus at the given fraction and
// returns independent train/eval datasets sharing the vocabulary of the
// full corpus. frac is the train share in (0,1].
func (d *CharDataset) Split(frac float64) (*CharDataset, *CharDataset, error) {
	if frac <= 0 || frac > 1 {
		return nil, nil, fmt.Errorf("data: split fraction %v outside (0,1]", frac)
	}
	cut := int(float64(len(d.tokens)) * frac)
	if cut <= d.blockSize {
		return nil, nil, fmt.Errorf("data: train split too small for block size %d", d.blockSize)
	}
	train := &CharDataset{tokens: d.tokens[:cut], blockSize: d.blockSize, tok: d.tok}
	if len(d.tokens)-cut <= d.blockSize {
		return train, nil, nil // eval remainder too short to window
	}
	eval := &CharDataset{tokens: d.tokens[cut:], blockSize: d.blockSize, tok: d.tok}
	return train, eval, nil
}
