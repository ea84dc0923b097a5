// Package tokenizer maps text to dense integer token indices and back.
package tokenizer

// Tokenizer is the common interface for all tokenizers.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(tokens []int) (string, error)
	VocabSize() int
}
