package tokenizer

import (
	"fmt"
	"sort"
)

// Char is a character-level tokenizer. The vocabulary is the set of
// distinct runes observed in the corpus it was built from, assigned
// dense indices in sorted rune order so the same corpus always yields
// the same mapping. Encode and Decode are exact inverses over that set.
type Char struct {
	itos []rune
	stoi map[rune]int
}

// NewChar builds a character vocabulary from corpus text.
func NewChar(corpus string) *Char {
	seen := make(map[rune]struct{})
	for _, r := range corpus {
		seen[r] = struct{}{}
	}
	itos := make([]rune, 0, len(seen))
	for r := range seen {
		itos = append(itos, r)
	}
	sort.Slice(itos, func(i, j int) bool { return itos[i] < itos[j] })

	stoi := make(map[rune]int, len(itos))
	for i, r := range itos {
		stoi[r] = i
	}
	return &Char{itos: itos, stoi: stoi}
}

// VocabSize returns the number of distinct characters.
func (t *Char) VocabSize() int { return len(t.itos) }

// Encode converts text to token indices. Any rune outside the vocabulary
// is an error.
func (t *Char) Encode(text string) ([]int, error) {
	tokens := make([]int, 0, len(text))
	for _, r := range text {
		id, ok := t.stoi[r]
		if !ok {
			return nil, fmt.Errorf("tokenizer: rune %q not in vocabulary", r)
		}
		tokens = append(tokens, id)
	}
	return tokens, nil
}

// Decode converts token indices back to text. Out-of-range indices are
// an error.
func (t *Char) Decode(tokens []int) (string, error) {
	runes := make([]rune, len(tokens))
	for i, id := range tokens {
		if id < 0 || id >= len(t.itos) {
			return "", fmt.Errorf("tokenizer: token %d out of range [0,%d)", id, len(t.itos))
		}
		runes[i] = t.itos[id]
	}
	return string(runes), nil
}
