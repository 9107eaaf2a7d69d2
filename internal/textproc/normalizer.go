// Package textproc turns raw whitespace-split words into index terms. A word
// is lower-cased, rejected unless it is made only of ASCII letters, hyphens
// and apostrophes, rejected if it is a stopword, and otherwise reduced with
// the Snowball English stemmer.
package textproc

import (
	"strings"
)

// Normalizer maps raw words to stemmed terms. It is safe for concurrent use.
type Normalizer struct {
	res *Resources
}

// NewNormalizer returns a Normalizer backed by res. A nil res falls back to
// DefaultResources.
func NewNormalizer(res *Resources) *Normalizer {
	if res == nil {
		res = DefaultResources()
	}
	return &Normalizer{res: res}
}

// Normalize returns the stemmed term for word and true, or "" and false when
// the word is filtered out.
func (n *Normalizer) Normalize(word string) (string, bool) {
	word = strings.ToLower(word)
	if !isTermWord(word) {
		return "", false
	}
	if n.res.IsStopword(word) {
		return "", false
	}
	stemmed := n.res.stem(word)
	if stemmed == "" {
		return "", false
	}
	return stemmed, true
}

// isTermWord accepts a-z plus '-' and '\'' and requires at least one letter,
// so bare punctuation like "-" or "''" never becomes a term.
func isTermWord(word string) bool {
	hasLetter := false
	for i := 0; i < len(word); i++ {
		c := word[i]
		switch {
		case c >= 'a' && c <= 'z':
			hasLetter = true
		case c == '-' || c == '\'':
		default:
			return false
		}
	}
	return hasLetter
}
