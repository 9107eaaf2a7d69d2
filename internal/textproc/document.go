package textproc

import (
	"sort"
	"strings"
)

// ParsedDocument is the term-frequency view of a token sequence.
type ParsedDocument struct {
	// TermFrequencies maps each surviving term to its occurrence count.
	TermFrequencies map[string]int
	// Terms lists terms in order of first occurrence. Diagnostics only.
	Terms []string
}

// Parse normalizes every token in a single pass and counts the surviving
// terms. Empty or fully filtered input gives an empty, non-nil map.
func (n *Normalizer) Parse(tokens []string) *ParsedDocument {
	pd := &ParsedDocument{
		TermFrequencies: make(map[string]int),
		Terms:           make([]string, 0, len(tokens)/2),
	}
	for _, token := range tokens {
		term, ok := n.Normalize(token)
		if !ok {
			continue
		}
		if _, seen := pd.TermFrequencies[term]; !seen {
			pd.Terms = append(pd.Terms, term)
		}
		pd.TermFrequencies[term]++
	}
	return pd
}

// ParseQuery splits query on whitespace and parses it like a document.
func (n *Normalizer) ParseQuery(query string) map[string]int {
	return n.Parse(strings.Fields(query)).TermFrequencies
}

// UniqueTerms returns the key set of TermFrequencies in sorted order.
func (pd *ParsedDocument) UniqueTerms() []string {
	terms := make([]string, 0, len(pd.TermFrequencies))
	for term := range pd.TermFrequencies {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// Len returns the number of distinct terms.
func (pd *ParsedDocument) Len() int {
	return len(pd.TermFrequencies)
}

// TotalFrequency returns the number of tokens that survived normalization.
func (pd *ParsedDocument) TotalFrequency() int {
	total := 0
	for _, freq := range pd.TermFrequencies {
		total += freq
	}
	return total
}
