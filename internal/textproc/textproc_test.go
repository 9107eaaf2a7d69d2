package textproc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer(DefaultResources())
	tests := []struct {
		word   string
		want   string
		wantOK bool
	}{
		{"apples", "appl", true},
		{"APPLES", "appl", true},
		{"oranges", "orang", true},
		{"running", "run", true},
		{"the", "", false},
		{"should've", "", false},
		{"wasn't", "", false},
		{"42", "", false},
		{"abc123", "", false},
		{"café", "", false},
		{"hello,", "", false},
		{"-", "", false},
		{"''", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			got, ok := n.Normalize(tt.word)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeAcceptsHyphensAndApostrophes(t *testing.T) {
	n := NewNormalizer(nil)
	for _, word := range []string{"state-of-the-art", "rock'n'roll", "o'clock"} {
		term, ok := n.Normalize(word)
		assert.True(t, ok, word)
		assert.NotEmpty(t, term, word)
	}
}

func TestParseStemmedInputWithStopwords(t *testing.T) {
	n := NewNormalizer(DefaultResources())
	tokens := []string{
		"a", "an", "apples", "apples", "apples", "banana", "bananas", "mango",
		"oranges", "pear", "persimmon", "the", "is", "should've", "wasn't",
	}

	pd := n.Parse(tokens)

	assert.Equal(t, map[string]int{
		"appl":      3,
		"banana":    2,
		"mango":     1,
		"orang":     1,
		"pear":      1,
		"persimmon": 1,
	}, pd.TermFrequencies)
	assert.Equal(t, []string{"appl", "banana", "mango", "orang", "pear", "persimmon"}, pd.Terms)
	assert.Equal(t, []string{"appl", "banana", "mango", "orang", "pear", "persimmon"}, pd.UniqueTerms())
	assert.Equal(t, 6, pd.Len())
	assert.Equal(t, 9, pd.TotalFrequency())
}

func TestParseOnlyFilteredTokens(t *testing.T) {
	n := NewNormalizer(DefaultResources())
	inputs := [][]string{
		nil,
		{},
		{"a", "an", "is", "the", "to", "was", "should've", "wasn't"},
		{"123", "$$$", "--", "e-mail@example.com"},
	}
	for _, tokens := range inputs {
		pd := n.Parse(tokens)
		assert.NotNil(t, pd.TermFrequencies)
		assert.Empty(t, pd.TermFrequencies)
		assert.Empty(t, pd.Terms)
	}
}

func TestParseFirstSeenOrder(t *testing.T) {
	n := NewNormalizer(nil)
	pd := n.Parse([]string{"zebra", "apple", "zebras", "mango", "apple"})
	assert.Equal(t, []string{"zebra", "appl", "mango"}, pd.Terms)
	assert.Equal(t, 2, pd.TermFrequencies["zebra"])
	assert.Equal(t, 2, pd.TermFrequencies["appl"])
}

func TestParseQuery(t *testing.T) {
	n := NewNormalizer(nil)

	assert.Empty(t, n.ParseQuery(""))
	assert.Empty(t, n.ParseQuery("   \t\n "))
	assert.Equal(t, map[string]int{"want": 1, "eat": 1, "appl": 1}, n.ParseQuery("I want to eat an apple"))
	assert.Equal(t, map[string]int{"appl": 2}, n.ParseQuery("apple\tAPPLES"))
}

func TestCustomStopwords(t *testing.T) {
	n := NewNormalizer(NewResources([]string{"Banana", " ", ""}))

	_, ok := n.Normalize("banana")
	assert.False(t, ok)

	term, ok := n.Normalize("the")
	assert.True(t, ok)
	assert.Equal(t, "the", term)
}

func TestLoadResources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stopwords.txt")
	require.NoError(t, os.WriteFile(path, []byte("# custom list\nmango\n  pear  # trailing comment\n\n"), 0o644))

	res, err := LoadResources(path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.StopwordCount())
	assert.True(t, res.IsStopword("mango"))
	assert.True(t, res.IsStopword("pear"))
	assert.False(t, res.IsStopword("the"))
}

func TestLoadResourcesDefaultsAndErrors(t *testing.T) {
	res, err := LoadResources("")
	require.NoError(t, err)
	assert.Equal(t, len(englishStopwords), res.StopwordCount())

	_, err = LoadResources(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func BenchmarkParse(b *testing.B) {
	n := NewNormalizer(nil)
	tokens := []string{
		"Information", "retrieval", "systems", "form", "the", "backbone", "of", "modern",
		"search", "infrastructure.", "These", "systems", "combine", "tokenization,",
		"stemming,", "and", "stop", "word", "removal", "to", "normalize", "text",
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = n.Parse(tokens)
	}
}
