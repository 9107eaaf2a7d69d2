package textproc

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/kljensen/snowball/english"
)

// englishStopwords is the NLTK English stopword corpus, contractions included.
var englishStopwords = []string{
	"i", "me", "my", "myself", "we", "our", "ours", "ourselves", "you", "you're",
	"you've", "you'll", "you'd", "your", "yours", "yourself", "yourselves", "he",
	"him", "his", "himself", "she", "she's", "her", "hers", "herself", "it", "it's",
	"its", "itself", "they", "them", "their", "theirs", "themselves", "what", "which",
	"who", "whom", "this", "that", "that'll", "these", "those", "am", "is", "are",
	"was", "were", "be", "been", "being", "have", "has", "had", "having", "do",
	"does", "did", "doing", "a", "an", "the", "and", "but", "if", "or", "because",
	"as", "until", "while", "of", "at", "by", "for", "with", "about", "against",
	"between", "into", "through", "during", "before", "after", "above", "below",
	"to", "from", "up", "down", "in", "out", "on", "off", "over", "under", "again",
	"further", "then", "once", "here", "there", "when", "where", "why", "how", "all",
	"any", "both", "each", "few", "more", "most", "other", "some", "such", "no",
	"nor", "not", "only", "own", "same", "so", "than", "too", "very", "s", "t",
	"can", "will", "just", "don", "don't", "should", "should've", "now", "d", "ll",
	"m", "o", "re", "ve", "y", "ain", "aren", "aren't", "couldn", "couldn't",
	"didn", "didn't", "doesn", "doesn't", "hadn", "hadn't", "hasn", "hasn't",
	"haven", "haven't", "isn", "isn't", "ma", "mightn", "mightn't", "mustn",
	"mustn't", "needn", "needn't", "shan", "shan't", "shouldn", "shouldn't", "wasn",
	"wasn't", "weren", "weren't", "won", "won't", "wouldn", "wouldn't",
}

// Resources is the read-only stopword set and stemmer shared by every
// Normalizer in the process. Build it once at startup and pass it down.
type Resources struct {
	stopwords map[string]struct{}
	stem      func(string) string
}

// NewResources builds Resources from an explicit stopword list and the
// Snowball English stemmer.
func NewResources(stopwords []string) *Resources {
	set := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return &Resources{
		stopwords: set,
		stem:      snowballStem,
	}
}

// DefaultResources returns the English stopword list with the Snowball
// English stemmer.
func DefaultResources() *Resources {
	return NewResources(englishStopwords)
}

// LoadResources reads a stopword file (one word per line, '#' starts a
// comment). An empty path yields DefaultResources.
func LoadResources(path string) (*Resources, error) {
	if path == "" {
		return DefaultResources(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening stopwords file %s: %w", path, err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			words = append(words, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stopwords file %s: %w", path, err)
	}
	return NewResources(words), nil
}

// IsStopword reports whether the lowercased word is in the stopword set.
func (r *Resources) IsStopword(word string) bool {
	_, ok := r.stopwords[word]
	return ok
}

// StopwordCount returns the size of the stopword set.
func (r *Resources) StopwordCount() int {
	return len(r.stopwords)
}

// Stopwords are filtered by the Normalizer before stemming, so the stemmer's
// own stopword bypass is disabled.
func snowballStem(word string) string {
	return english.Stem(word, true)
}
