package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store/memstore"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/metrics"
)

func seed(t testing.TB, s store.Store, pages map[string]string, order ...string) {
	t.Helper()
	ix := indexer.New(s, nil)
	for _, url := range order {
		text := pages[url]
		_, err := ix.Index(context.Background(), indexer.IndexRequest{
			Tokens:   strings.Fields(text),
			Title:    "Page " + url,
			URL:      url,
			FullText: text,
		})
		require.NoError(t, err)
	}
}

// fruitCorpus indexes three documents:
//
//	d1: appl 3, banana 1
//	d2: banana 2, cherri 1
//	d3: kiwi 1, mango 1
func fruitCorpus(t testing.TB) store.Store {
	s := memstore.New()
	seed(t, s, map[string]string{
		"http://d1/": "apple apple apple banana",
		"http://d2/": "banana banana cherry",
		"http://d3/": "kiwi mango",
	}, "http://d1/", "http://d2/", "http://d3/")
	return s
}

func TestIDF(t *testing.T) {
	assert.InDelta(t, 1+math.Log(5), IDF(5, 1), 1e-12)
	assert.InDelta(t, 1.0, IDF(5, 5), 1e-12)
	assert.Equal(t, 1.0, IDF(5, 0))
	assert.Equal(t, 1.0, IDF(0, 0))
}

func TestCorpusIDF(t *testing.T) {
	s := fruitCorpus(t)
	idf, err := CorpusIDF(context.Background(), s)
	require.NoError(t, err)

	assert.Len(t, idf, 5)
	assert.InDelta(t, 1+math.Log(3), idf["appl"], 1e-12)
	assert.InDelta(t, 1+math.Log(1.5), idf["banana"], 1e-12)
	assert.InDelta(t, 1+math.Log(3), idf["mango"], 1e-12)
}

func TestCorpusIDFUnreferencedTerm(t *testing.T) {
	s := fruitCorpus(t)
	ix := indexer.New(s, nil)
	require.NoError(t, ix.Delete(context.Background(), "http://d3/"))

	idf, err := CorpusIDF(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 1.0, idf["kiwi"], "terms whose documents are gone fall back to 1")
}

func TestTFIDFQuery(t *testing.T) {
	idf := map[string]float64{"appl": 2.0}
	v := TFIDFQuery(map[string]int{"appl": 1, "unseen": 2}, idf)

	assert.InDelta(t, math.Log(2.2)*2.0, v["appl"], 1e-12)
	assert.InDelta(t, math.Log(3.2), v["unseen"], 1e-12)
}

func TestTFIDFDocument(t *testing.T) {
	s := fruitCorpus(t)
	ctx := context.Background()
	idf, err := CorpusIDF(ctx, s)
	require.NoError(t, err)
	d1, _, err := s.FindDocument(ctx, "http://d1/")
	require.NoError(t, err)

	v, err := TFIDFDocument(ctx, s, d1, idf)
	require.NoError(t, err)
	assert.Len(t, v, 2)
	assert.InDelta(t, math.Log(4.2)*idf["appl"], v["appl"], 1e-12)
	assert.InDelta(t, math.Log(2.2)*idf["banana"], v["banana"], 1e-12)
}

func TestCosineSimilarity(t *testing.T) {
	q := Vector{"a": 1, "b": 1}

	sim, ok := CosineSimilarity(q, Vector{"a": 2, "b": 2, "ignored": 100})
	require.True(t, ok)
	assert.InDelta(t, 1.0, sim, 1e-12)

	sim, ok = CosineSimilarity(q, Vector{"a": 1})
	require.True(t, ok)
	want := (1 + floorWeight) / (math.Sqrt2 * math.Sqrt(1+floorWeight*floorWeight))
	assert.InDelta(t, want, sim, 1e-12)

	_, ok = CosineSimilarity(Vector{}, Vector{"a": 1})
	assert.False(t, ok)
	_, ok = CosineSimilarity(Vector{"a": 0}, Vector{"a": 1})
	assert.False(t, ok)
}

func TestRetrieveRanking(t *testing.T) {
	r := New(fruitCorpus(t), nil)

	results, err := r.Retrieve(context.Background(), "apple banana")
	require.NoError(t, err)
	require.Len(t, results, 3)

	// The floor weight makes a document with neither term parallel to a
	// balanced query, so d3 outranks the partial matches.
	assert.Equal(t, "http://d3/", results[0].URL)
	assert.Equal(t, "http://d1/", results[1].URL)
	assert.Equal(t, "http://d2/", results[2].URL)
	assert.InDelta(t, 0.980979, results[0].Score, 1e-4)
	assert.InDelta(t, 0.971920, results[1].Score, 1e-4)
	assert.InDelta(t, 0.645109, results[2].Score, 1e-4)
	assert.Equal(t, "Page http://d1/", results[1].Title)
}

func TestRetrieveSingleTermQueryHitsThreshold(t *testing.T) {
	s := fruitCorpus(t)
	ctx := context.Background()

	results, err := New(s, nil).Retrieve(ctx, "apple")
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results, "every document scores exactly 1 for a one-term query")

	results, err = New(s, nil, WithThreshold(1.0)).Retrieve(ctx, "apple")
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, want := range []string{"http://d1/", "http://d2/", "http://d3/"} {
		assert.Equal(t, want, results[i].URL, "ties keep document order")
		assert.InDelta(t, 1.0, results[i].Score, 1e-12)
	}
}

func TestRetrieveDegenerateQueries(t *testing.T) {
	r := New(fruitCorpus(t), nil)
	for _, query := range []string{"", "   ", "the a is", "42 $$$"} {
		results, err := r.Retrieve(context.Background(), query)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	}
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	results, err := New(memstore.New(), nil).Retrieve(context.Background(), "apple banana")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveIsDeterministic(t *testing.T) {
	s := memstore.New()
	pages := make(map[string]string)
	order := make([]string, 0, 20)
	words := []string{"apple", "banana", "cherry", "kiwi", "mango", "pear"}
	for i := 0; i < 20; i++ {
		url := fmt.Sprintf("http://doc/%02d", i)
		parts := make([]string, 0, 8)
		for j := 0; j <= i%5; j++ {
			parts = append(parts, words[(i+j)%len(words)], words[(i*j)%len(words)])
		}
		pages[url] = strings.Join(parts, " ")
		order = append(order, url)
	}
	seed(t, s, pages, order...)
	r := New(s, nil)

	first, err := r.Retrieve(context.Background(), "apple mango pear pear")
	require.NoError(t, err)
	require.NotEmpty(t, first)
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), "apple mango pear pear")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	for i := 1; i < len(first); i++ {
		assert.GreaterOrEqual(t, first[i-1].Score, first[i].Score)
		assert.LessOrEqual(t, first[i].Score, r.Threshold())
	}
}

func TestRetrieveHonoursContext(t *testing.T) {
	r := New(fruitCorpus(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Retrieve(ctx, "apple banana")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueryKey(t *testing.T) {
	assert.Equal(t, "appl:2,banana:1", QueryKey(map[string]int{"banana": 1, "appl": 2}))
	assert.Equal(t, "", QueryKey(nil))
}

// mapCache is an in-process Cache.
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]Result
	cleared int
}

func (c *mapCache) GetOrCompute(_ context.Context, key string, compute func() ([]Result, error)) ([]Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit, ok := c.entries[key]; ok {
		return hit, true, nil
	}
	results, err := compute()
	if err != nil {
		return nil, false, err
	}
	c.entries[key] = results
	return results, false, nil
}

func (c *mapCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]Result)
	c.cleared++
	return nil
}

func TestSearchLimitsAndCaches(t *testing.T) {
	cache := &mapCache{entries: make(map[string][]Result)}
	m := metrics.New(prometheus.NewRegistry())
	r := New(fruitCorpus(t), nil, WithCache(cache), WithLimits(2, 3), WithMetrics(m))
	ctx := context.Background()

	res, err := r.Search(ctx, "apple banana", 0)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Len(t, res.Results, 2)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, []string{"appl", "banana"}, res.Terms)

	res, err = r.Search(ctx, "Bananas APPLES", 50)
	require.NoError(t, err)
	assert.True(t, res.CacheHit, "queries normalizing alike share an entry")
	assert.Len(t, res.Results, 3)

	require.NoError(t, r.InvalidateCache(ctx))
	assert.Equal(t, 1, cache.cleared)
	res, err = r.Search(ctx, "apple banana", 1)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Len(t, res.Results, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMissesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RetrievalsTotal.WithLabelValues("hit")))
}

func TestSearchSkipsCacheForDegenerateQuery(t *testing.T) {
	cache := &mapCache{entries: make(map[string][]Result)}
	r := New(fruitCorpus(t), nil, WithCache(cache))

	res, err := r.Search(context.Background(), "the", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Empty(t, cache.entries)
}

type failingReader struct {
	store.Reader
}

func (failingReader) CountDocuments(context.Context) (int, error) {
	return 0, errors.New("connection reset")
}

func TestRetrievePropagatesStoreErrors(t *testing.T) {
	r := New(failingReader{Reader: memstore.New()}, nil)
	_, err := r.Retrieve(context.Background(), "apple banana")
	assert.ErrorContains(t, err, "connection reset")

	assert.NoError(t, r.InvalidateCache(context.Background()))
}

func BenchmarkRetrieve(b *testing.B) {
	s := memstore.New()
	pages := make(map[string]string)
	order := make([]string, 0, 200)
	words := strings.Fields("search engines rank documents by weighting query terms against an inverted index of stemmed words")
	for i := 0; i < 200; i++ {
		url := fmt.Sprintf("http://bench/%d", i)
		parts := make([]string, 0, 30)
		for j := 0; j < 30; j++ {
			parts = append(parts, words[(i*7+j*3)%len(words)])
		}
		pages[url] = strings.Join(parts, " ")
		order = append(order, url)
	}
	seed(b, s, pages, order...)
	r := New(s, nil)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Retrieve(ctx, "ranking inverted documents"); err != nil {
			b.Fatal(err)
		}
	}
}
