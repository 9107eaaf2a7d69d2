// Package retriever ranks indexed documents against a free-text query by
// TF-IDF cosine similarity.
//
// Retrieval reads the store outside any transaction. A retrieval running
// alongside indexing sees a snapshot that may lag in-flight writes.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/textproc"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/metrics"
)

// Result is one ranked document.
type Result struct {
	DocumentID int64   `json:"document_id"`
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
}

// SearchResult is a limited, possibly cached, ranking.
type SearchResult struct {
	Query    string   `json:"query"`
	Terms    []string `json:"terms"`
	Results  []Result `json:"results"`
	Total    int      `json:"total"`
	CacheHit bool     `json:"cache_hit"`
	TookMs   int64    `json:"took_ms"`
}

// Cache stores full rankings by query key.
type Cache interface {
	GetOrCompute(ctx context.Context, key string, compute func() ([]Result, error)) ([]Result, bool, error)
	Invalidate(ctx context.Context) error
}

type Retriever struct {
	store        store.Reader
	normalizer   *textproc.Normalizer
	threshold    float64
	defaultLimit int
	maxResults   int
	cache        Cache
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

type Option func(*Retriever)

// WithThreshold sets the similarity above which documents are dropped as
// degenerate matches.
func WithThreshold(threshold float64) Option {
	return func(r *Retriever) { r.threshold = threshold }
}

func WithLimits(defaultLimit, maxResults int) Option {
	return func(r *Retriever) {
		r.defaultLimit = defaultLimit
		r.maxResults = maxResults
	}
}

func WithCache(c Cache) Option {
	return func(r *Retriever) { r.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Retriever) { r.metrics = m }
}

func New(s store.Reader, n *textproc.Normalizer, opts ...Option) *Retriever {
	if n == nil {
		n = textproc.NewNormalizer(nil)
	}
	r := &Retriever{
		store:        s,
		normalizer:   n,
		threshold:    config.DefaultSimilarityThreshold,
		defaultLimit: 10,
		maxResults:   100,
		logger:       logger.WithComponent("retriever"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retriever) Threshold() float64 {
	return r.threshold
}

// ParseQuery normalizes query exactly as documents are normalized.
func (r *Retriever) ParseQuery(query string) map[string]int {
	return r.normalizer.ParseQuery(query)
}

// Retrieve ranks every document by similarity to query, keeping those
// scoring at or below the threshold, best first. Documents with equal scores
// keep their ID order. A query with no surviving terms yields no results.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Result, error) {
	return r.rank(ctx, r.ParseQuery(query))
}

func (r *Retriever) rank(ctx context.Context, freqs map[string]int) ([]Result, error) {
	start := time.Now()
	results := make([]Result, 0)
	if len(freqs) == 0 {
		r.observe("degenerate", start, 0)
		return results, nil
	}

	results, err := r.score(ctx, freqs, results)
	if err != nil {
		r.observe("error", start, 0)
		return nil, fmt.Errorf("ranking documents: %w", err)
	}

	resultType := "hit"
	if len(results) == 0 {
		resultType = "zero_result"
	}
	r.observe(resultType, start, len(results))
	r.logger.Debug("retrieval completed",
		"terms", len(freqs),
		"results", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

func (r *Retriever) score(ctx context.Context, freqs map[string]int, results []Result) ([]Result, error) {
	idf, err := CorpusIDF(ctx, r.store)
	if err != nil {
		return nil, err
	}
	q := TFIDFQuery(freqs, idf)

	docs, err := r.store.ListAllDocuments(ctx)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := TFIDFDocument(ctx, r.store, doc, idf)
		if err != nil {
			return nil, err
		}
		sim, ok := CosineSimilarity(q, d)
		if !ok || sim > r.threshold {
			continue
		}
		results = append(results, Result{
			DocumentID: doc.ID,
			URL:        doc.URL,
			Title:      doc.Title,
			Score:      sim,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// Search returns at most limit ranked documents for query, serving the full
// ranking from the cache when one is configured. A non-positive limit selects
// the default, and limits above the maximum are capped.
func (r *Retriever) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	start := time.Now()
	if limit <= 0 {
		limit = r.defaultLimit
	}
	if limit > r.maxResults {
		limit = r.maxResults
	}

	freqs := r.ParseQuery(query)
	compute := func() ([]Result, error) { return r.rank(ctx, freqs) }

	var (
		ranked   []Result
		cacheHit bool
		err      error
	)
	if r.cache != nil && len(freqs) > 0 {
		ranked, cacheHit, err = r.cache.GetOrCompute(ctx, QueryKey(freqs), compute)
		if r.metrics != nil {
			if cacheHit {
				r.metrics.CacheHitsTotal.Inc()
			} else {
				r.metrics.CacheMissesTotal.Inc()
			}
		}
	} else {
		ranked, err = compute()
	}
	if err != nil {
		return nil, err
	}

	total := len(ranked)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	terms := make([]string, 0, len(freqs))
	for term := range freqs {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	return &SearchResult{
		Query:    query,
		Terms:    terms,
		Results:  ranked,
		Total:    total,
		CacheHit: cacheHit,
		TookMs:   time.Since(start).Milliseconds(),
	}, nil
}

// InvalidateCache drops every cached ranking. It is a no-op without a cache.
func (r *Retriever) InvalidateCache(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Invalidate(ctx)
}

// QueryKey renders parsed query terms canonically, so queries that
// normalize alike share a cache entry.
func QueryKey(freqs map[string]int) string {
	terms := make([]string, 0, len(freqs))
	for term := range freqs {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	var b strings.Builder
	for i, term := range terms {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(term)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(freqs[term]))
	}
	return b.String()
}

func (r *Retriever) observe(resultType string, start time.Time, n int) {
	if r.metrics == nil {
		return
	}
	r.metrics.RetrievalsTotal.WithLabelValues(resultType).Inc()
	r.metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	if resultType != "error" {
		r.metrics.RetrievalResults.Observe(float64(n))
	}
}
