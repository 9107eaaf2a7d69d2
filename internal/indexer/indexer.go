// Package indexer maintains the inverted index. Every logical operation runs
// in a single store transaction, so the corpus frequency of each term always
// equals the sum of its per-document frequencies once the operation returns.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/textproc"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/metrics"
)

// UpdateStrategy selects how an already-indexed document is re-indexed.
type UpdateStrategy int

const (
	// Rewrite removes every lexicon row of the document and inserts the new
	// term set from scratch.
	Rewrite UpdateStrategy = iota
	// Incremental diffs the stored term set against the new one and only
	// touches terms whose frequency changed.
	Incremental
)

func (s UpdateStrategy) String() string {
	switch s {
	case Rewrite:
		return "rewrite"
	case Incremental:
		return "incremental"
	default:
		return fmt.Sprintf("UpdateStrategy(%d)", int(s))
	}
}

// ParseStrategy maps a configured strategy name to its UpdateStrategy.
func ParseStrategy(name string) (UpdateStrategy, error) {
	switch name {
	case "", "rewrite":
		return Rewrite, nil
	case "incremental":
		return Incremental, nil
	default:
		return Rewrite, fmt.Errorf("unknown update strategy %q", name)
	}
}

// IndexRequest is one scraped page.
type IndexRequest struct {
	Tokens   []string `json:"tokens"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	FullText string   `json:"full_text"`
}

func (r IndexRequest) document() store.Document {
	return store.Document{URL: r.URL, Title: r.Title, Text: r.FullText}
}

type Result struct {
	DocumentID int64 `json:"document_id"`
	Created    bool  `json:"created"`
	Terms      int   `json:"terms"`
	// Tokens counts the tokens that survived normalization.
	Tokens int `json:"tokens"`
}

type Indexer struct {
	store      store.Store
	normalizer *textproc.Normalizer
	strategy   UpdateStrategy
	metrics    *metrics.Metrics
	onChange   []func(ctx context.Context)
	logger     *slog.Logger
}

type Option func(*Indexer)

func WithStrategy(s UpdateStrategy) Option {
	return func(ix *Indexer) { ix.strategy = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Indexer) { ix.metrics = m }
}

// WithOnChange registers fn to run after every committed change to the index.
func WithOnChange(fn func(ctx context.Context)) Option {
	return func(ix *Indexer) { ix.onChange = append(ix.onChange, fn) }
}

func New(s store.Store, n *textproc.Normalizer, opts ...Option) *Indexer {
	if n == nil {
		n = textproc.NewNormalizer(nil)
	}
	ix := &Indexer{
		store:      s,
		normalizer: n,
		logger:     logger.WithComponent("indexer"),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Index creates or re-indexes the document at req.URL.
func (ix *Indexer) Index(ctx context.Context, req IndexRequest) (Result, error) {
	start := time.Now()
	doc := req.document()
	if err := doc.Validate(); err != nil {
		return Result{}, err
	}
	parsed := ix.normalizer.Parse(req.Tokens)

	var result Result
	err := ix.store.InTx(ctx, func(tx store.Tx) error {
		stored, created, err := tx.GetOrCreateDocument(ctx, doc)
		if err != nil {
			return err
		}
		result = Result{
			DocumentID: stored.ID,
			Created:    created,
			Terms:      parsed.Len(),
			Tokens:     parsed.TotalFrequency(),
		}

		if created {
			_, err := ix.InsertTerms(ctx, tx, stored, parsed.TermFrequencies)
			return err
		}

		if stored.Title != doc.Title || stored.Text != doc.Text {
			doc.ID = stored.ID
			if err := tx.SaveDocument(ctx, doc); err != nil {
				return err
			}
			stored = doc
		}
		if ix.strategy == Incremental {
			return ix.reconcile(ctx, tx, stored, parsed.TermFrequencies)
		}
		if err := ix.Cleanup(ctx, tx, stored); err != nil {
			return err
		}
		_, err = ix.InsertTerms(ctx, tx, stored, parsed.TermFrequencies)
		return err
	})
	if err != nil {
		ix.recordFailure(err, "url", req.URL)
		return Result{}, fmt.Errorf("indexing %s: %w", req.URL, err)
	}

	path := "update"
	if result.Created {
		path = "insert"
	}
	if ix.metrics != nil {
		ix.metrics.DocsIndexedTotal.WithLabelValues(path).Inc()
		ix.metrics.IndexDuration.Observe(time.Since(start).Seconds())
	}
	ix.logger.Info("document indexed",
		"url", req.URL,
		"document_id", result.DocumentID,
		"path", path,
		"terms", result.Terms,
		"tokens", len(req.Tokens),
		"indexed_tokens", result.Tokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	ix.notify(ctx)
	return result, nil
}

// Delete removes the document at url and its contribution to every term.
func (ix *Indexer) Delete(ctx context.Context, url string) error {
	err := ix.store.InTx(ctx, func(tx store.Tx) error {
		doc, ok, err := tx.FindDocument(ctx, url)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "no document indexed at %q", url)
		}
		if err := ix.Cleanup(ctx, tx, doc); err != nil {
			return err
		}
		return tx.DeleteDocument(ctx, doc.ID)
	})
	if err != nil {
		if !errors.Is(err, apperrors.ErrDocumentNotFound) {
			ix.recordFailure(err, "url", url)
		}
		return fmt.Errorf("deleting %s: %w", url, err)
	}

	if ix.metrics != nil {
		ix.metrics.DocsDeletedTotal.Inc()
	}
	ix.logger.Info("document deleted", "url", url)
	ix.notify(ctx)
	return nil
}

// InsertTerms adds freqs to the corpus lexicon and creates one document
// lexicon row per term. The document must have no existing row for any of
// the terms. Terms are processed in sorted order so concurrent writers lock
// term rows in the same sequence.
func (ix *Indexer) InsertTerms(ctx context.Context, tx store.Tx, doc store.Document, freqs map[string]int) (int, error) {
	terms := make([]string, 0, len(freqs))
	for term := range freqs {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	for _, term := range terms {
		freq := freqs[term]
		tl, found, err := tx.FindTerm(ctx, term)
		if err != nil {
			return 0, err
		}
		if found {
			tl, err = tx.AddTermFrequency(ctx, tl.ID, freq)
		} else {
			tl, err = tx.CreateTerm(ctx, term, freq)
		}
		if err != nil {
			return 0, fmt.Errorf("updating corpus frequency of %q: %w", term, err)
		}

		existing, dup, err := tx.FindDocTerm(ctx, doc.ID, tl.ID)
		if err != nil {
			return 0, err
		}
		if dup {
			return 0, &apperrors.ConsistencyError{
				DocumentID: doc.ID,
				TermID:     tl.ID,
				Term:       term,
				RowID:      existing.ID,
			}
		}
		if _, err := tx.CreateDocTerm(ctx, doc.ID, tl.ID, freq); err != nil {
			return 0, err
		}
	}
	ix.logger.Debug("terms inserted", "document_id", doc.ID, "terms", len(terms))
	return len(terms), nil
}

// Cleanup removes every document lexicon row of doc, subtracting each row's
// frequency from its term first. Term rows are kept even when they reach 0.
func (ix *Indexer) Cleanup(ctx context.Context, tx store.Tx, doc store.Document) error {
	rows, err := tx.ListDocTerms(ctx, doc.ID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := ix.removeRow(ctx, tx, row); err != nil {
			return err
		}
	}
	ix.logger.Debug("document lexicon cleaned", "document_id", doc.ID, "rows", len(rows))
	return nil
}

func (ix *Indexer) removeRow(ctx context.Context, tx store.Tx, row store.DocumentLexicon) error {
	if _, err := tx.AddTermFrequency(ctx, row.TermID, -row.Frequency); err != nil {
		return fmt.Errorf("removing %q from corpus frequency: %w", row.Term, err)
	}
	return tx.DeleteDocTerm(ctx, row)
}

// reconcile brings the stored term set of doc in line with freqs, touching
// only rows whose frequency differs.
func (ix *Indexer) reconcile(ctx context.Context, tx store.Tx, doc store.Document, freqs map[string]int) error {
	rows, err := tx.ListDocTerms(ctx, doc.ID)
	if err != nil {
		return err
	}
	added := make(map[string]int, len(freqs))
	for term, freq := range freqs {
		added[term] = freq
	}

	changed, removed := 0, 0
	for _, row := range rows {
		freq, keep := freqs[row.Term]
		if !keep {
			if err := ix.removeRow(ctx, tx, row); err != nil {
				return err
			}
			removed++
			continue
		}
		delete(added, row.Term)
		if freq != row.Frequency {
			changed++
		}
		if _, err := ix.SetDocumentTermFrequency(ctx, tx, row, freq); err != nil {
			return err
		}
	}

	inserted, err := ix.InsertTerms(ctx, tx, doc, added)
	if err != nil {
		return err
	}
	ix.logger.Debug("document lexicon reconciled",
		"document_id", doc.ID,
		"changed", changed,
		"removed", removed,
		"inserted", inserted,
	)
	return nil
}

// SetDocumentTermFrequency sets row's frequency to freq and moves the
// corpus frequency of its term by the same delta. Nothing is written when
// the frequency is unchanged.
func (ix *Indexer) SetDocumentTermFrequency(ctx context.Context, tx store.Tx, row store.DocumentLexicon, freq int) (store.DocumentLexicon, error) {
	if freq == row.Frequency {
		return row, nil
	}
	if freq < 0 {
		return row, apperrors.Validation("document lexicon", map[string]string{
			"frequency": "frequency must not be negative",
		})
	}
	if err := ix.SetCorpusTermFrequencyGivenDocDelta(ctx, tx, row.TermID, row.Frequency, freq); err != nil {
		return row, err
	}
	updated := row
	updated.Frequency = freq
	if err := tx.SaveDocTerm(ctx, updated); err != nil {
		return row, err
	}
	return updated, nil
}

// SetCorpusTermFrequencyGivenDocDelta replaces a document's old contribution
// to the term with its new one.
func (ix *Indexer) SetCorpusTermFrequencyGivenDocDelta(ctx context.Context, tx store.Tx, termID int64, oldFreq, newFreq int) error {
	if oldFreq == newFreq {
		return nil
	}
	if _, err := tx.AddTermFrequency(ctx, termID, newFreq-oldFreq); err != nil {
		return fmt.Errorf("moving corpus frequency of term %d by %d: %w", termID, newFreq-oldFreq, err)
	}
	return nil
}

func (ix *Indexer) recordFailure(err error, args ...any) {
	if errors.Is(err, apperrors.ErrValidation) {
		ix.logger.Warn("index operation rejected", append(args, "error", err)...)
		return
	}
	if errors.Is(err, apperrors.ErrConsistencyViolation) && ix.metrics != nil {
		ix.metrics.ConsistencyViolations.Inc()
	}
	ix.logger.Error("index operation failed", append(args, "error", err)...)
}

func (ix *Indexer) notify(ctx context.Context) {
	for _, fn := range ix.onChange {
		fn(ctx)
	}
}
