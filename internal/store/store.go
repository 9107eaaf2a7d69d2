// Package store defines the lexicon data model and the storage interface the
// indexer and retriever consume. Three record types are kept: Document,
// TermLexicon (corpus-wide term frequency) and DocumentLexicon (per-document
// term frequency linking the two).
//
// For every term T the store must satisfy, after each committed transaction,
//
//	TermLexicon(T).Frequency == sum over D of DocumentLexicon(D, T).Frequency
//
// Implementations live in the memstore and sqlstore subpackages.
package store

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/errors"
)

// Document is an indexed page.
type Document struct {
	ID    int64  `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (d Document) String() string {
	return fmt.Sprintf("%s: %s", d.Title, d.URL)
}

// Validate checks that url, title and text are all non-empty.
func (d Document) Validate() error {
	fields := make(map[string]string)
	if strings.TrimSpace(d.URL) == "" {
		fields["url"] = "url is required"
	}
	if strings.TrimSpace(d.Title) == "" {
		fields["title"] = "title is required"
	}
	if strings.TrimSpace(d.Text) == "" {
		fields["text"] = "text is required"
	}
	return apperrors.Validation("document", fields)
}

// TermLexicon is a term's frequency summed over the whole corpus.
type TermLexicon struct {
	ID        int64  `json:"id"`
	Term      string `json:"term"`
	Frequency int    `json:"frequency"`
}

func (t TermLexicon) String() string {
	return fmt.Sprintf("%s (%d)", t.Term, t.Frequency)
}

func (t TermLexicon) Validate() error {
	return validateTerm("term", t.Term, t.Frequency)
}

// DocumentLexicon is one (document, term) pairing with the term's frequency
// inside that document. Term is denormalized from TermLexicon for reads.
type DocumentLexicon struct {
	ID         int64  `json:"id"`
	DocumentID int64  `json:"document_id"`
	TermID     int64  `json:"term_id"`
	Term       string `json:"term"`
	Frequency  int    `json:"frequency"`
}

func (dl DocumentLexicon) String() string {
	return fmt.Sprintf("%s (%d)", dl.Term, dl.Frequency)
}

func (dl DocumentLexicon) Validate() error {
	fields := make(map[string]string)
	if dl.DocumentID == 0 {
		fields["document"] = "document is required"
	}
	if dl.TermID == 0 {
		fields["term"] = "term is required"
	}
	if dl.Frequency < 0 {
		fields["frequency"] = "frequency must not be negative"
	}
	return apperrors.Validation("document lexicon", fields)
}

func validateTerm(entity, term string, frequency int) error {
	fields := make(map[string]string)
	if term == "" {
		fields["term"] = "term is required"
	}
	if frequency < 0 {
		fields["frequency"] = "frequency must not be negative"
	}
	return apperrors.Validation(entity, fields)
}

// ValidateNewTerm checks the arguments of Tx.CreateTerm.
func ValidateNewTerm(term string, frequency int) error {
	return validateTerm("term", term, frequency)
}

// Reader holds the lookups usable both inside and outside a transaction.
// Lookups that miss report found=false and a nil error.
type Reader interface {
	FindDocument(ctx context.Context, url string) (Document, bool, error)
	FindTerm(ctx context.Context, term string) (TermLexicon, bool, error)
	FindDocTerm(ctx context.Context, documentID, termID int64) (DocumentLexicon, bool, error)
	ListDocTerms(ctx context.Context, documentID int64) ([]DocumentLexicon, error)
	// ListAllDocuments returns every document ordered by ID.
	ListAllDocuments(ctx context.Context) ([]Document, error)
	ListAllTerms(ctx context.Context) ([]TermLexicon, error)
	CountDocuments(ctx context.Context) (int, error)
	CountDocsWithTerm(ctx context.Context, termID int64) (int, error)
	// DocumentFrequencies returns, for every term in the lexicon, the number
	// of documents with a DocumentLexicon row for it (zero included).
	DocumentFrequencies(ctx context.Context) (map[string]int, error)
}

// Tx is the write side of the store, scoped to one atomic logical operation.
type Tx interface {
	Reader
	// GetOrCreateDocument returns the document for doc.URL, creating it from
	// doc when absent. The returned row is locked until the transaction ends.
	GetOrCreateDocument(ctx context.Context, doc Document) (Document, bool, error)
	SaveDocument(ctx context.Context, doc Document) error
	// DeleteDocument fails while DocumentLexicon rows still reference it.
	DeleteDocument(ctx context.Context, documentID int64) error
	// CreateTerm inserts term with the given frequency. When a concurrent
	// writer created it first, frequency is added to the existing row.
	CreateTerm(ctx context.Context, term string, frequency int) (TermLexicon, error)
	SaveTerm(ctx context.Context, term TermLexicon) error
	// AddTermFrequency atomically adds delta to the term's frequency and
	// returns the updated row.
	AddTermFrequency(ctx context.Context, termID int64, delta int) (TermLexicon, error)
	// CreateDocTerm returns an error matching ErrConsistencyViolation when the
	// pairing already exists.
	CreateDocTerm(ctx context.Context, documentID, termID int64, frequency int) (DocumentLexicon, error)
	SaveDocTerm(ctx context.Context, row DocumentLexicon) error
	DeleteDocTerm(ctx context.Context, row DocumentLexicon) error
}

// Store is a lexicon store. Reads on the Store itself are not isolated from
// concurrent writers; callers get a snapshot that may lag in-flight
// transactions.
type Store interface {
	Reader
	// InTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
