// Package memstore is an in-process lexicon store. Transactions run against a
// copy of the current state under the write lock and replace it on commit, so
// a failed transaction leaves nothing behind.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/errors"
)

var errClosed = errors.New("memstore: store is closed")

type pairKey struct {
	documentID int64
	termID     int64
}

type state struct {
	nextID    int64
	docs      map[int64]store.Document
	docByURL  map[string]int64
	terms     map[int64]store.TermLexicon
	termByKey map[string]int64
	rows      map[int64]store.DocumentLexicon
	rowByPair map[pairKey]int64
}

func newState() *state {
	return &state{
		docs:      make(map[int64]store.Document),
		docByURL:  make(map[string]int64),
		terms:     make(map[int64]store.TermLexicon),
		termByKey: make(map[string]int64),
		rows:      make(map[int64]store.DocumentLexicon),
		rowByPair: make(map[pairKey]int64),
	}
}

func (s *state) clone() *state {
	c := &state{
		nextID:    s.nextID,
		docs:      make(map[int64]store.Document, len(s.docs)),
		docByURL:  make(map[string]int64, len(s.docByURL)),
		terms:     make(map[int64]store.TermLexicon, len(s.terms)),
		termByKey: make(map[string]int64, len(s.termByKey)),
		rows:      make(map[int64]store.DocumentLexicon, len(s.rows)),
		rowByPair: make(map[pairKey]int64, len(s.rowByPair)),
	}
	for k, v := range s.docs {
		c.docs[k] = v
	}
	for k, v := range s.docByURL {
		c.docByURL[k] = v
	}
	for k, v := range s.terms {
		c.terms[k] = v
	}
	for k, v := range s.termByKey {
		c.termByKey[k] = v
	}
	for k, v := range s.rows {
		c.rows[k] = v
	}
	for k, v := range s.rowByPair {
		c.rowByPair[k] = v
	}
	return c
}

// Store is a store.Store held entirely in memory.
type Store struct {
	mu     sync.RWMutex
	st     *state
	closed bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(&tx{state: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	s.st = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) view() (*state, func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, nil, errClosed
	}
	return s.st, s.mu.RUnlock, nil
}

func (s *Store) FindDocument(ctx context.Context, url string) (store.Document, bool, error) {
	st, done, err := s.view()
	if err != nil {
		return store.Document{}, false, err
	}
	defer done()
	return st.FindDocument(ctx, url)
}

func (s *Store) FindTerm(ctx context.Context, term string) (store.TermLexicon, bool, error) {
	st, done, err := s.view()
	if err != nil {
		return store.TermLexicon{}, false, err
	}
	defer done()
	return st.FindTerm(ctx, term)
}

func (s *Store) FindDocTerm(ctx context.Context, documentID, termID int64) (store.DocumentLexicon, bool, error) {
	st, done, err := s.view()
	if err != nil {
		return store.DocumentLexicon{}, false, err
	}
	defer done()
	return st.FindDocTerm(ctx, documentID, termID)
}

func (s *Store) ListDocTerms(ctx context.Context, documentID int64) ([]store.DocumentLexicon, error) {
	st, done, err := s.view()
	if err != nil {
		return nil, err
	}
	defer done()
	return st.ListDocTerms(ctx, documentID)
}

func (s *Store) ListAllDocuments(ctx context.Context) ([]store.Document, error) {
	st, done, err := s.view()
	if err != nil {
		return nil, err
	}
	defer done()
	return st.ListAllDocuments(ctx)
}

func (s *Store) ListAllTerms(ctx context.Context) ([]store.TermLexicon, error) {
	st, done, err := s.view()
	if err != nil {
		return nil, err
	}
	defer done()
	return st.ListAllTerms(ctx)
}

func (s *Store) CountDocuments(ctx context.Context) (int, error) {
	st, done, err := s.view()
	if err != nil {
		return 0, err
	}
	defer done()
	return st.CountDocuments(ctx)
}

func (s *Store) CountDocsWithTerm(ctx context.Context, termID int64) (int, error) {
	st, done, err := s.view()
	if err != nil {
		return 0, err
	}
	defer done()
	return st.CountDocsWithTerm(ctx, termID)
}

func (s *Store) DocumentFrequencies(ctx context.Context) (map[string]int, error) {
	st, done, err := s.view()
	if err != nil {
		return nil, err
	}
	defer done()
	return st.DocumentFrequencies(ctx)
}

func (s *state) FindDocument(_ context.Context, url string) (store.Document, bool, error) {
	id, ok := s.docByURL[url]
	if !ok {
		return store.Document{}, false, nil
	}
	return s.docs[id], true, nil
}

func (s *state) FindTerm(_ context.Context, term string) (store.TermLexicon, bool, error) {
	id, ok := s.termByKey[term]
	if !ok {
		return store.TermLexicon{}, false, nil
	}
	return s.terms[id], true, nil
}

func (s *state) FindDocTerm(_ context.Context, documentID, termID int64) (store.DocumentLexicon, bool, error) {
	id, ok := s.rowByPair[pairKey{documentID, termID}]
	if !ok {
		return store.DocumentLexicon{}, false, nil
	}
	return s.rows[id], true, nil
}

func (s *state) ListDocTerms(_ context.Context, documentID int64) ([]store.DocumentLexicon, error) {
	result := make([]store.DocumentLexicon, 0)
	for _, row := range s.rows {
		if row.DocumentID == documentID {
			result = append(result, row)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *state) ListAllDocuments(_ context.Context) ([]store.Document, error) {
	result := make([]store.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		result = append(result, doc)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *state) ListAllTerms(_ context.Context) ([]store.TermLexicon, error) {
	result := make([]store.TermLexicon, 0, len(s.terms))
	for _, term := range s.terms {
		result = append(result, term)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *state) CountDocuments(_ context.Context) (int, error) {
	return len(s.docs), nil
}

func (s *state) CountDocsWithTerm(_ context.Context, termID int64) (int, error) {
	count := 0
	for _, row := range s.rows {
		if row.TermID == termID {
			count++
		}
	}
	return count, nil
}

func (s *state) DocumentFrequencies(_ context.Context) (map[string]int, error) {
	result := make(map[string]int, len(s.terms))
	for _, term := range s.terms {
		result[term.Term] = 0
	}
	for _, row := range s.rows {
		result[s.terms[row.TermID].Term]++
	}
	return result, nil
}

func (s *state) allocID() int64 {
	s.nextID++
	return s.nextID
}

type tx struct {
	*state
}

func (t *tx) GetOrCreateDocument(_ context.Context, doc store.Document) (store.Document, bool, error) {
	if id, ok := t.docByURL[doc.URL]; ok {
		return t.docs[id], false, nil
	}
	if err := doc.Validate(); err != nil {
		return store.Document{}, false, err
	}
	doc.ID = t.allocID()
	t.docs[doc.ID] = doc
	t.docByURL[doc.URL] = doc.ID
	return doc, true, nil
}

func (t *tx) SaveDocument(_ context.Context, doc store.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	existing, ok := t.docs[doc.ID]
	if !ok {
		return fmt.Errorf("saving document %d: %w", doc.ID, apperrors.ErrDocumentNotFound)
	}
	if existing.URL != doc.URL {
		if _, taken := t.docByURL[doc.URL]; taken {
			return fmt.Errorf("saving document %d: url %q already indexed", doc.ID, doc.URL)
		}
		delete(t.docByURL, existing.URL)
		t.docByURL[doc.URL] = doc.ID
	}
	t.docs[doc.ID] = doc
	return nil
}

func (t *tx) DeleteDocument(_ context.Context, documentID int64) error {
	doc, ok := t.docs[documentID]
	if !ok {
		return fmt.Errorf("deleting document %d: %w", documentID, apperrors.ErrDocumentNotFound)
	}
	for _, row := range t.rows {
		if row.DocumentID == documentID {
			return fmt.Errorf("deleting document %d: still referenced by document lexicon row %d", documentID, row.ID)
		}
	}
	delete(t.docs, documentID)
	delete(t.docByURL, doc.URL)
	return nil
}

func (t *tx) CreateTerm(ctx context.Context, term string, frequency int) (store.TermLexicon, error) {
	if err := store.ValidateNewTerm(term, frequency); err != nil {
		return store.TermLexicon{}, err
	}
	if id, exists := t.termByKey[term]; exists {
		return t.AddTermFrequency(ctx, id, frequency)
	}
	tl := store.TermLexicon{ID: t.allocID(), Term: term, Frequency: frequency}
	t.terms[tl.ID] = tl
	t.termByKey[term] = tl.ID
	return tl, nil
}

func (t *tx) SaveTerm(_ context.Context, term store.TermLexicon) error {
	if err := term.Validate(); err != nil {
		return err
	}
	existing, ok := t.terms[term.ID]
	if !ok {
		return fmt.Errorf("saving term %d: term not found", term.ID)
	}
	if existing.Term != term.Term {
		return fmt.Errorf("saving term %d: term text is immutable", term.ID)
	}
	t.terms[term.ID] = term
	return nil
}

func (t *tx) AddTermFrequency(_ context.Context, termID int64, delta int) (store.TermLexicon, error) {
	term, ok := t.terms[termID]
	if !ok {
		return store.TermLexicon{}, fmt.Errorf("adjusting term %d: term not found", termID)
	}
	if term.Frequency+delta < 0 {
		return store.TermLexicon{}, apperrors.Newf(apperrors.ErrConsistencyViolation, http.StatusInternalServerError,
			"term %q frequency %d cannot drop by %d", term.Term, term.Frequency, -delta)
	}
	term.Frequency += delta
	t.terms[termID] = term
	return term, nil
}

func (t *tx) CreateDocTerm(_ context.Context, documentID, termID int64, frequency int) (store.DocumentLexicon, error) {
	row := store.DocumentLexicon{DocumentID: documentID, TermID: termID, Frequency: frequency}
	if err := row.Validate(); err != nil {
		return store.DocumentLexicon{}, err
	}
	if _, ok := t.docs[documentID]; !ok {
		return store.DocumentLexicon{}, fmt.Errorf("creating document lexicon row: document %d: %w", documentID, apperrors.ErrDocumentNotFound)
	}
	term, ok := t.terms[termID]
	if !ok {
		return store.DocumentLexicon{}, fmt.Errorf("creating document lexicon row: term %d not found", termID)
	}
	if existingID, dup := t.rowByPair[pairKey{documentID, termID}]; dup {
		return store.DocumentLexicon{}, &apperrors.ConsistencyError{
			DocumentID: documentID,
			TermID:     termID,
			Term:       term.Term,
			RowID:      existingID,
		}
	}
	row.ID = t.allocID()
	row.Term = term.Term
	t.rows[row.ID] = row
	t.rowByPair[pairKey{documentID, termID}] = row.ID
	return row, nil
}

func (t *tx) SaveDocTerm(_ context.Context, row store.DocumentLexicon) error {
	if err := row.Validate(); err != nil {
		return err
	}
	existing, ok := t.rows[row.ID]
	if !ok {
		return fmt.Errorf("saving document lexicon row %d: row not found", row.ID)
	}
	if existing.DocumentID != row.DocumentID || existing.TermID != row.TermID {
		return fmt.Errorf("saving document lexicon row %d: pairing is immutable", row.ID)
	}
	existing.Frequency = row.Frequency
	t.rows[row.ID] = existing
	return nil
}

func (t *tx) DeleteDocTerm(_ context.Context, row store.DocumentLexicon) error {
	existing, ok := t.rows[row.ID]
	if !ok {
		return fmt.Errorf("deleting document lexicon row %d: row not found", row.ID)
	}
	delete(t.rows, row.ID)
	delete(t.rowByPair, pairKey{existing.DocumentID, existing.TermID})
	return nil
}
