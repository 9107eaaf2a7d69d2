// Package sqlstore implements store.Store on database/sql for PostgreSQL and
// SQLite. Term frequency changes are applied as in-place increments so that
// concurrent indexers never lose updates.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/sqldb"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a store.Store backed by a SQL database.
type Store struct {
	queries
	client *sqldb.Client
}

var _ store.Store = (*Store)(nil)

// New wraps client. Call Migrate before first use on an empty database.
func New(client *sqldb.Client) (*Store, error) {
	d, err := dialectFor(client.Driver)
	if err != nil {
		return nil, err
	}
	return &Store{
		queries: queries{q: client.DB, d: d},
		client:  client,
	}, nil
}

// Migrate creates the lexicon tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.client.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating %s schema: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.client.InTx(ctx, func(sqlTx *sql.Tx) error {
		return fn(&tx{queries: queries{q: sqlTx, d: s.d}})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Store) Close() error {
	return s.client.Close()
}

type queries struct {
	q querier
	d dialect
}

func (qs queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return qs.q.ExecContext(ctx, qs.d.rebind(query), args...)
}

func (qs queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return qs.q.QueryContext(ctx, qs.d.rebind(query), args...)
}

func (qs queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return qs.q.QueryRowContext(ctx, qs.d.rebind(query), args...)
}

const (
	documentColumns = `id, url, title, text`
	termColumns     = `id, term, frequency`
	docTermSelect   = `SELECT dl.id, dl.document_id, dl.term_id, t.term, dl.frequency
		FROM document_lexicon dl JOIN term_lexicon t ON t.id = dl.term_id`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (store.Document, error) {
	var d store.Document
	err := row.Scan(&d.ID, &d.URL, &d.Title, &d.Text)
	return d, err
}

func scanTerm(row scanner) (store.TermLexicon, error) {
	var t store.TermLexicon
	err := row.Scan(&t.ID, &t.Term, &t.Frequency)
	return t, err
}

func scanDocTerm(row scanner) (store.DocumentLexicon, error) {
	var dl store.DocumentLexicon
	err := row.Scan(&dl.ID, &dl.DocumentID, &dl.TermID, &dl.Term, &dl.Frequency)
	return dl, err
}

func (qs queries) FindDocument(ctx context.Context, url string) (store.Document, bool, error) {
	d, err := scanDocument(qs.queryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE url = ?`, url))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, false, nil
	}
	if err != nil {
		return store.Document{}, false, fmt.Errorf("finding document %q: %w", url, err)
	}
	return d, true, nil
}

func (qs queries) FindTerm(ctx context.Context, term string) (store.TermLexicon, bool, error) {
	t, err := scanTerm(qs.queryRow(ctx, `SELECT `+termColumns+` FROM term_lexicon WHERE term = ?`, term))
	if errors.Is(err, sql.ErrNoRows) {
		return store.TermLexicon{}, false, nil
	}
	if err != nil {
		return store.TermLexicon{}, false, fmt.Errorf("finding term %q: %w", term, err)
	}
	return t, true, nil
}

func (qs queries) findTermByID(ctx context.Context, termID int64) (store.TermLexicon, bool, error) {
	t, err := scanTerm(qs.queryRow(ctx, `SELECT `+termColumns+` FROM term_lexicon WHERE id = ?`, termID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.TermLexicon{}, false, nil
	}
	if err != nil {
		return store.TermLexicon{}, false, fmt.Errorf("finding term %d: %w", termID, err)
	}
	return t, true, nil
}

func (qs queries) FindDocTerm(ctx context.Context, documentID, termID int64) (store.DocumentLexicon, bool, error) {
	dl, err := scanDocTerm(qs.queryRow(ctx, docTermSelect+` WHERE dl.document_id = ? AND dl.term_id = ?`, documentID, termID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.DocumentLexicon{}, false, nil
	}
	if err != nil {
		return store.DocumentLexicon{}, false, fmt.Errorf("finding document lexicon row (%d, %d): %w", documentID, termID, err)
	}
	return dl, true, nil
}

func (qs queries) ListDocTerms(ctx context.Context, documentID int64) ([]store.DocumentLexicon, error) {
	rows, err := qs.query(ctx, docTermSelect+` WHERE dl.document_id = ? ORDER BY dl.id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing terms of document %d: %w", documentID, err)
	}
	defer rows.Close()

	result := make([]store.DocumentLexicon, 0)
	for rows.Next() {
		dl, err := scanDocTerm(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document lexicon row: %w", err)
		}
		result = append(result, dl)
	}
	return result, rows.Err()
}

func (qs queries) ListAllDocuments(ctx context.Context) ([]store.Document, error) {
	rows, err := qs.query(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	result := make([]store.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (qs queries) ListAllTerms(ctx context.Context) ([]store.TermLexicon, error) {
	rows, err := qs.query(ctx, `SELECT `+termColumns+` FROM term_lexicon ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing terms: %w", err)
	}
	defer rows.Close()

	result := make([]store.TermLexicon, 0)
	for rows.Next() {
		t, err := scanTerm(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning term: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (qs queries) CountDocuments(ctx context.Context) (int, error) {
	var n int
	if err := qs.queryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

func (qs queries) CountDocsWithTerm(ctx context.Context, termID int64) (int, error) {
	var n int
	if err := qs.queryRow(ctx, `SELECT COUNT(*) FROM document_lexicon WHERE term_id = ?`, termID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents with term %d: %w", termID, err)
	}
	return n, nil
}

func (qs queries) DocumentFrequencies(ctx context.Context) (map[string]int, error) {
	rows, err := qs.query(ctx, `SELECT t.term, COUNT(dl.id)
		FROM term_lexicon t LEFT JOIN document_lexicon dl ON dl.term_id = t.id
		GROUP BY t.id, t.term`)
	if err != nil {
		return nil, fmt.Errorf("computing document frequencies: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var term string
		var n int
		if err := rows.Scan(&term, &n); err != nil {
			return nil, fmt.Errorf("scanning document frequency: %w", err)
		}
		result[term] = n
	}
	return result, rows.Err()
}

type tx struct {
	queries
}

var _ store.Tx = (*tx)(nil)

func (t *tx) lockDocument(ctx context.Context, url string) (store.Document, bool, error) {
	d, err := scanDocument(t.queryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE url = ?`+t.d.lockSuffix, url))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, false, nil
	}
	if err != nil {
		return store.Document{}, false, fmt.Errorf("locking document %q: %w", url, err)
	}
	return d, true, nil
}

func (t *tx) GetOrCreateDocument(ctx context.Context, doc store.Document) (store.Document, bool, error) {
	existing, ok, err := t.lockDocument(ctx, doc.URL)
	if err != nil || ok {
		return existing, false, err
	}
	if err := doc.Validate(); err != nil {
		return store.Document{}, false, err
	}

	created, err := scanDocument(t.queryRow(ctx,
		`INSERT INTO documents (url, title, text) VALUES (?, ?, ?)
		ON CONFLICT (url) DO NOTHING
		RETURNING `+documentColumns,
		doc.URL, doc.Title, doc.Text))
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race to a concurrent insert of the same url.
		existing, ok, err = t.lockDocument(ctx, doc.URL)
		if err == nil && !ok {
			err = fmt.Errorf("document %q vanished after conflicting insert", doc.URL)
		}
		return existing, false, err
	}
	if err != nil {
		return store.Document{}, false, fmt.Errorf("creating document %q: %w", doc.URL, err)
	}
	return created, true, nil
}

func (t *tx) SaveDocument(ctx context.Context, doc store.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	res, err := t.exec(ctx, `UPDATE documents SET url = ?, title = ?, text = ? WHERE id = ?`,
		doc.URL, doc.Title, doc.Text, doc.ID)
	if t.d.isUniqueErr(err) {
		return fmt.Errorf("saving document %d: url %q already indexed", doc.ID, doc.URL)
	}
	if err != nil {
		return fmt.Errorf("saving document %d: %w", doc.ID, err)
	}
	return requireAffected(res, fmt.Errorf("saving document %d: %w", doc.ID, apperrors.ErrDocumentNotFound))
}

func (t *tx) DeleteDocument(ctx context.Context, documentID int64) error {
	var rowID int64
	err := t.queryRow(ctx, `SELECT id FROM document_lexicon WHERE document_id = ? ORDER BY id LIMIT 1`, documentID).Scan(&rowID)
	switch {
	case err == nil:
		return fmt.Errorf("deleting document %d: still referenced by document lexicon row %d", documentID, rowID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("deleting document %d: %w", documentID, err)
	}

	res, err := t.exec(ctx, `DELETE FROM documents WHERE id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("deleting document %d: %w", documentID, err)
	}
	return requireAffected(res, fmt.Errorf("deleting document %d: %w", documentID, apperrors.ErrDocumentNotFound))
}

func (t *tx) CreateTerm(ctx context.Context, term string, frequency int) (store.TermLexicon, error) {
	if err := store.ValidateNewTerm(term, frequency); err != nil {
		return store.TermLexicon{}, err
	}
	tl, err := scanTerm(t.queryRow(ctx,
		`INSERT INTO term_lexicon (term, frequency) VALUES (?, ?)
		ON CONFLICT (term) DO UPDATE SET frequency = term_lexicon.frequency + excluded.frequency
		RETURNING `+termColumns,
		term, frequency))
	if err != nil {
		return store.TermLexicon{}, fmt.Errorf("creating term %q: %w", term, err)
	}
	return tl, nil
}

func (t *tx) SaveTerm(ctx context.Context, term store.TermLexicon) error {
	if err := term.Validate(); err != nil {
		return err
	}
	res, err := t.exec(ctx, `UPDATE term_lexicon SET frequency = ? WHERE id = ? AND term = ?`,
		term.Frequency, term.ID, term.Term)
	if err != nil {
		return fmt.Errorf("saving term %d: %w", term.ID, err)
	}
	return requireAffected(res, fmt.Errorf("saving term %d: term not found or text changed", term.ID))
}

func (t *tx) AddTermFrequency(ctx context.Context, termID int64, delta int) (store.TermLexicon, error) {
	tl, err := scanTerm(t.queryRow(ctx,
		`UPDATE term_lexicon SET frequency = frequency + ?
		WHERE id = ? AND frequency + ? >= 0
		RETURNING `+termColumns,
		delta, termID, delta))
	if err == nil {
		return tl, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.TermLexicon{}, fmt.Errorf("adjusting term %d: %w", termID, err)
	}

	current, ok, findErr := t.findTermByID(ctx, termID)
	if findErr != nil {
		return store.TermLexicon{}, findErr
	}
	if !ok {
		return store.TermLexicon{}, fmt.Errorf("adjusting term %d: term not found", termID)
	}
	return store.TermLexicon{}, apperrors.Newf(apperrors.ErrConsistencyViolation, http.StatusInternalServerError,
		"term %q frequency %d cannot drop by %d", current.Term, current.Frequency, -delta)
}

func (t *tx) CreateDocTerm(ctx context.Context, documentID, termID int64, frequency int) (store.DocumentLexicon, error) {
	row := store.DocumentLexicon{DocumentID: documentID, TermID: termID, Frequency: frequency}
	if err := row.Validate(); err != nil {
		return store.DocumentLexicon{}, err
	}

	var one int
	err := t.queryRow(ctx, `SELECT 1 FROM documents WHERE id = ?`, documentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DocumentLexicon{}, fmt.Errorf("creating document lexicon row: document %d: %w", documentID, apperrors.ErrDocumentNotFound)
	}
	if err != nil {
		return store.DocumentLexicon{}, fmt.Errorf("creating document lexicon row: %w", err)
	}
	term, ok, err := t.findTermByID(ctx, termID)
	if err != nil {
		return store.DocumentLexicon{}, err
	}
	if !ok {
		return store.DocumentLexicon{}, fmt.Errorf("creating document lexicon row: term %d not found", termID)
	}

	existing, dup, err := t.FindDocTerm(ctx, documentID, termID)
	if err != nil {
		return store.DocumentLexicon{}, err
	}
	if dup {
		return store.DocumentLexicon{}, &apperrors.ConsistencyError{
			DocumentID: documentID,
			TermID:     termID,
			Term:       term.Term,
			RowID:      existing.ID,
		}
	}

	err = t.queryRow(ctx,
		`INSERT INTO document_lexicon (document_id, term_id, frequency) VALUES (?, ?, ?) RETURNING id`,
		documentID, termID, frequency).Scan(&row.ID)
	if t.d.isUniqueErr(err) {
		return store.DocumentLexicon{}, &apperrors.ConsistencyError{DocumentID: documentID, TermID: termID, Term: term.Term}
	}
	if err != nil {
		return store.DocumentLexicon{}, fmt.Errorf("creating document lexicon row: %w", err)
	}
	row.Term = term.Term
	return row, nil
}

func (t *tx) SaveDocTerm(ctx context.Context, row store.DocumentLexicon) error {
	if err := row.Validate(); err != nil {
		return err
	}
	res, err := t.exec(ctx, `UPDATE document_lexicon SET frequency = ? WHERE id = ? AND document_id = ? AND term_id = ?`,
		row.Frequency, row.ID, row.DocumentID, row.TermID)
	if err != nil {
		return fmt.Errorf("saving document lexicon row %d: %w", row.ID, err)
	}
	return requireAffected(res, fmt.Errorf("saving document lexicon row %d: row not found or pairing changed", row.ID))
}

func (t *tx) DeleteDocTerm(ctx context.Context, row store.DocumentLexicon) error {
	res, err := t.exec(ctx, `DELETE FROM document_lexicon WHERE id = ?`, row.ID)
	if err != nil {
		return fmt.Errorf("deleting document lexicon row %d: %w", row.ID, err)
	}
	return requireAffected(res, fmt.Errorf("deleting document lexicon row %d: row not found", row.ID))
}

func requireAffected(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}
