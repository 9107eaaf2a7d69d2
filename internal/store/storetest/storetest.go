// Package storetest holds the behaviour every store.Store implementation must
// share. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/errors"
)

// Factory returns a fresh, empty store. The store is closed by Run.
type Factory func(t *testing.T) store.Store

var errAbort = errors.New("abort")

// Run executes the contract suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"GetOrCreateDocument", testGetOrCreateDocument},
		{"DocumentValidation", testDocumentValidation},
		{"SaveDocument", testSaveDocument},
		{"LookupsMissWithoutError", testLookupsMiss},
		{"TermFrequencyArithmetic", testTermFrequency},
		{"DuplicateDocTermIsConsistencyViolation", testDuplicateDocTerm},
		{"DocTermLifecycle", testDocTermLifecycle},
		{"DeleteDocumentProtectedByRows", testDeleteDocumentProtected},
		{"RollbackDiscardsWrites", testRollback},
		{"CountsAndFrequencies", testCounts},
		{"ListAllDocumentsOrderedByID", testListOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func doc(url string) store.Document {
	return store.Document{URL: url, Title: "Title " + url, Text: "text of " + url}
}

func testGetOrCreateDocument(t *testing.T, s store.Store) {
	ctx := context.Background()
	var first store.Document
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		d, created, err := tx.GetOrCreateDocument(ctx, doc("http://foo.com/"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotZero(t, d.ID)
		first = d
		return nil
	}))

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		d, created, err := tx.GetOrCreateDocument(ctx, store.Document{URL: "http://foo.com/", Title: "Other", Text: "other"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first, d)
		return nil
	}))

	found, ok, err := s.FindDocument(ctx, "http://foo.com/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, found)
	assert.Equal(t, "Title http://foo.com/: http://foo.com/", found.String())
}

func testDocumentValidation(t *testing.T, s store.Store) {
	ctx := context.Background()
	cases := []store.Document{
		{URL: "", Title: "t", Text: "x"},
		{URL: "http://spam.com", Title: "", Text: "Spam!"},
		{URL: "http://spam.com", Title: "Spammy Spam", Text: ""},
	}
	for _, d := range cases {
		err := s.InTx(ctx, func(tx store.Tx) error {
			_, _, err := tx.GetOrCreateDocument(ctx, d)
			return err
		})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	}
	n, err := s.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testSaveDocument(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		d, _, err := tx.GetOrCreateDocument(ctx, doc("http://bar.org/"))
		require.NoError(t, err)
		d.Title = "The Bar Org"
		d.Text = "updated body"
		require.NoError(t, tx.SaveDocument(ctx, d))

		d.Title = ""
		assert.ErrorIs(t, tx.SaveDocument(ctx, d), apperrors.ErrValidation)
		return nil
	}))

	found, ok, err := s.FindDocument(ctx, "http://bar.org/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "The Bar Org", found.Title)
	assert.Equal(t, "updated body", found.Text)
}

func testLookupsMiss(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, ok, err := s.FindDocument(ctx, "http://missing/")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.FindTerm(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.FindDocTerm(ctx, 1, 2)
	assert.NoError(t, err)
	assert.False(t, ok)

	rows, err := s.ListDocTerms(ctx, 1)
	assert.NoError(t, err)
	assert.Empty(t, rows)
}

func testTermFrequency(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		foo, err := tx.CreateTerm(ctx, "foo", 5)
		require.NoError(t, err)
		assert.Equal(t, "foo (5)", foo.String())

		foo, err = tx.AddTermFrequency(ctx, foo.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, 8, foo.Frequency)

		foo, err = tx.AddTermFrequency(ctx, foo.ID, -8)
		require.NoError(t, err)
		assert.Equal(t, 0, foo.Frequency)

		_, err = tx.CreateTerm(ctx, "", 5)
		assert.ErrorIs(t, err, apperrors.ErrValidation)

		again, err := tx.CreateTerm(ctx, "foo", 2)
		require.NoError(t, err)
		assert.Equal(t, foo.ID, again.ID)
		assert.Equal(t, 2, again.Frequency)

		bar, err := tx.CreateTerm(ctx, "bar", 1)
		require.NoError(t, err)
		bar.Frequency = 123456
		require.NoError(t, tx.SaveTerm(ctx, bar))
		return nil
	}))

	bar, ok, err := s.FindTerm(ctx, "bar")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 123456, bar.Frequency)

	foo, ok, err := s.FindTerm(ctx, "foo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, foo.Frequency)

	err = s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.AddTermFrequency(ctx, foo.ID, -3)
		return err
	})
	assert.ErrorIs(t, err, apperrors.ErrConsistencyViolation)
}

func testDuplicateDocTerm(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.InTx(ctx, func(tx store.Tx) error {
		d, _, err := tx.GetOrCreateDocument(ctx, doc("http://dup.com/"))
		require.NoError(t, err)
		term, err := tx.CreateTerm(ctx, "spam", 2)
		require.NoError(t, err)
		_, err = tx.CreateDocTerm(ctx, d.ID, term.ID, 2)
		require.NoError(t, err)
		_, err = tx.CreateDocTerm(ctx, d.ID, term.ID, 2)
		return err
	})
	assert.ErrorIs(t, err, apperrors.ErrConsistencyViolation)

	_, ok, err := s.FindDocument(ctx, "http://dup.com/")
	require.NoError(t, err)
	assert.False(t, ok, "failed transaction must not persist the document")
}

func testDocTermLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	var d store.Document
	var row store.DocumentLexicon
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		var err error
		d, _, err = tx.GetOrCreateDocument(ctx, doc("http://foo.com"))
		require.NoError(t, err)
		term, err := tx.CreateTerm(ctx, "spam", 5)
		require.NoError(t, err)
		row, err = tx.CreateDocTerm(ctx, d.ID, term.ID, 5)
		require.NoError(t, err)
		assert.Equal(t, "spam", row.Term)
		assert.Equal(t, "spam (5)", row.String())
		return nil
	}))

	found, ok, err := s.FindDocTerm(ctx, d.ID, row.TermID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, row, found)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		row.Frequency = 9
		return tx.SaveDocTerm(ctx, row)
	}))
	rows, err := s.ListDocTerms(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 9, rows[0].Frequency)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		return tx.DeleteDocTerm(ctx, row)
	}))
	rows, err = s.ListDocTerms(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, ok, err = s.FindTerm(ctx, "spam")
	require.NoError(t, err)
	assert.True(t, ok, "term rows outlive their document lexicon rows")
}

func testDeleteDocumentProtected(t *testing.T, s store.Store) {
	ctx := context.Background()
	var d store.Document
	var row store.DocumentLexicon
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		var err error
		d, _, err = tx.GetOrCreateDocument(ctx, doc("http://protected/"))
		require.NoError(t, err)
		term, err := tx.CreateTerm(ctx, "guard", 1)
		require.NoError(t, err)
		row, err = tx.CreateDocTerm(ctx, d.ID, term.ID, 1)
		return err
	}))

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.DeleteDocument(ctx, d.ID)
	})
	assert.Error(t, err)

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.DeleteDocTerm(ctx, row); err != nil {
			return err
		}
		return tx.DeleteDocument(ctx, d.ID)
	}))
	_, ok, err := s.FindDocument(ctx, "http://protected/")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.InTx(ctx, func(tx store.Tx) error {
		if _, _, err := tx.GetOrCreateDocument(ctx, doc("http://rolled.back/")); err != nil {
			return err
		}
		if _, err := tx.CreateTerm(ctx, "ghost", 4); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	_, ok, err := s.FindDocument(ctx, "http://rolled.back/")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.FindTerm(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testCounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	var shared, lonely store.TermLexicon
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		a, _, err := tx.GetOrCreateDocument(ctx, doc("http://a/"))
		require.NoError(t, err)
		b, _, err := tx.GetOrCreateDocument(ctx, doc("http://b/"))
		require.NoError(t, err)
		shared, err = tx.CreateTerm(ctx, "shared", 3)
		require.NoError(t, err)
		lonely, err = tx.CreateTerm(ctx, "lonely", 0)
		require.NoError(t, err)
		_, err = tx.CreateDocTerm(ctx, a.ID, shared.ID, 1)
		require.NoError(t, err)
		_, err = tx.CreateDocTerm(ctx, b.ID, shared.ID, 2)
		return err
	}))

	n, err := s.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountDocsWithTerm(ctx, shared.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountDocsWithTerm(ctx, lonely.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	dfs, err := s.DocumentFrequencies(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"shared": 2, "lonely": 0}, dfs)

	terms, err := s.ListAllTerms(ctx)
	require.NoError(t, err)
	assert.Len(t, terms, 2)
}

func testListOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	urls := []string{"http://c/", "http://a/", "http://b/"}
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		for _, u := range urls {
			if _, _, err := tx.GetOrCreateDocument(ctx, doc(u)); err != nil {
				return err
			}
		}
		return nil
	}))

	docs, err := s.ListAllDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for i, d := range docs {
		assert.Equal(t, urls[i], d.URL)
		if i > 0 {
			assert.Greater(t, d.ID, docs[i-1].ID)
		}
	}
}
