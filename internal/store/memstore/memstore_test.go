package memstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestClosedStoreRejectsUse(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.Error(t, s.Ping(ctx))
	assert.Error(t, s.InTx(ctx, func(tx store.Tx) error { return nil }))
	_, _, err := s.FindDocument(ctx, "http://x/")
	assert.Error(t, err)
}

func TestCancelledContextDoesNotCommit(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, _, err := tx.GetOrCreateDocument(ctx, store.Document{URL: "http://late/", Title: "Late", Text: "late"})
		cancel()
		return err
	})
	assert.ErrorIs(t, err, context.Canceled)

	_, ok, err := s.FindDocument(context.Background(), "http://late/")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentTermIncrementsAreSerialized(t *testing.T) {
	s := New()
	ctx := context.Background()
	const workers = 16

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx store.Tx) error {
				_, err := tx.CreateTerm(ctx, "shared", 1)
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	term, ok, err := s.FindTerm(ctx, "shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, workers, term.Frequency)
}
