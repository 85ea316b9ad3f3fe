package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/library-engine/library"
	"github.com/warp/library-engine/library/store"
	"github.com/warp/library-engine/library/store/storetest"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) library.TxStore {
		return store.NewMemory()
	})
}

func TestMemory_ReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreateBook(ctx, library.Book{ID: "b1", ISBN: "1", Tags: []string{"a"}}))

	got, err := m.GetBook(ctx, "b1")
	require.NoError(t, err)
	got.Tags[0] = "mutated"

	again, err := m.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, again.Tags)
}

func TestMemory_ConcurrentUnitsSerialise(t *testing.T) {
	// GIVEN: 20 goroutines each incrementing a book counter inside a unit
	// THEN: No update is lost and no version conflict surfaces

	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.CreateBook(ctx, library.Book{ID: "b1", ISBN: "1", TotalCopies: 100}))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.WithTx(ctx, func(tx library.Store) error {
				b, err := tx.GetBook(ctx, "b1")
				if err != nil {
					return err
				}
				b.CheckedOutCount++
				return tx.UpdateBook(ctx, b)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	b, err := m.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 20, b.CheckedOutCount)
	assert.Equal(t, int64(21), b.Version)
}
