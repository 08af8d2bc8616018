package casestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) Repository {
		store := NewMemoryStore()
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)
	_, err := store.FindPendingByIdentity(ctx, "John")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.UpdateStatus(ctx, "id", StatusResolvedSafe, ""), ErrStoreClosed)
	assert.True(t, IsPersistenceError(store.UpdateStatus(ctx, "id", StatusResolvedSafe, "")))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	rec := sampleFor(t, "John")
	require.NoError(t, store.Create(context.Background(), rec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.UpdateStatus(ctx, rec.ID, StatusResolvedSafe, "late")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, context.Canceled)

	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status, "failed update leaves record untouched")
}
