package shared

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schoolledger/schoolledger/internal/store"
)

func TestIdempotencyStoreRejectsReplay(t *testing.T) {
	ctx := context.Background()
	keys := NewIdempotencyStore(store.NewMemoryKV(), time.Hour)

	require.NoError(t, keys.CheckAndInsert(ctx, "abc", "POST /api/payments"))
	require.ErrorIs(t, keys.CheckAndInsert(ctx, "abc", "POST /api/payments"), ErrIdempotencyConflict)
	require.NoError(t, keys.CheckAndInsert(ctx, "abc", "POST /api/expenses"))

	require.NoError(t, keys.Delete(ctx, "abc", "POST /api/payments"))
	require.NoError(t, keys.CheckAndInsert(ctx, "abc", "POST /api/payments"))
}

func TestIdempotencyStoreForgetsExpiredKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	keys := NewIdempotencyStore(store.NewMemoryKV(), time.Hour)
	keys.now = func() time.Time { return now }

	require.NoError(t, keys.CheckAndInsert(ctx, "k1", "m"))
	now = now.Add(2 * time.Hour)
	require.NoError(t, keys.CheckAndInsert(ctx, "k1", "m"))
}

func TestIdempotencyStoreValidatesInput(t *testing.T) {
	ctx := context.Background()
	keys := NewIdempotencyStore(store.NewMemoryKV(), 0)
	require.Equal(t, 24*time.Hour, keys.ttl)
	require.Error(t, keys.CheckAndInsert(ctx, "", "m"))
	require.Error(t, keys.CheckAndInsert(ctx, "k", ""))

	var nilStore *IdempotencyStore
	require.Error(t, nilStore.CheckAndInsert(ctx, "k", "m"))
	require.NoError(t, nilStore.Delete(ctx, "k", "m"))
}
