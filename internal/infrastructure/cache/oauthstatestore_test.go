package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuthStateStore_RoundTrip(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewOAuthStateStore(client)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "state-abc", "U1"))

	userID, err := store.VerifyAndGet(ctx, "state-abc")
	require.NoError(t, err)
	assert.Equal(t, "U1", userID)
}

func TestOAuthStateStore_StateIsSingleUse(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewOAuthStateStore(client)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "state-abc", "U1"))

	_, err := store.VerifyAndGet(ctx, "state-abc")
	require.NoError(t, err)

	_, err = store.VerifyAndGet(ctx, "state-abc")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestOAuthStateStore_Expires(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewOAuthStateStore(client)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "state-abc", "U1"))
	mr.FastForward(11 * time.Minute)

	_, err := store.VerifyAndGet(ctx, "state-abc")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestOAuthStateStore_RejectsEmptyInput(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewOAuthStateStore(client)
	ctx := context.Background()

	assert.Error(t, store.Set(ctx, "", "U1"))
	assert.Error(t, store.Set(ctx, "state", ""))

	_, err := store.VerifyAndGet(ctx, "")
	assert.ErrorIs(t, err, ErrStateNotFound)
}
