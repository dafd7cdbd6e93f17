package state_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil/internal/state"
)

func newStore(t *testing.T, ttl time.Duration) (*state.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return state.NewRedisStore(client, ttl), mr
}

func TestRedisStore_SaveLoadDelete(t *testing.T) {
	store, _ := newStore(t, 0)
	ctx := context.Background()

	_, _, ok, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok, "missing record is not an error")

	require.NoError(t, store.Save(ctx, "s1", "alice", 42))

	candidate, lastSeq, ok, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", candidate)
	assert.Equal(t, uint64(42), lastSeq)

	require.NoError(t, store.Delete(ctx, "s1"))
	_, _, ok, err = store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_SaveOverwrites(t *testing.T) {
	store, _ := newStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", "alice", 1))
	require.NoError(t, store.Save(ctx, "s1", "alice", 7))

	_, lastSeq, ok, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), lastSeq)
}

func TestRedisStore_RecordsExpire(t *testing.T) {
	store, mr := newStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", "alice", 3))
	mr.FastForward(2 * time.Minute)

	_, _, ok, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok, "stale resume records age out")
}

func TestRedisStore_DeleteMissingIsNoError(t *testing.T) {
	store, _ := newStore(t, 0)
	assert.NoError(t, store.Delete(context.Background(), "never-existed"))
}
