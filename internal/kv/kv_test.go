package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestSyncStateRoundtrip(t *testing.T) {
	state := NewSyncState(newTestRedis(t))
	ctx := context.Background()

	_, ok, err := state.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	mark := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, state.SetLastSyncTime(ctx, mark))

	got, ok, err := state.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(mark))
}

func TestCacheMissThenHit(t *testing.T) {
	cache := NewCache(newTestRedis(t), "recall:test")
	ctx := context.Background()

	var got string
	hit, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))

	hit, err = cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "v", got)
}

func TestCacheInvalidate(t *testing.T) {
	cache := NewCache(newTestRedis(t), "recall:test")
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", 42, time.Minute))
	require.NoError(t, cache.Invalidate(ctx, "k"))

	var got int
	hit, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCachePrefixesKeys(t *testing.T) {
	rdb := newTestRedis(t)
	a := NewCache(rdb, "recall:a")
	b := NewCache(rdb, "recall:b")
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "k", "from-a", time.Minute))

	var got string
	hit, err := b.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}
