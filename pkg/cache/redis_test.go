package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCacheWithClient(client, "test")
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, rc := newTestRedis(t)

	in := bars{Symbol: "ACME", Closes: []float64{10, 11}}
	require.NoError(t, rc.Set(ctx, "series:ACME", in, time.Hour))
	assert.True(t, mr.Exists("test:series:ACME"))

	var out bars
	require.NoError(t, rc.Get(ctx, "series:ACME", &out))
	assert.Equal(t, in, out)

	mr.FastForward(2 * time.Hour)
	assert.ErrorIs(t, rc.Get(ctx, "series:ACME", &out), ErrCacheMiss)
}

func TestRedisCacheLock(t *testing.T) {
	ctx := context.Background()
	mr, rc := newTestRedis(t)

	ok, err := rc.TryLock(ctx, "lease", "a", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rc.TryLock(ctx, "lease", "b", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Minute)
	ok, err = rc.TryLock(ctx, "lease", "b", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, rc.Unlock(ctx, "lease", "a"))
	exists, err := rc.Exists(ctx, "lease")
	require.NoError(t, err)
	assert.True(t, exists, "a stale owner does not release the lease")

	require.NoError(t, rc.Unlock(ctx, "lease", "b"))
	exists, err = rc.Exists(ctx, "lease")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisCacheLockRefresh(t *testing.T) {
	ctx := context.Background()
	mr, rc := newTestRedis(t)

	ok, err := rc.TryLock(ctx, "lease", "a", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(20 * time.Second)
	ok, err = rc.Refresh(ctx, "lease", "a", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, mr.TTL("test:lease"))

	ok, err = rc.Refresh(ctx, "lease", "b", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Minute)
	ok, err = rc.Refresh(ctx, "lease", "a", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "an expired lease cannot be refreshed")
}

func TestLayeredCacheFallsBackToRedis(t *testing.T) {
	ctx := context.Background()
	_, rc := newTestRedis(t)
	lc := NewLayeredCache(rc, WithLayeredMemoryTTL(time.Minute))
	defer lc.memCache.Close()

	require.NoError(t, rc.Set(ctx, "options:ACME", true, time.Hour))

	var got bool
	require.NoError(t, lc.Get(ctx, "options:ACME", &got))
	assert.True(t, got)

	// second read is served from L1
	require.NoError(t, rc.Delete(ctx, "options:ACME"))
	got = false
	require.NoError(t, lc.Get(ctx, "options:ACME", &got))
	assert.True(t, got)

	require.NoError(t, lc.Delete(ctx, "options:ACME"))
	assert.ErrorIs(t, lc.Get(ctx, "options:ACME", &got), ErrCacheMiss)
}
