package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type bars struct {
	Symbol string    `json:"symbol"`
	Closes []float64 `json:"closes"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	in := bars{Symbol: "ACME", Closes: []float64{1, 2.5}}
	require.NoError(t, mc.Set(ctx, "series:ACME", in, time.Hour))

	var out bars
	require.NoError(t, mc.Get(ctx, "series:ACME", &out))
	assert.Equal(t, in, out)

	var missing bars
	assert.ErrorIs(t, mc.Get(ctx, "series:NOPE", &missing), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryClock(clock.Now))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", "v", 4*time.Hour))
	clock.Advance(3 * time.Hour)

	var s string
	require.NoError(t, mc.Get(ctx, "k", &s))
	assert.Equal(t, "v", s)

	clock.Advance(2 * time.Hour)
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)

	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryClock(clock.Now))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", "1", time.Hour))
	clock.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", time.Hour))
	clock.Advance(time.Second)

	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	clock.Advance(time.Second)

	require.NoError(t, mc.Set(ctx, "c", "3", time.Hour))
	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &s))
	assert.Equal(t, "1", s)
}

func TestMemoryCacheLock(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryClock(clock.Now))
	defer mc.Close()

	ok, err := mc.TryLock(ctx, "step", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "step", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(2 * time.Minute)
	ok, err = mc.TryLock(ctx, "step", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken again")

	require.NoError(t, mc.Unlock(ctx, "step", "b"))
	ok, err = mc.TryLock(ctx, "step", "c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCacheLockOwnership(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryClock(clock.Now))
	defer mc.Close()

	ok, err := mc.TryLock(ctx, "step", "first", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(40 * time.Second)
	ok, err = mc.Refresh(ctx, "step", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(40 * time.Second)
	ok, err = mc.TryLock(ctx, "step", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "refreshed lease is still held")

	ok, err = mc.Refresh(ctx, "step", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "only the owner refreshes")

	clock.Advance(2 * time.Minute)
	ok, err = mc.TryLock(ctx, "step", "second", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// the previous owner cannot release or extend the new lease
	require.NoError(t, mc.Unlock(ctx, "step", "first"))
	ok, err = mc.Refresh(ctx, "step", "first", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = mc.TryLock(ctx, "step", "third", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheCloseTwice(t *testing.T) {
	mc := NewMemoryCache()
	require.NoError(t, mc.Close())
	require.NoError(t, mc.Close())
}
