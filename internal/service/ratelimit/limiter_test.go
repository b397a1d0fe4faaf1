package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowConsumesAndRefills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("yahoo", 2, 1))
	assert.True(t, l.Allow("yahoo", 2, 1))
	assert.False(t, l.Allow("yahoo", 2, 1))
	assert.True(t, l.Allow("other", 2, 1), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("yahoo", 2, 1))
	assert.False(t, l.Allow("yahoo", 2, 1))
}

func TestWaitBlocksUntilToken(t *testing.T) {
	l := New()
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "k", 1, 50))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "k", 1, 50))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestWaitHonoursContext(t *testing.T) {
	l := New()
	require.True(t, l.Allow("k", 1, 0.01))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx, "k", 1, 0.01), context.DeadlineExceeded)
}
