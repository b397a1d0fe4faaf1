// Package storetest holds behaviour tests shared by every repository.Store backend.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SessionScan/internal/domain/models"
	"SessionScan/internal/domain/repository"
)

// Factory returns an empty store whose run log keeps at most logLimit entries.
type Factory func(t *testing.T, logLimit int) repository.Store

// Run exercises the queue, run state and log contracts against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("EnqueueMergesModes", func(t *testing.T) { testEnqueueMergesModes(t, newStore(t, 200)) })
	t.Run("ClaimBatchOrderAndBound", func(t *testing.T) { testClaimBatch(t, newStore(t, 200)) })
	t.Run("MarkAndCount", func(t *testing.T) { testMarkAndCount(t, newStore(t, 200)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newStore(t, 200)) })
	t.Run("RunState", func(t *testing.T) { testRunState(t, newStore(t, 200)) })
	t.Run("UpdatesScopedToRun", func(t *testing.T) { testUpdatesScopedToRun(t, newStore(t, 200)) })
	t.Run("BoundedLog", func(t *testing.T) { testBoundedLog(t, newStore(t, 3)) })
}

func testEnqueueMergesModes(t *testing.T, s repository.Store) {
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, "ACME", models.ModeSet{models.ModePreMarket}))
	require.NoError(t, s.Enqueue(ctx, "BETA", models.ModeSet{models.ModePostMarket}))
	require.NoError(t, s.Enqueue(ctx, "ACME", models.ModeSet{models.ModeOpeningPrice, models.ModePostMarket}))

	items, err := s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ACME", items[0].Symbol)
	assert.Equal(t, models.ModeSet{models.ModePreMarket, models.ModePostMarket, models.ModeOpeningPrice}, items[0].Modes)
	assert.Equal(t, "BETA", items[1].Symbol)

	p, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Progress{Pending: 2}, p)
}

func testClaimBatch(t *testing.T, s repository.Store) {
	ctx := context.Background()
	startRun(t, s, "run-1")
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Enqueue(ctx, fmt.Sprintf("S%d", i), models.ModeSet{models.ModePreMarket}))
	}

	first, err := s.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, []string{"S0", "S1"}, symbols(first))

	// Unmarked items come back on the next claim.
	again, err := s.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"S0", "S1"}, symbols(again))

	require.NoError(t, s.MarkCompleted(ctx, "run-1", "S0"))
	require.NoError(t, s.MarkError(ctx, "run-1", "S1"))

	next, err := s.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"S2", "S3"}, symbols(next))
	for _, it := range next {
		assert.Equal(t, models.ItemPending, it.Status)
	}
}

func testMarkAndCount(t *testing.T, s repository.Store) {
	ctx := context.Background()
	startRun(t, s, "run-1")
	for _, sym := range []string{"A", "B", "C", "D"} {
		require.NoError(t, s.Enqueue(ctx, sym, models.ModeSet{models.ModeOpeningPrice}))
	}
	require.NoError(t, s.MarkCompleted(ctx, "run-1", "A"))
	require.NoError(t, s.MarkCompleted(ctx, "run-1", "B"))
	require.NoError(t, s.MarkError(ctx, "run-1", "C"))
	// unknown symbols are ignored
	require.NoError(t, s.MarkCompleted(ctx, "run-1", "ZZZ"))

	p, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Progress{Pending: 1, Completed: 2, Error: 1}, p)
	assert.Equal(t, 4, p.Total())
}

func testReset(t *testing.T, s repository.Store) {
	ctx := context.Background()
	startRun(t, s, "run-1")
	require.NoError(t, s.Enqueue(ctx, "A", models.ModeSet{models.ModePreMarket}))
	require.NoError(t, s.MarkCompleted(ctx, "run-1", "A"))
	require.NoError(t, s.AppendLog(ctx, models.LogEntry{Timestamp: time.Now(), Message: "kept"}))
	require.NoError(t, s.Reset(ctx))

	p, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Progress{}, p)

	items, err := s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	logs, err := s.RecentLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	require.NoError(t, s.Enqueue(ctx, "B", models.ModeSet{models.ModePreMarket}))
	items, err = s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, symbols(items))
}

func testRunState(t *testing.T, s repository.Store) {
	ctx := context.Background()

	st, err := s.LoadRunState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunIdle, st.Status)
	assert.False(t, st.IsInitialized(models.ModePreMarket))

	started := time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC)
	require.NoError(t, s.SaveRunState(ctx, models.RunState{
		RunID:     "run-1",
		Status:    models.RunRunning,
		Modes:     models.ModeSet{models.ModePreMarket, models.ModeOpeningPrice},
		EndDate:   models.Date{Year: 2024, Month: time.April, Day: 30},
		StartedAt: started,
	}))
	require.NoError(t, s.MarkInitialized(ctx, "run-1", models.ModePreMarket))
	require.NoError(t, s.MarkInitialized(ctx, "run-1", models.ModePreMarket))
	require.NoError(t, s.SetRunStatus(ctx, models.RunStopped))

	st, err = s.LoadRunState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", st.RunID)
	assert.Equal(t, models.RunStopped, st.Status)
	assert.Equal(t, models.ModeSet{models.ModePreMarket, models.ModeOpeningPrice}, st.Modes)
	assert.Equal(t, "2024-04-30", st.EndDate.String())
	assert.True(t, st.StartedAt.Equal(started))
	assert.True(t, st.IsInitialized(models.ModePreMarket))
	assert.False(t, st.IsInitialized(models.ModeOpeningPrice))

	require.NoError(t, s.ClearRunState(ctx))
	st, err = s.LoadRunState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunIdle, st.Status)
	assert.Empty(t, st.RunID)

	// status can be set without a saved run
	require.NoError(t, s.SetRunStatus(ctx, models.RunStopped))
	st, err = s.LoadRunState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RunStopped, st.Status)
}

func testUpdatesScopedToRun(t *testing.T, s repository.Store) {
	ctx := context.Background()
	startRun(t, s, "old")
	require.NoError(t, s.Enqueue(ctx, "A", models.ModeSet{models.ModePreMarket}))
	require.NoError(t, s.Enqueue(ctx, "B", models.ModeSet{models.ModePreMarket}))

	// a new start clears the run before enqueueing its own symbols
	require.NoError(t, s.ClearRunState(ctx))
	assert.ErrorIs(t, s.MarkCompleted(ctx, "old", "A"), models.ErrRunSuperseded)

	startRun(t, s, "new")
	assert.ErrorIs(t, s.MarkCompleted(ctx, "old", "A"), models.ErrRunSuperseded)
	assert.ErrorIs(t, s.MarkError(ctx, "old", "B"), models.ErrRunSuperseded)
	assert.ErrorIs(t, s.MarkInitialized(ctx, "old", models.ModePreMarket), models.ErrRunSuperseded)

	p, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Progress{Pending: 2}, p)
	st, err := s.LoadRunState(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsInitialized(models.ModePreMarket))

	require.NoError(t, s.MarkCompleted(ctx, "new", "A"))
	require.NoError(t, s.MarkInitialized(ctx, "new", models.ModePreMarket))
	p, err = s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Progress{Pending: 1, Completed: 1}, p)
}

func testBoundedLog(t *testing.T, s repository.Store) {
	ctx := context.Background()
	base := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendLog(ctx, models.LogEntry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Message:   fmt.Sprintf("m%d", i),
		}))
	}

	logs, err := s.RecentLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "m4", logs[0].Message)
	assert.Equal(t, "m3", logs[1].Message)
	assert.Equal(t, "m2", logs[2].Message)
	assert.True(t, logs[0].Timestamp.Equal(base.Add(4*time.Second)))

	logs, err = s.RecentLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "m4", logs[0].Message)
}

func startRun(t *testing.T, s repository.Store, runID string) {
	t.Helper()
	require.NoError(t, s.SaveRunState(context.Background(), models.RunState{RunID: runID, Status: models.RunRunning}))
}

func symbols(items []models.QueueItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Symbol
	}
	return out
}
