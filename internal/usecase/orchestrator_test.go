package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SessionScan/internal/domain/models"
	"SessionScan/internal/repository/memstore"
	"SessionScan/internal/scheduler"
	"SessionScan/internal/service/session"
	"SessionScan/internal/service/stats"
	"SessionScan/pkg/cache"
	"SessionScan/pkg/metrics"
)

type fakeSource struct {
	ranges map[string][]string
	err    error
}

func (f *fakeSource) ReadSymbols(_ context.Context, rng string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ranges[rng], nil
}

type fakeSink struct {
	mu      sync.Mutex
	headers map[string][]string
	rows    map[string][]models.Row
	inits   map[string]int
	fail    bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{headers: map[string][]string{}, rows: map[string][]models.Row{}, inits: map[string]int{}}
}

func (f *fakeSink) Initialize(_ context.Context, dest string, header []string, first models.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("sheet unavailable")
	}
	f.inits[dest]++
	f.headers[dest] = header
	f.rows[dest] = []models.Row{first}
	return nil
}

func (f *fakeSink) Append(_ context.Context, dest string, rows []models.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("sheet unavailable")
	}
	f.rows[dest] = append(f.rows[dest], rows...)
	return nil
}

func (f *fakeSink) cell(dest string, row int, label string) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, h := range f.headers[dest] {
		if h == label {
			return f.rows[dest][row][i]
		}
	}
	return nil
}

type fakeFetcher struct {
	mu       sync.Mutex
	daily    *models.Series
	intraday *models.Series
	failing  map[string]bool
	calls    []string
	onDaily  func(symbol string)
}

func (f *fakeFetcher) Daily(_ context.Context, symbol string, _, _ time.Time) (*models.Series, error) {
	f.mu.Lock()
	f.calls = append(f.calls, symbol)
	hook := f.onDaily
	failing := f.failing[symbol]
	f.mu.Unlock()
	if hook != nil {
		hook(symbol)
	}
	if failing {
		return nil, &models.FetchError{Symbol: symbol, Interval: models.IntervalDaily, Reason: models.ReasonNonSuccessStatus, Status: 404}
	}
	return f.daily, nil
}

func (f *fakeFetcher) Intraday(context.Context, string, time.Time, time.Time) (*models.Series, error) {
	return f.intraday, nil
}

func (f *fakeFetcher) OptionsStatus(context.Context, string) string { return models.OptionsDisabled }

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []models.RunEvent
}

func (r *recordedEvents) PublishEvent(_ context.Context, ev models.RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordedEvents) Close() error { return nil }

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

var cutoffDate = models.Date{Year: 2024, Month: time.June, Day: 28}

// acmeSeries: close 50 on the 27th, pre-market high 51.5 on the 28th.
func acmeSeries() (*models.Series, *models.Series) {
	daily := &models.Series{Interval: models.IntervalDaily, Bars: []models.Bar{
		{Timestamp: time.Date(2024, 6, 27, 20, 0, 0, 0, time.UTC), Open: models.F(49), High: models.F(50.5), Close: models.F(50)},
		{Timestamp: time.Date(2024, 6, 28, 20, 0, 0, 0, time.UTC), Open: models.F(50.5), High: models.F(50.8), Close: models.F(50.6)},
	}}
	intraday := &models.Series{Interval: models.IntervalFiveMinute, Bars: []models.Bar{
		{Timestamp: time.Date(2024, 6, 28, 8, 0, 0, 0, time.UTC), Open: models.F(51), High: models.F(51.5), Low: models.F(50.8)},
	}}
	return daily, intraday
}

type harness struct {
	o       *Orchestrator
	store   *memstore.Store
	source  *fakeSource
	sink    *fakeSink
	fetcher *fakeFetcher
	sched   *scheduler.Manual
	lease   cache.Service
	events  *recordedEvents
}

func newHarness(t *testing.T, batchSize int) *harness {
	t.Helper()
	daily, intraday := acmeSeries()
	source := &fakeSource{ranges: map[string][]string{
		"pre":  {"ACME", "BETA", "GAMMA"},
		"post": {"ACME", " ", "DELTA"},
		"open": {},
	}}
	h := &harness{
		store:   memstore.New(200),
		source:  source,
		sink:    newFakeSink(),
		fetcher: &fakeFetcher{daily: daily, intraday: intraday, failing: map[string]bool{}},
		sched:   scheduler.NewManual(),
		lease:   cache.NewMemoryCache(),
		events:  &recordedEvents{},
	}
	t.Cleanup(func() { _ = h.lease.Close() })

	modes := map[models.Mode]ModeSettings{
		models.ModePreMarket:    {SourceRange: "pre", Destination: "Pre", Threshold: 2},
		models.ModePostMarket:   {SourceRange: "post", Destination: "Post", Threshold: 2},
		models.ModeOpeningPrice: {SourceRange: "open", Destination: "Open", Threshold: 1.2},
	}
	thresholds := map[models.Mode]float64{}
	for m, s := range modes {
		thresholds[m] = s.Threshold
	}
	proc := NewItemProcessor(h.fetcher, session.New(time.UTC, 0), stats.New(stats.Config{}, time.UTC), thresholds)

	h.o = NewOrchestrator(Config{BatchSize: batchSize, EndDate: cutoffDate, Modes: modes}, Deps{
		Store:     h.store,
		Source:    h.source,
		Sink:      h.sink,
		Scheduler: h.sched,
		Lease:     h.lease,
		Events:    h.events,
		Metrics:   metrics.Nop{},
		Processor: proc,
		Location:  time.UTC,
	})
	var runs int
	h.o.newID = func() string {
		runs++
		return fmt.Sprintf("run-%d", runs)
	}
	h.o.now = func() time.Time { return time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC) }
	h.o.runLog.now = h.o.now
	return h
}

type leaseClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *leaseClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *leaseClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// withLeaseClock swaps the harness lease for one whose expiry follows the
// returned clock.
func (h *harness) withLeaseClock(t *testing.T, ttl time.Duration) *leaseClock {
	t.Helper()
	clock := &leaseClock{now: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)}
	lease := cache.NewMemoryCache(cache.WithMemoryClock(clock.Now))
	t.Cleanup(func() { _ = lease.Close() })
	h.lease = lease
	h.o.lease = lease
	h.o.cfg.LeaseTTL = ttl
	return clock
}

func (h *harness) status(t *testing.T) models.Status {
	t.Helper()
	st, err := h.o.Status(context.Background(), 200)
	require.NoError(t, err)
	return st
}

func (h *harness) logContains(t *testing.T, substr string) bool {
	t.Helper()
	for _, line := range h.status(t).Log {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestStartMergesModesPerSymbol(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	require.NoError(t, h.o.Start(ctx, "both"))

	items, err := h.store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, "ACME", items[0].Symbol)
	assert.Equal(t, models.ModeSet{models.ModePreMarket, models.ModePostMarket}, items[0].Modes)
	assert.Equal(t, "BETA", items[1].Symbol)
	assert.Equal(t, "DELTA", items[3].Symbol)
	assert.Equal(t, models.ModeSet{models.ModePostMarket}, items[3].Modes)

	st := h.status(t)
	assert.Equal(t, models.RunRunning, st.Status)
	assert.Equal(t, "run-1", st.RunID)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 1, h.sched.Requests())
	assert.True(t, h.logContains(t, "Run started. 4 unique symbols"))
	assert.Equal(t, []string{models.EventRunStarted}, h.events.types())
}

func TestStartSingleMode(t *testing.T) {
	h := newHarness(t, 10)
	require.NoError(t, h.o.Start(context.Background(), "post"))
	assert.Equal(t, 2, h.status(t).Pending)
}

func TestFatalStartLeavesEmptyStoppedRun(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		sel   string
		kind  models.ErrorKind
	}{
		{
			name: "missing source range",
			setup: func(h *harness) {
				ms := h.o.cfg.Modes[models.ModePostMarket]
				ms.SourceRange = ""
				h.o.cfg.Modes[models.ModePostMarket] = ms
			},
			sel:  "both",
			kind: models.KindConfiguration,
		},
		{
			name: "missing destination",
			setup: func(h *harness) {
				ms := h.o.cfg.Modes[models.ModePreMarket]
				ms.Destination = ""
				h.o.cfg.Modes[models.ModePreMarket] = ms
			},
			sel:  "pre",
			kind: models.KindConfiguration,
		},
		{
			name:  "unknown selection",
			setup: func(*harness) {},
			sel:   "overnight",
			kind:  models.KindConfiguration,
		},
		{
			name:  "source unreachable",
			setup: func(h *harness) { h.source.err = errors.New("403 forbidden") },
			sel:   "both",
			kind:  models.KindSourceRead,
		},
		{
			name:  "no symbols",
			setup: func(*harness) {},
			sel:   "opening_price",
			kind:  models.KindSourceRead,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 10)
			ctx := context.Background()
			require.NoError(t, h.store.Enqueue(ctx, "STALE", models.ModeSet{models.ModePreMarket}))
			tt.setup(h)

			err := h.o.Start(ctx, tt.sel)
			require.Error(t, err)
			assert.True(t, models.IsKind(err, tt.kind), "got %v", err)

			st := h.status(t)
			assert.Equal(t, models.RunStopped, st.Status)
			assert.Equal(t, 0, st.Total)
			assert.Equal(t, 0, h.sched.Requests())
			assert.True(t, h.logContains(t, "ERROR:"))
		})
	}
}

func TestStepEndToEnd(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	h.source.ranges["pre"] = []string{"ACME"}

	require.NoError(t, h.o.Start(ctx, "pre"))
	require.NoError(t, h.o.Step(ctx))

	assert.Equal(t, 1, h.sink.inits["Pre"])
	assert.Equal(t, stats.Header(models.ModePreMarket, 2, false), h.sink.headers["Pre"])
	require.Len(t, h.sink.rows["Pre"], 1)
	assert.Equal(t, "ACME", h.sink.rows["Pre"][0][0])
	for _, w := range []string{"365d", "90d", "60d", "30d"} {
		assert.Equal(t, 1, h.sink.cell("Pre", 0, fmt.Sprintf("PM >= +2%% (%s)", w)), w)
		assert.Equal(t, 1, h.sink.cell("Pre", 0, fmt.Sprintf("Total >= +2%% (%s)", w)), w)
		assert.Equal(t, 0, h.sink.cell("Pre", 0, fmt.Sprintf("Below 2%% (%s)", w)), w)
		assert.Equal(t, 0, h.sink.cell("Pre", 0, fmt.Sprintf("Intraday Recovery (%s)", w)), w)
	}
	assert.Equal(t, "None", h.sink.cell("Pre", 0, "Split"))

	st := h.status(t)
	assert.Equal(t, models.RunIdle, st.Status)
	assert.Equal(t, 0, st.Total)
	assert.True(t, h.logContains(t, "All symbols processed: 1 completed, 0 skipped"))
	assert.Equal(t, []string{models.EventRunStarted, models.EventItemCompleted, models.EventRunCompleted}, h.events.types())
}

func TestStepChainsUntilDrained(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	require.NoError(t, h.o.Start(ctx, "pre"))
	require.NoError(t, h.o.Step(ctx))
	assert.Equal(t, 2, h.sched.Requests())
	st := h.status(t)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 2, st.Completed)

	require.NoError(t, h.o.Step(ctx))
	assert.Equal(t, models.RunIdle, h.status(t).Status)
	assert.Equal(t, 1, h.sink.inits["Pre"])
	assert.Len(t, h.sink.rows["Pre"], 3)
	assert.Equal(t, []string{"ACME", "BETA", "GAMMA"}, h.fetcher.fetched())
}

func TestStopMidBatchThenResume(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	h.fetcher.onDaily = func(symbol string) {
		if symbol == "BETA" {
			require.NoError(t, h.o.Stop(ctx))
		}
	}

	require.NoError(t, h.o.Start(ctx, "pre"))
	require.NoError(t, h.o.Step(ctx))

	st := h.status(t)
	assert.Equal(t, models.RunStopped, st.Status)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 2, st.Completed)
	assert.Equal(t, st.Total, st.Pending+st.Completed+st.Error)
	assert.True(t, h.logContains(t, "Stop signal received"))
	assert.Equal(t, 1, h.sched.Requests())

	require.NoError(t, h.o.Step(ctx))
	assert.Equal(t, 1, h.status(t).Pending)

	require.NoError(t, h.o.Stop(ctx))

	h.fetcher.onDaily = nil
	require.NoError(t, h.o.Resume(ctx))
	assert.Equal(t, models.RunRunning, h.status(t).Status)
	require.NoError(t, h.o.Drive(ctx))

	assert.Equal(t, []string{"ACME", "BETA", "GAMMA"}, h.fetcher.fetched())
	assert.Equal(t, models.RunIdle, h.status(t).Status)
	assert.Contains(t, h.events.types(), models.EventRunStopped)
	assert.Contains(t, h.events.types(), models.EventRunResumed)
}

func TestFailedItemGetsPlaceholder(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	h.fetcher.failing["ACME"] = true

	require.NoError(t, h.o.Start(ctx, "both"))
	require.NoError(t, h.o.Step(ctx))

	require.NotEmpty(t, h.sink.rows["Pre"])
	assert.Equal(t, models.Row{"ACME - SKIPPED DUE TO ERROR"}, h.sink.rows["Pre"][0])
	assert.Equal(t, models.Row{"ACME - SKIPPED DUE TO ERROR"}, h.sink.rows["Post"][0])
	assert.Equal(t, 1, h.sink.inits["Pre"])
	assert.Len(t, h.sink.rows["Pre"], 3)
	assert.Equal(t, "BETA", h.sink.rows["Pre"][1][0])

	assert.True(t, h.logContains(t, "ERROR (ACME)"))
	assert.True(t, h.logContains(t, "Info: skip row written for ACME"))
	assert.True(t, h.logContains(t, "3 completed, 1 skipped"))
	assert.Contains(t, h.events.types(), models.EventItemFailed)
}

func TestPlaceholderFailureDoesNotAbortBatch(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	h.sink.fail = true

	require.NoError(t, h.o.Start(ctx, "pre"))
	require.NoError(t, h.o.Step(ctx))

	assert.True(t, h.logContains(t, "WARNING: skip row for ACME could not be written"))
	assert.True(t, h.logContains(t, "0 completed, 3 skipped"))
}

func TestStepIsNoopWhenNotRunning(t *testing.T) {
	h := newHarness(t, 10)
	require.NoError(t, h.o.Step(context.Background()))
	assert.Empty(t, h.fetcher.fetched())
}

func TestStepRespectsLease(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx, "pre"))

	ok, err := h.lease.TryLock(ctx, leaseKey, "other-step", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.o.Step(ctx))
	assert.Empty(t, h.fetcher.fetched())
	assert.Equal(t, 2, h.sched.Requests(), "a busy step asks to be retried")
	assert.Equal(t, models.RunRunning, h.status(t).Status)

	require.NoError(t, h.lease.Unlock(ctx, leaseKey, "other-step"))
	require.NoError(t, h.o.Step(ctx))
	assert.Len(t, h.fetcher.fetched(), 3)
}

func TestOverlappingStepWaitsForRenewedLease(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	clock := h.withLeaseClock(t, 10*time.Minute)

	var overlapping error
	h.fetcher.onDaily = func(symbol string) {
		// each item outlasts half the lease, so only renewal keeps it held
		clock.Advance(6 * time.Minute)
		if symbol == "GAMMA" {
			done := make(chan error, 1)
			go func() { done <- h.o.Step(ctx) }()
			overlapping = <-done
		}
	}

	require.NoError(t, h.o.Start(ctx, "pre"))
	require.NoError(t, h.o.Step(ctx))
	require.NoError(t, overlapping)

	assert.Equal(t, []string{"ACME", "BETA", "GAMMA"}, h.fetcher.fetched())
	assert.Equal(t, 2, h.sched.Requests())
	assert.Equal(t, models.RunIdle, h.status(t).Status)
	assert.Len(t, h.sink.rows["Pre"], 3)
}

func TestStepHaltsWhenLeaseLost(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	clock := h.withLeaseClock(t, 10*time.Minute)

	h.fetcher.onDaily = func(symbol string) {
		if symbol != "ACME" {
			return
		}
		clock.Advance(11 * time.Minute)
		ok, err := h.lease.TryLock(ctx, leaseKey, "other-step", 10*time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.NoError(t, h.o.Start(ctx, "pre"))
	require.NoError(t, h.o.Step(ctx))

	assert.Equal(t, []string{"ACME"}, h.fetcher.fetched())
	st := h.status(t)
	assert.Equal(t, models.RunRunning, st.Status)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, 1, h.sched.Requests())

	ok, err := h.lease.TryLock(ctx, leaseKey, "third-step", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "the new owner keeps its lease")
}

func TestStartDuringStepDropsOldBatch(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	restarted := false
	h.fetcher.onDaily = func(string) {
		if restarted {
			return
		}
		restarted = true
		require.NoError(t, h.o.Start(ctx, "post"))
	}

	require.NoError(t, h.o.Start(ctx, "pre"))
	require.NoError(t, h.o.Step(ctx))

	st := h.status(t)
	assert.Equal(t, "run-2", st.RunID)
	assert.Equal(t, models.RunRunning, st.Status)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, st.Total, st.Pending)
	assert.Empty(t, h.sink.rows["Pre"])
	assert.Zero(t, h.sink.inits["Pre"])
	run, err := h.store.LoadRunState(ctx)
	require.NoError(t, err)
	assert.False(t, run.IsInitialized(models.ModePostMarket))
	assert.Equal(t, []string{"ACME"}, h.fetcher.fetched())

	require.NoError(t, h.o.Step(ctx))
	assert.Equal(t, models.RunIdle, h.status(t).Status)
	assert.Equal(t, 1, h.sink.inits["Post"])
	assert.Len(t, h.sink.rows["Post"], 2)
	assert.Equal(t, []string{"ACME", "ACME", "DELTA"}, h.fetcher.fetched())
}

func TestStaleControlOperations(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	err := h.o.Resume(ctx)
	assert.True(t, models.IsKind(err, models.KindStaleRun))
	err = h.o.Trigger(ctx)
	assert.True(t, models.IsKind(err, models.KindStaleRun))
	assert.NoError(t, h.o.Stop(ctx))
	assert.NoError(t, h.o.Tick(ctx))
	assert.Equal(t, 0, h.sched.Requests())
}

func TestTriggerRunsStepSynchronously(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx, "pre"))

	require.NoError(t, h.o.Tick(ctx))
	assert.Equal(t, 2, h.sched.Requests())

	require.NoError(t, h.o.Trigger(ctx))
	assert.Equal(t, models.RunIdle, h.status(t).Status)
}

func TestFreshStartSelectsAllModes(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx, "post"))

	require.NoError(t, h.o.FreshStart(ctx))
	st := h.status(t)
	assert.Equal(t, models.ModeSet{models.ModePreMarket, models.ModePostMarket, models.ModeOpeningPrice}, st.Modes)
	assert.Equal(t, 4, st.Total)
}

func TestStatusLogNewestFirst(t *testing.T) {
	h := newHarness(t, 10)
	require.NoError(t, h.o.Start(context.Background(), "pre"))

	st, err := h.o.Status(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, st.Log, 2)
	assert.Equal(t, "2024-07-01 12:00:00 - Run started. 3 unique symbols will be processed", st.Log[0])
	require.NotNil(t, st.StartedAt)
	assert.Equal(t, cutoffDate, st.EndDate)
}

func TestFormatLogLine(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	e := models.LogEntry{Timestamp: time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC), Message: "hello"}
	assert.Equal(t, "2024-01-02 10:04:05 - hello", FormatLogLine(e, loc))
}
