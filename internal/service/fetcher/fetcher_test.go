package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SessionScan/internal/domain/models"
	"SessionScan/pkg/cache"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    []models.SeriesRequest
	series   map[string]*models.Series
	failures map[string]error
	options  map[string]bool
	optErr   error
	optCalls int
}

func (p *fakeProvider) FetchSeries(_ context.Context, req models.SeriesRequest) (*models.Series, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if err := p.failures[req.Interval]; err != nil {
		return nil, err
	}
	if s, ok := p.series[req.Interval]; ok {
		return s, nil
	}
	return nil, &models.FetchError{Symbol: req.Symbol, Interval: req.Interval, Reason: models.ReasonEmptyPayload}
}

func (p *fakeProvider) HasOptions(_ context.Context, symbol string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.optCalls++
	if p.optErr != nil {
		return false, p.optErr
	}
	return p.options[symbol], nil
}

func bar(ts time.Time, high float64) models.Bar {
	return models.Bar{Timestamp: ts, High: models.F(high), Low: models.F(high - 1)}
}

func newFetcher(t *testing.T, p *fakeProvider, cfg Config) *Fetcher {
	t.Helper()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	return New(p, mc, nil, cfg, nil)
}

func TestFetchSeriesCachesSuccess(t *testing.T) {
	ts := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	p := &fakeProvider{series: map[string]*models.Series{
		"1d": {Symbol: "ACME", Interval: "1d", Bars: []models.Bar{bar(ts, 10)}},
	}}
	f := newFetcher(t, p, DefaultConfig())
	ctx := context.Background()
	req := models.SeriesRequest{Symbol: "ACME", Interval: "1d", Start: 1, End: 2}

	first, err := f.FetchSeries(ctx, req)
	require.NoError(t, err)
	second, err := f.FetchSeries(ctx, req)
	require.NoError(t, err)

	assert.Len(t, p.calls, 1)
	assert.Equal(t, *first.Bars[0].High, *second.Bars[0].High)
	assert.True(t, first.Bars[0].Timestamp.Equal(second.Bars[0].Timestamp))

	// a different range is a different key
	_, err = f.FetchSeries(ctx, models.SeriesRequest{Symbol: "ACME", Interval: "1d", Start: 1, End: 3})
	require.NoError(t, err)
	assert.Len(t, p.calls, 2)
}

func TestFetchSeriesDoesNotCacheFailures(t *testing.T) {
	p := &fakeProvider{failures: map[string]error{
		"1d": &models.FetchError{Symbol: "X", Interval: "1d", Reason: models.ReasonNonSuccessStatus, Status: 500},
	}}
	f := newFetcher(t, p, DefaultConfig())
	req := models.SeriesRequest{Symbol: "X", Interval: "1d"}

	_, err := f.FetchSeries(context.Background(), req)
	require.True(t, models.IsKind(err, models.KindFetch))
	_, err = f.FetchSeries(context.Background(), req)
	require.Error(t, err)
	assert.Len(t, p.calls, 2)
}

func TestIntradayMergesFineOverCoarse(t *testing.T) {
	end := time.Date(2024, 6, 28, 23, 59, 59, 0, time.UTC)
	start := end.AddDate(0, 0, -365)
	shared := time.Date(2024, 6, 3, 13, 0, 0, 0, time.UTC)
	old := time.Date(2024, 1, 3, 13, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 6, 3, 13, 5, 0, 0, time.UTC)

	p := &fakeProvider{series: map[string]*models.Series{
		"1h": {Interval: "1h", Bars: []models.Bar{bar(old, 5), bar(shared, 6)}},
		"5m": {Interval: "5m", Bars: []models.Bar{bar(recent, 8), bar(shared, 7)}},
	}}
	f := newFetcher(t, p, DefaultConfig())

	s, err := f.Intraday(context.Background(), "ACME", start, end)
	require.NoError(t, err)
	require.Len(t, s.Bars, 3)
	assert.True(t, s.Bars[0].Timestamp.Equal(old))
	assert.True(t, s.Bars[1].Timestamp.Equal(shared))
	assert.Equal(t, 7.0, *s.Bars[1].High, "fine bar wins")
	assert.True(t, s.Bars[2].Timestamp.Equal(recent))

	require.Len(t, p.calls, 2)
	fineStart := end.AddDate(0, 0, -59).Unix()
	assert.Equal(t, "1h", p.calls[0].Interval)
	assert.Equal(t, start.Unix(), p.calls[0].Start)
	assert.Equal(t, fineStart, p.calls[0].End)
	assert.Equal(t, "5m", p.calls[1].Interval)
	assert.Equal(t, fineStart, p.calls[1].Start)
	assert.True(t, p.calls[1].PrePost)
}

func TestIntradayToleratesOneFailure(t *testing.T) {
	end := time.Date(2024, 6, 28, 23, 59, 59, 0, time.UTC)
	ts := time.Date(2024, 2, 1, 13, 0, 0, 0, time.UTC)
	p := &fakeProvider{
		series:   map[string]*models.Series{"1h": {Interval: "1h", Bars: []models.Bar{bar(ts, 3)}}},
		failures: map[string]error{"5m": errors.New("connection reset")},
	}
	f := newFetcher(t, p, DefaultConfig())

	s, err := f.Intraday(context.Background(), "ACME", end.AddDate(0, 0, -365), end)
	require.NoError(t, err)
	assert.Len(t, s.Bars, 1)
}

func TestIntradayBothFail(t *testing.T) {
	end := time.Date(2024, 6, 28, 23, 59, 59, 0, time.UTC)
	p := &fakeProvider{failures: map[string]error{
		"1h": errors.New("timeout"),
		"5m": errors.New("timeout"),
	}}
	f := newFetcher(t, p, DefaultConfig())

	_, err := f.Intraday(context.Background(), "ACME", end.AddDate(0, 0, -365), end)
	var fe *models.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, models.ReasonTransport, fe.Reason)
}

func TestOptionsStatus(t *testing.T) {
	ctx := context.Background()

	disabled := newFetcher(t, &fakeProvider{}, DefaultConfig())
	assert.Equal(t, models.OptionsDisabled, disabled.OptionsStatus(ctx, "ACME"))

	cfg := DefaultConfig()
	cfg.OptionsCheck = true
	p := &fakeProvider{options: map[string]bool{"ACME": true}}
	f := newFetcher(t, p, cfg)
	assert.Equal(t, models.OptionsAvailable, f.OptionsStatus(ctx, "ACME"))
	assert.Equal(t, models.OptionsAvailable, f.OptionsStatus(ctx, "ACME"))
	assert.Equal(t, 1, p.optCalls, "second check served from cache")
	assert.Equal(t, models.OptionsNotAvailable, f.OptionsStatus(ctx, "BETA"))

	failing := newFetcher(t, &fakeProvider{optErr: errors.New("401")}, cfg)
	assert.Equal(t, models.OptionsUnknown, failing.OptionsStatus(ctx, "ACME"))
}
