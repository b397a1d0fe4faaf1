// Package fetcher puts a time-bounded cache in front of the market-data provider.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"SessionScan/internal/domain/models"
	"SessionScan/internal/domain/repository"
	"SessionScan/pkg/cache"
	"SessionScan/pkg/logger"
	"SessionScan/pkg/metrics"
)

// Config controls TTLs, the intraday split and the options check.
type Config struct {
	SeriesTTL      time.Duration
	OptionsTTL     time.Duration
	FineInterval   string
	FineDays       int
	CoarseInterval string
	OptionsCheck   bool
}

// DefaultConfig returns 4h/12h TTLs with 5m bars for the last 59 days and 1h before that.
func DefaultConfig() Config {
	return Config{
		SeriesTTL:      4 * time.Hour,
		OptionsTTL:     12 * time.Hour,
		FineInterval:   models.IntervalFiveMinute,
		FineDays:       59,
		CoarseInterval: models.IntervalHourly,
	}
}

// Fetcher is the cached series fetcher.
type Fetcher struct {
	provider repository.SeriesProvider
	cache    cache.Service
	metrics  repository.Metrics
	cfg      Config
	log      *logger.Logger
}

// New creates a Fetcher. A nil cache disables caching.
func New(provider repository.SeriesProvider, c cache.Service, m repository.Metrics, cfg Config, l *logger.Logger) *Fetcher {
	if m == nil {
		m = metrics.Nop{}
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Fetcher{provider: provider, cache: c, metrics: m, cfg: cfg, log: l.With("component", "fetcher")}
}

// SeriesKey is the cache key of a request.
func SeriesKey(req models.SeriesRequest) string {
	return cache.GenerateKeyWithParams("series", req.Symbol, req.Interval, req.Start, req.End, req.PrePost, req.Splits)
}

// FetchSeries returns a cached series or asks the provider and caches the answer.
// Provider failures are never cached.
func (f *Fetcher) FetchSeries(ctx context.Context, req models.SeriesRequest) (*models.Series, error) {
	key := SeriesKey(req)
	if f.cache != nil {
		var cached models.Series
		err := f.cache.Get(ctx, key, &cached)
		switch {
		case err == nil:
			f.metrics.RecordCache("hit")
			return &cached, nil
		case errors.Is(err, cache.ErrCacheMiss):
			f.metrics.RecordCache("miss")
		default:
			f.metrics.RecordCache("error")
			f.log.Warn("series cache read failed", logger.String("key", key), logger.Error(err))
		}
	}

	start := time.Now()
	s, err := f.provider.FetchSeries(ctx, req)
	f.metrics.RecordFetch(req.Interval, err, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if len(s.Bars) == 0 {
		return nil, &models.FetchError{Symbol: req.Symbol, Interval: req.Interval, Reason: models.ReasonEmptyPayload}
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, key, s, f.cfg.SeriesTTL); err != nil {
			f.log.Warn("series cache write failed", logger.String("key", key), logger.Error(err))
		}
	}
	return s, nil
}

// Daily fetches daily bars with split events for [start, end].
func (f *Fetcher) Daily(ctx context.Context, symbol string, start, end time.Time) (*models.Series, error) {
	return f.FetchSeries(ctx, models.SeriesRequest{
		Symbol:   symbol,
		Interval: models.IntervalDaily,
		Start:    start.Unix(),
		End:      end.Unix(),
		Splits:   true,
	})
}

// Intraday fetches extended-hours bars for [start, end]. Recent days come at the fine
// interval and older days at the coarse one; the two are merged by timestamp with the
// fine bar winning. One failed half is tolerated; both failing is a FetchError.
func (f *Fetcher) Intraday(ctx context.Context, symbol string, start, end time.Time) (*models.Series, error) {
	if f.cfg.FineInterval == "" || f.cfg.FineDays <= 0 {
		return f.FetchSeries(ctx, intradayRequest(symbol, f.cfg.CoarseInterval, start, end))
	}

	fineStart := start
	if fs := end.AddDate(0, 0, -f.cfg.FineDays); fs.After(start) {
		fineStart = fs
	}

	type part struct {
		series *models.Series
		err    error
	}
	var parts []part

	if fineStart.After(start) {
		s, err := f.FetchSeries(ctx, intradayRequest(symbol, f.cfg.CoarseInterval, start, fineStart))
		parts = append(parts, part{s, err})
	}
	s, err := f.FetchSeries(ctx, intradayRequest(symbol, f.cfg.FineInterval, fineStart, end))
	parts = append(parts, part{s, err})

	var (
		merged  []*models.Series
		lastErr error
	)
	for _, p := range parts {
		if p.err != nil {
			lastErr = p.err
			f.log.Warn("intraday request failed", logger.String("symbol", symbol), logger.Error(p.err))
			continue
		}
		merged = append(merged, p.series)
	}
	if len(merged) == 0 {
		var fe *models.FetchError
		if errors.As(lastErr, &fe) {
			return nil, lastErr
		}
		return nil, &models.FetchError{Symbol: symbol, Interval: f.cfg.FineInterval, Reason: models.ReasonTransport, Err: lastErr}
	}
	return MergeSeries(symbol, merged...), nil
}

func intradayRequest(symbol, interval string, start, end time.Time) models.SeriesRequest {
	return models.SeriesRequest{
		Symbol:   symbol,
		Interval: interval,
		Start:    start.Unix(),
		End:      end.Unix(),
		PrePost:  true,
	}
}

// MergeSeries merges series ordered coarse to fine. A later series replaces bars
// with the same timestamp. The result is sorted by time.
func MergeSeries(symbol string, series ...*models.Series) *models.Series {
	byTime := make(map[int64]models.Bar)
	interval := ""
	for _, s := range series {
		if s == nil {
			continue
		}
		interval = s.Interval
		for _, b := range s.Bars {
			byTime[b.Timestamp.Unix()] = b
		}
	}
	out := &models.Series{Symbol: symbol, Interval: interval, Bars: make([]models.Bar, 0, len(byTime))}
	for _, b := range byTime {
		out.Bars = append(out.Bars, b)
	}
	sort.Slice(out.Bars, func(i, j int) bool { return out.Bars[i].Timestamp.Before(out.Bars[j].Timestamp) })
	return out
}

// OptionsStatus runs the optional derivative-market check. It never fails.
func (f *Fetcher) OptionsStatus(ctx context.Context, symbol string) string {
	if !f.cfg.OptionsCheck {
		return models.OptionsDisabled
	}

	key := cache.GenerateKey("options", symbol)
	if f.cache != nil {
		var has bool
		if err := f.cache.Get(ctx, key, &has); err == nil {
			f.metrics.RecordCache("hit")
			return optionsLabel(has)
		}
		f.metrics.RecordCache("miss")
	}

	has, err := f.provider.HasOptions(ctx, symbol)
	if err != nil {
		f.log.Warn("options check failed", logger.String("symbol", symbol), logger.Error(err))
		return models.OptionsUnknown
	}
	if f.cache != nil {
		if err := f.cache.Set(ctx, key, has, f.cfg.OptionsTTL); err != nil {
			f.log.Warn("options cache write failed", logger.String("symbol", symbol), logger.Error(err))
		}
	}
	return optionsLabel(has)
}

func optionsLabel(has bool) string {
	if has {
		return models.OptionsAvailable
	}
	return models.OptionsNotAvailable
}

// String describes the configuration for startup logs.
func (c Config) String() string {
	return fmt.Sprintf("series_ttl=%s options_ttl=%s intraday=%s/%dd+%s options_check=%t",
		c.SeriesTTL, c.OptionsTTL, c.FineInterval, c.FineDays, c.CoarseInterval, c.OptionsCheck)
}
