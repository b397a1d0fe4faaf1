package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SessionScan/internal/domain/models"
)

var cutoff = models.Date{Year: 2024, Month: time.June, Day: 28}

func preDay(date models.Date, prev, preHigh float64, intradayHigh *float64) models.SessionDayMetrics {
	ph := preHigh
	p := prev
	pct := (ph/p - 1) * 100
	return models.SessionDayMetrics{
		Date:                 date,
		Close:                models.F(prev),
		PreviousClose:        &p,
		PreMarketHigh:        &ph,
		IntradayHigh:         intradayHigh,
		PreMarketPercentDiff: &pct,
		PreMarketActive:      true,
	}
}

func TestPreMarketOverThresholdAllWindows(t *testing.T) {
	agg := New(Config{}, time.UTC)
	days := []models.SessionDayMetrics{preDay(cutoff, 50, 51.5, nil)}

	sum := agg.PreMarket(days, cutoff, 2)
	assert.Equal(t, models.ModePreMarket, sum.Mode)
	for _, w := range models.Windows {
		c := sum.Windows[w]
		assert.Equal(t, 1, c.OverThreshold, w)
		assert.Equal(t, 1, c.TotalOverThreshold, w)
		assert.Equal(t, 0, c.UnderThreshold, w)
		assert.Equal(t, 0, c.IntradayRecovery, w)
		assert.Equal(t, 1, c.ActiveDays, w)
		assert.Equal(t, 1, c.TotalTradingDays, w)
	}
}

func TestPreMarketWindowMembership(t *testing.T) {
	agg := New(Config{}, time.UTC)
	days := []models.SessionDayMetrics{
		preDay(cutoff.AddDays(-45), 50, 51.5, nil),
		preDay(cutoff.AddDays(-400), 50, 51.5, nil),
		preDay(cutoff.AddDays(1), 50, 51.5, nil),
	}

	sum := agg.PreMarket(days, cutoff, 2)
	assert.Equal(t, 0, sum.Windows[models.Window30].TotalTradingDays)
	assert.Equal(t, 1, sum.Windows[models.Window60].TotalTradingDays)
	assert.Equal(t, 1, sum.Windows[models.Window90].TotalTradingDays)
	assert.Equal(t, 1, sum.Windows[models.Window365].OverThreshold)
}

func TestPreMarketIsIdempotent(t *testing.T) {
	agg := New(Config{}, time.UTC)
	days := []models.SessionDayMetrics{
		preDay(cutoff.AddDays(-3), 100, 101, models.F(103)),
		preDay(cutoff.AddDays(-2), 100, 104, nil),
		preDay(cutoff, 50, 51.5, nil),
	}
	require.Equal(t, agg.PreMarket(days, cutoff, 2), agg.PreMarket(days, cutoff, 2))
}

func TestPreMarketIntradayOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		day      models.SessionDayMetrics
		expected models.Counters
	}{
		{
			name: "rescued by regular session",
			day:  preDay(cutoff, 100, 101, models.F(103)),
			expected: models.Counters{
				TotalOverThreshold: 1, IntradayOverThreshold: 1,
				ActiveDays: 1, TotalTradingDays: 1,
			},
		},
		{
			name: "weak day",
			day:  preDay(cutoff, 100, 101, models.F(99)),
			expected: models.Counters{
				WeakDay: 1, UnderThreshold: 1,
				ActiveDays: 1, TotalTradingDays: 1,
			},
		},
		{
			name: "intraday recovery below threshold",
			day:  preDay(cutoff, 100, 101, models.F(101.5)),
			expected: models.Counters{
				IntradayRecovery: 1, UnderThreshold: 1,
				ActiveDays: 1, TotalTradingDays: 1,
			},
		},
		{
			name: "no intraday high",
			day:  preDay(cutoff, 100, 101, nil),
			expected: models.Counters{
				UnderThreshold: 1,
				ActiveDays:     1, TotalTradingDays: 1,
			},
		},
	}

	agg := New(Config{}, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := agg.PreMarket([]models.SessionDayMetrics{tt.day}, cutoff, 2)
			assert.Equal(t, tt.expected, sum.Windows[models.Window30])
		})
	}
}

func TestPreMarketQuietOpen(t *testing.T) {
	agg := New(Config{}, time.UTC)

	quiet := preDay(cutoff, 100, 103, nil)
	quiet.PreMarketOpenPercent = models.F(0.2)
	loud := preDay(cutoff.AddDays(-1), 100, 103, nil)
	loud.PreMarketOpenPercent = models.F(1.5)

	sum := agg.PreMarket([]models.SessionDayMetrics{quiet, loud}, cutoff, 2)
	c := sum.Windows[models.Window30]
	assert.Equal(t, 2, c.OverThreshold)
	assert.Equal(t, 1, c.SpecialCase)
}

func TestPreMarketInferredAndMissingPrevious(t *testing.T) {
	agg := New(Config{}, time.UTC)

	inferred := preDay(cutoff, 100, 103, nil)
	inferred.IsInferredActivity = true
	first := models.SessionDayMetrics{Date: cutoff.AddDays(-1), Close: models.F(100)}

	sum := agg.PreMarket([]models.SessionDayMetrics{first, inferred}, cutoff, 2)
	c := sum.Windows[models.Window30]
	assert.Equal(t, 1, c.TotalTradingDays)
	assert.Equal(t, 1, c.InferredActiveDays)
}

func TestPostMarket(t *testing.T) {
	agg := New(Config{}, time.UTC)
	days := []models.SessionDayMetrics{
		{Date: cutoff, Close: models.F(10), PostMarketPercentDiff: models.F(3), PostMarketActive: true},
		{Date: cutoff.AddDays(-1), Close: models.F(10), PostMarketPercentDiff: models.F(1), PostMarketActive: true},
		{Date: cutoff.AddDays(-2), Close: models.F(10)},
		{Date: cutoff.AddDays(-3)},
	}

	sum := agg.PostMarket(days, cutoff, 2)
	assert.Equal(t, models.Counters{
		OverThreshold: 1, UnderThreshold: 1, ActiveDays: 2, TotalTradingDays: 3,
	}, sum.Windows[models.Window30])
}

func openingSeries(loc *time.Location) *models.Series {
	bar := func(day int, open, high, close float64) models.Bar {
		return models.Bar{
			Timestamp: time.Date(2024, time.June, day, 9, 30, 0, 0, loc),
			Open:      models.F(open),
			High:      models.F(high),
			Close:     models.F(close),
		}
	}
	return &models.Series{Bars: []models.Bar{
		bar(21, 99, 100, 100),
		bar(24, 103, 104, 100),
		bar(25, 101, 102.5, 100),
		bar(26, 100.5, 101, 100),
		bar(27, 99, 102, 100),
	}}
}

func TestOpeningPrice(t *testing.T) {
	daily := openingSeries(time.UTC)

	sum := New(Config{}, time.UTC).OpeningPrice(daily, cutoff, 2)
	assert.Equal(t, models.Counters{
		Count: 1, IntradayRecoveryCount: 2, TotalTradingDays: 4,
	}, sum.Windows[models.Window30])

	sum = New(Config{NextDayRecovery: true}, time.UTC).OpeningPrice(daily, cutoff, 2)
	assert.Equal(t, models.Counters{
		Count: 1, IntradayRecoveryCount: 2, NextDayRecoveryCount: 1, TotalTradingDays: 4,
	}, sum.Windows[models.Window30])
}

func TestOpeningPriceNilSeries(t *testing.T) {
	sum := New(Config{}, time.UTC).OpeningPrice(nil, cutoff, 2)
	assert.Equal(t, models.NewWindowSummary(models.ModeOpeningPrice, 2), sum)
}

func TestAvgVolume30(t *testing.T) {
	bar := func(d models.Date, v *float64) models.Bar {
		return models.Bar{Timestamp: d.In(time.UTC).Add(14 * time.Hour), Volume: v}
	}
	daily := &models.Series{Bars: []models.Bar{
		bar(cutoff.AddDays(-40), models.F(1e6)),
		bar(cutoff.AddDays(-2), models.F(100)),
		bar(cutoff.AddDays(-1), nil),
		bar(cutoff, models.F(201)),
	}}

	agg := New(Config{}, time.UTC)
	assert.Equal(t, int64(151), agg.AvgVolume30(daily, cutoff))
	assert.Equal(t, int64(0), agg.AvgVolume30(&models.Series{}, cutoff))
	assert.Equal(t, int64(0), agg.AvgVolume30(nil, cutoff))
}
