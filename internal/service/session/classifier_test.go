package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SessionScan/internal/domain/models"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	return loc
}

func at(loc *time.Location, y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, loc).UTC()
}

func dailyBar(loc *time.Location, y int, m time.Month, d int, open, high, close float64) models.Bar {
	return models.Bar{
		Timestamp: at(loc, y, m, d, 9, 30),
		Open:      models.F(open),
		High:      models.F(high),
		Low:       models.F(open - 1),
		Close:     models.F(close),
		Volume:    models.F(1000),
	}
}

func sample(ts time.Time, open, high, low, volume float64) models.Bar {
	return models.Bar{Timestamp: ts, Open: models.F(open), High: models.F(high), Low: models.F(low), Volume: models.F(volume)}
}

func byDate(days []models.SessionDayMetrics, d models.Date) models.SessionDayMetrics {
	for _, m := range days {
		if m.Date == d {
			return m
		}
	}
	return models.SessionDayMetrics{}
}

func TestPreMarketActivityNeedsMovement(t *testing.T) {
	ny := newYork(t)
	daily := &models.Series{Bars: []models.Bar{
		dailyBar(ny, 2024, 3, 4, 9.5, 10, 9.5),
		dailyBar(ny, 2024, 3, 5, 9.5, 11, 10.5),
	}}
	intraday := &models.Series{Bars: []models.Bar{
		sample(at(ny, 2024, 3, 5, 4, 0), 9.5, 10, 9, 100),
		sample(at(ny, 2024, 3, 5, 5, 0), 10, 10, 10, 0),
	}}

	days := New(ny, 0).Classify(daily, intraday)
	require.Len(t, days, 2)
	m := days[1]
	assert.True(t, m.PreMarketActive)
	require.NotNil(t, m.PreMarketHigh)
	assert.Equal(t, 10.0, *m.PreMarketHigh)
	assert.False(t, m.IsInferredActivity)
	require.NotNil(t, m.PreMarketOpenPercent)
	assert.InDelta(t, 0.0, *m.PreMarketOpenPercent, 1e-9)
}

func TestFlatPreMarketIsNotActive(t *testing.T) {
	ny := newYork(t)
	daily := &models.Series{Bars: []models.Bar{
		dailyBar(ny, 2024, 3, 4, 10, 10, 10),
		dailyBar(ny, 2024, 3, 5, 10, 10, 10),
	}}
	intraday := &models.Series{Bars: []models.Bar{
		sample(at(ny, 2024, 3, 5, 8, 0), 10, 10, 10, 0),
	}}
	m := New(ny, 0).Classify(daily, intraday)[1]
	assert.False(t, m.PreMarketActive)
	assert.False(t, m.IsInferredActivity)
}

func TestGapInference(t *testing.T) {
	ny := newYork(t)
	daily := &models.Series{Bars: []models.Bar{
		dailyBar(ny, 2024, 3, 4, 99, 101, 100.00),
		dailyBar(ny, 2024, 3, 5, 101.50, 103, 102),
	}}

	days := New(ny, 0).Classify(daily, &models.Series{})
	m := days[1]
	assert.True(t, m.PreMarketActive)
	assert.True(t, m.IsInferredActivity)
	require.NotNil(t, m.PreMarketHigh)
	assert.Equal(t, 101.5, *m.PreMarketHigh)
	require.NotNil(t, m.PreMarketPercentDiff)
	assert.InDelta(t, 1.5, *m.PreMarketPercentDiff, 1e-9)

	// the first date has no previous close
	assert.False(t, days[0].PreMarketActive)
	assert.Nil(t, days[0].PreMarketPercentDiff)
}

func TestGapBelowToleranceIsIgnored(t *testing.T) {
	ny := newYork(t)
	daily := &models.Series{Bars: []models.Bar{
		dailyBar(ny, 2024, 3, 4, 99, 101, 100.0),
		dailyBar(ny, 2024, 3, 5, 100.0005, 103, 102),
	}}
	m := New(ny, 0).Classify(daily, nil)[1]
	assert.False(t, m.PreMarketActive)
}

func TestBucketsAndPostMarket(t *testing.T) {
	ny := newYork(t)
	daily := &models.Series{Bars: []models.Bar{
		dailyBar(ny, 2024, 3, 4, 49, 50, 50),
		dailyBar(ny, 2024, 3, 5, 50, 53, 52),
	}}
	intraday := &models.Series{Bars: []models.Bar{
		sample(at(ny, 2024, 3, 5, 3, 55), 1, 99, 1, 1),       // before pre-market
		sample(at(ny, 2024, 3, 5, 9, 29), 51, 51.5, 50.5, 1), // last pre-market minute
		sample(at(ny, 2024, 3, 5, 9, 30), 51, 53, 50, 1),     // regular
		sample(at(ny, 2024, 3, 5, 15, 59), 52, 52.5, 52, 1),  // regular
		sample(at(ny, 2024, 3, 5, 16, 0), 52, 52.2, 52.2, 0), // post
		sample(at(ny, 2024, 3, 5, 16, 55), 52, 53.04, 52, 0), // post
		sample(at(ny, 2024, 3, 5, 17, 0), 52, 80, 52, 50),    // after first post hour
		{Timestamp: at(ny, 2024, 3, 5, 16, 30)},              // null high is skipped
	}}

	m := New(ny, 0).Classify(daily, intraday)[1]
	require.NotNil(t, m.PreMarketHigh)
	assert.Equal(t, 51.5, *m.PreMarketHigh)
	require.NotNil(t, m.IntradayHigh)
	assert.Equal(t, 53.0, *m.IntradayHigh)
	require.NotNil(t, m.PostMarketHigh)
	assert.Equal(t, 53.04, *m.PostMarketHigh)
	assert.True(t, m.PostMarketActive)
	require.NotNil(t, m.PostMarketPercentDiff)
	assert.InDelta(t, 2.0, *m.PostMarketPercentDiff, 1e-9)
	require.NotNil(t, m.PreMarketPercentDiff)
	assert.InDelta(t, 3.0, *m.PreMarketPercentDiff, 1e-9)
}

func TestSinglePostSampleIsNotActive(t *testing.T) {
	ny := newYork(t)
	daily := &models.Series{Bars: []models.Bar{dailyBar(ny, 2024, 3, 5, 50, 53, 52)}}
	intraday := &models.Series{Bars: []models.Bar{sample(at(ny, 2024, 3, 5, 16, 0), 52, 54, 51, 500)}}

	m := New(ny, 0).Classify(daily, intraday)[0]
	assert.False(t, m.PostMarketActive)
	require.NotNil(t, m.PostMarketHigh)
}

func TestWeekendSamplesAreSkipped(t *testing.T) {
	ny := newYork(t)
	// 2024-03-09 is a Saturday
	daily := &models.Series{Bars: []models.Bar{
		dailyBar(ny, 2024, 3, 8, 10, 10, 10),
		{Timestamp: at(ny, 2024, 3, 9, 9, 30), Close: models.F(10), Open: models.F(10)},
	}}
	intraday := &models.Series{Bars: []models.Bar{sample(at(ny, 2024, 3, 9, 5, 0), 10, 12, 9, 5)}}

	m := byDate(New(ny, 0).Classify(daily, intraday), models.Date{Year: 2024, Month: 3, Day: 9})
	assert.Nil(t, m.PreMarketHigh)
	assert.False(t, m.PreMarketActive)
}

func TestPreviousCloseSkipsMissingCloses(t *testing.T) {
	ny := newYork(t)
	daily := &models.Series{Bars: []models.Bar{
		dailyBar(ny, 2024, 3, 4, 10, 10, 10),
		{Timestamp: at(ny, 2024, 3, 5, 9, 30), Open: models.F(11)},
		dailyBar(ny, 2024, 3, 6, 12, 12, 12),
	}}
	days := New(ny, 0).Classify(daily, nil)
	require.Len(t, days, 2)
	require.NotNil(t, days[1].PreviousClose)
	assert.Equal(t, 10.0, *days[1].PreviousClose)
}

func TestDatesUseExchangeTimezone(t *testing.T) {
	ny := newYork(t)
	// 01:00 UTC on the 6th is 20:00 on the 5th in New York.
	daily := &models.Series{Bars: []models.Bar{{
		Timestamp: time.Date(2024, 3, 6, 1, 0, 0, 0, time.UTC),
		Close:     models.F(10),
	}}}
	days := New(ny, 0).Classify(daily, nil)
	require.Len(t, days, 1)
	assert.Equal(t, "2024-03-05", days[0].Date.String())
}

func TestSplitInfo(t *testing.T) {
	ny := newYork(t)
	since := time.Date(2023, 6, 1, 0, 0, 0, 0, ny)
	daily := &models.Series{Splits: []models.Split{
		{Date: at(ny, 2022, 1, 10, 9, 30), Ratio: "4:1"},
		{Date: at(ny, 2024, 2, 12, 9, 30), Ratio: "2:1"},
		{Date: at(ny, 2023, 8, 1, 9, 30), Ratio: "3:2"},
	}}
	c := New(ny, 0)
	assert.Equal(t, "2:1 (2024-02-12)", c.SplitInfo(daily, since))
	assert.Equal(t, models.SplitNone, c.SplitInfo(daily, time.Date(2025, 1, 1, 0, 0, 0, 0, ny)))
	assert.Equal(t, models.SplitNone, c.SplitInfo(&models.Series{}, since))
}

func TestPercent(t *testing.T) {
	assert.Nil(t, Percent(nil, models.F(1)))
	assert.Nil(t, Percent(models.F(1), nil))
	assert.Nil(t, Percent(models.F(1), models.F(0)))
	assert.InDelta(t, -50.0, *Percent(models.F(1), models.F(2)), 1e-9)
}
