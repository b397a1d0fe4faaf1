// Package stats reduces session metrics into rolling-window threshold counters.
package stats

import (
	"math"
	"time"

	"SessionScan/internal/domain/models"
	"SessionScan/internal/service/session"
)

// DefaultQuietOpenPercent bounds the pre-market open for the quiet-open special case.
const DefaultQuietOpenPercent = 0.5

// Config tunes the variant behaviours.
type Config struct {
	QuietOpenPercent float64
	NextDayRecovery  bool
}

// Aggregator computes WindowSummary values. It is pure: equal inputs give equal outputs.
type Aggregator struct {
	cfg Config
	loc *time.Location
}

// New creates an aggregator keyed on dates in loc.
func New(cfg Config, loc *time.Location) *Aggregator {
	if cfg.QuietOpenPercent == 0 {
		cfg.QuietOpenPercent = DefaultQuietOpenPercent
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{cfg: cfg, loc: loc}
}

// NextDayRecovery reports whether the opening-price next-day counter is enabled.
func (a *Aggregator) NextDayRecovery() bool { return a.cfg.NextDayRecovery }

// PreMarket counts pre-market moves against the previous close.
func (a *Aggregator) PreMarket(days []models.SessionDayMetrics, cutoff models.Date, threshold float64) models.WindowSummary {
	sum := models.NewWindowSummary(models.ModePreMarket, threshold)
	for _, d := range days {
		ws := models.WindowsFor(d.Date.DaysUntil(cutoff))
		if len(ws) == 0 || d.Close == nil || d.PreviousClose == nil {
			continue
		}
		ref := *d.PreviousClose

		var inc models.Counters
		inc.TotalTradingDays = 1
		if d.PreMarketActive {
			inc.ActiveDays = 1
			if d.IsInferredActivity {
				inc.InferredActiveDays = 1
			}
		}

		rescued := false
		if d.PreMarketHigh != nil && ref > 0 && d.IntradayHigh != nil && *session.Percent(d.PreMarketHigh, &ref) < threshold {
			switch {
			case *d.IntradayHigh <= ref:
				inc.WeakDay = 1
			case *session.Percent(d.IntradayHigh, &ref) >= threshold:
				inc.IntradayOverThreshold = 1
				inc.TotalOverThreshold++
				rescued = true
			default:
				inc.IntradayRecovery = 1
			}
		}

		if pct := d.PreMarketPercentDiff; pct != nil {
			if *pct >= threshold {
				inc.OverThreshold = 1
				inc.TotalOverThreshold++
				if d.PreMarketOpenPercent != nil && *d.PreMarketOpenPercent < a.cfg.QuietOpenPercent {
					inc.SpecialCase = 1
				}
			} else if !rescued {
				inc.UnderThreshold = 1
			}
		}

		sum.Update(ws, func(c *models.Counters) { add(c, inc) })
	}
	return sum
}

// PostMarket counts first-hour post-market moves against the same day's close.
func (a *Aggregator) PostMarket(days []models.SessionDayMetrics, cutoff models.Date, threshold float64) models.WindowSummary {
	sum := models.NewWindowSummary(models.ModePostMarket, threshold)
	for _, d := range days {
		ws := models.WindowsFor(d.Date.DaysUntil(cutoff))
		if len(ws) == 0 || d.Close == nil {
			continue
		}

		var inc models.Counters
		inc.TotalTradingDays = 1
		if d.PostMarketActive {
			inc.ActiveDays = 1
		}
		if pct := d.PostMarketPercentDiff; pct != nil {
			if *pct >= threshold {
				inc.OverThreshold = 1
			} else {
				inc.UnderThreshold = 1
			}
		}
		sum.Update(ws, func(c *models.Counters) { add(c, inc) })
	}
	return sum
}

// OpeningPrice compares each day's open and high with the previous daily close.
func (a *Aggregator) OpeningPrice(daily *models.Series, cutoff models.Date, threshold float64) models.WindowSummary {
	sum := models.NewWindowSummary(models.ModeOpeningPrice, threshold)
	if daily == nil {
		return sum
	}
	bars := daily.Bars
	for i := 1; i < len(bars); i++ {
		open, high, prev := bars[i].Open, bars[i].High, bars[i-1].Close
		if open == nil || high == nil || prev == nil || *prev == 0 {
			continue
		}
		date := models.DateOf(bars[i].Timestamp.In(a.loc))
		ws := models.WindowsFor(date.DaysUntil(cutoff))
		if len(ws) == 0 {
			continue
		}

		var inc models.Counters
		inc.TotalTradingDays = 1
		switch {
		case *session.Percent(open, prev) >= threshold:
			inc.Count = 1
		case *session.Percent(high, prev) >= threshold:
			inc.IntradayRecoveryCount = 1
		case a.cfg.NextDayRecovery && i+1 < len(bars):
			if next := session.Percent(bars[i+1].High, prev); next != nil && *next >= threshold {
				inc.NextDayRecoveryCount = 1
			}
		}
		sum.Update(ws, func(c *models.Counters) { add(c, inc) })
	}
	return sum
}

// AvgVolume30 is the rounded mean of daily volumes dated inside the 30-day window.
func (a *Aggregator) AvgVolume30(daily *models.Series, cutoff models.Date) int64 {
	if daily == nil {
		return 0
	}
	var (
		total float64
		n     int
	)
	for _, b := range daily.Bars {
		if b.Volume == nil {
			continue
		}
		back := models.DateOf(b.Timestamp.In(a.loc)).DaysUntil(cutoff)
		if back < 0 || back > models.Window30.Days() {
			continue
		}
		total += *b.Volume
		n++
	}
	if n == 0 {
		return 0
	}
	return int64(math.Round(total / float64(n)))
}

func add(c *models.Counters, inc models.Counters) {
	c.TotalOverThreshold += inc.TotalOverThreshold
	c.OverThreshold += inc.OverThreshold
	c.IntradayOverThreshold += inc.IntradayOverThreshold
	c.UnderThreshold += inc.UnderThreshold
	c.SpecialCase += inc.SpecialCase
	c.IntradayRecovery += inc.IntradayRecovery
	c.WeakDay += inc.WeakDay
	c.ActiveDays += inc.ActiveDays
	c.InferredActiveDays += inc.InferredActiveDays
	c.Count += inc.Count
	c.IntradayRecoveryCount += inc.IntradayRecoveryCount
	c.NextDayRecoveryCount += inc.NextDayRecoveryCount
	c.TotalTradingDays += inc.TotalTradingDays
}
