// Package session splits intraday observations into pre-market, regular and
// post-market buckets and derives per-date session metrics.
package session

import (
	"fmt"
	"math"
	"sort"
	"time"

	"SessionScan/internal/domain/models"
)

// Bucket bounds as HHMM in exchange time, inclusive.
const (
	preMarketStart  = 400
	preMarketEnd    = 929
	regularStart    = 930
	regularEnd      = 1559
	postMarketStart = 1600
	postMarketEnd   = 1659
)

// DefaultGapTolerance is the open-vs-previous-close difference above which a
// date without pre-market samples counts as gap-active.
const DefaultGapTolerance = 0.001

// Classifier derives SessionDayMetrics in one exchange timezone.
type Classifier struct {
	loc          *time.Location
	gapTolerance float64
}

// New creates a classifier. A nil location means UTC.
func New(loc *time.Location, gapTolerance float64) *Classifier {
	if loc == nil {
		loc = time.UTC
	}
	if gapTolerance <= 0 {
		gapTolerance = DefaultGapTolerance
	}
	return &Classifier{loc: loc, gapTolerance: gapTolerance}
}

// Location returns the exchange timezone.
func (c *Classifier) Location() *time.Location { return c.loc }

type dailyFields struct {
	open, high, close, volume *float64
}

type daySamples struct {
	preHighs    []float64
	preOpens    []float64
	preActive   bool
	regHighs    []float64
	postHighs   []float64
	postActive  bool
	postVolume  float64
	postSamples int
}

// Classify builds one SessionDayMetrics per daily bar with a close, in date order.
// The intraday series may be nil, in which case only daily fields and gap
// inference are filled in.
func (c *Classifier) Classify(daily, intraday *models.Series) []models.SessionDayMetrics {
	if daily == nil {
		return nil
	}

	byDate := make(map[models.Date]dailyFields)
	for _, b := range daily.Bars {
		if b.Close == nil {
			continue
		}
		byDate[models.DateOf(b.Timestamp.In(c.loc))] = dailyFields{open: b.Open, high: b.High, close: b.Close, volume: b.Volume}
	}
	dates := make([]models.Date, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	samples := c.group(intraday)

	out := make([]models.SessionDayMetrics, 0, len(dates))
	var prevClose *float64
	for _, d := range dates {
		df := byDate[d]
		m := models.SessionDayMetrics{
			Date:          d,
			Open:          df.open,
			High:          df.high,
			Close:         df.close,
			Volume:        df.volume,
			PreviousClose: prevClose,
		}

		s := samples[d]
		if s == nil {
			s = &daySamples{}
		}
		m.PreMarketHigh = maxOf(s.preHighs)
		m.IntradayHigh = maxOf(s.regHighs)
		m.PostMarketHigh = maxOf(s.postHighs)
		m.PreMarketActive = s.preActive
		m.PostMarketActive = s.postSamples > 1 && (s.postVolume > 0 || s.postActive)

		m.PreMarketPercentDiff = percent(m.PreMarketHigh, prevClose)
		if len(s.preOpens) > 0 {
			m.PreMarketOpenPercent = percent(&s.preOpens[0], prevClose)
		}
		m.PostMarketPercentDiff = percent(m.PostMarketHigh, m.Close)

		if len(s.preHighs) == 0 && df.open != nil && prevClose != nil &&
			math.Abs(*df.open-*prevClose) > c.gapTolerance {
			open := *df.open
			m.PreMarketActive = true
			m.IsInferredActivity = true
			m.PreMarketHigh = &open
			m.PreMarketPercentDiff = percent(&open, prevClose)
			m.PreMarketOpenPercent = percent(&open, prevClose)
		}

		out = append(out, m)
		prevClose = df.close
	}
	return out
}

func (c *Classifier) group(intraday *models.Series) map[models.Date]*daySamples {
	out := make(map[models.Date]*daySamples)
	if intraday == nil {
		return out
	}
	for _, b := range intraday.Bars {
		if b.High == nil {
			continue
		}
		local := b.Timestamp.In(c.loc)
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		d := models.DateOf(local)
		s, ok := out[d]
		if !ok {
			s = &daySamples{}
			out[d] = s
		}

		high := *b.High
		moved := b.Low != nil && high > *b.Low
		hhmm := local.Hour()*100 + local.Minute()
		switch {
		case hhmm >= preMarketStart && hhmm <= preMarketEnd:
			s.preHighs = append(s.preHighs, high)
			if b.Open != nil {
				s.preOpens = append(s.preOpens, *b.Open)
			}
			if moved {
				s.preActive = true
			}
		case hhmm >= regularStart && hhmm <= regularEnd:
			s.regHighs = append(s.regHighs, high)
		case hhmm >= postMarketStart && hhmm <= postMarketEnd:
			s.postHighs = append(s.postHighs, high)
			s.postSamples++
			if moved {
				s.postActive = true
			}
			if b.Volume != nil {
				s.postVolume += *b.Volume
			}
		}
	}
	return out
}

// SplitInfo describes the most recent split on or after since, or models.SplitNone.
func (c *Classifier) SplitInfo(daily *models.Series, since time.Time) string {
	if daily == nil {
		return models.SplitNone
	}
	var latest *models.Split
	for i := range daily.Splits {
		sp := &daily.Splits[i]
		if sp.Date.Before(since) {
			continue
		}
		if latest == nil || sp.Date.After(latest.Date) {
			latest = sp
		}
	}
	if latest == nil {
		return models.SplitNone
	}
	return fmt.Sprintf("%s (%s)", latest.Ratio, latest.Date.In(c.loc).Format(models.DateLayout))
}

// Percent returns (value/ref - 1) * 100, or nil when an operand is missing or ref is zero.
func Percent(value, ref *float64) *float64 { return percent(value, ref) }

func percent(value, ref *float64) *float64 {
	if value == nil || ref == nil || *ref == 0 {
		return nil
	}
	v, r := *value, *ref
	p := (v/r - 1) * 100
	return &p
}

func maxOf(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return &m
}
