package models

import "time"

// Interval names understood by the market-data provider.
const (
	IntervalDaily      = "1d"
	IntervalHourly     = "1h"
	IntervalFiveMinute = "5m"
)

// Bar is one OHLCV observation. Daily series carry one bar per trading date;
// intraday series carry one bar per interval. Providers report gaps as nulls,
// so every price is optional.
type Bar struct {
	Timestamp time.Time `json:"t"`
	Open      *float64  `json:"o,omitempty"`
	High      *float64  `json:"h,omitempty"`
	Low       *float64  `json:"l,omitempty"`
	Close     *float64  `json:"c,omitempty"`
	Volume    *float64  `json:"v,omitempty"`
}

// Split is a corporate split event.
type Split struct {
	Date  time.Time `json:"date"`
	Ratio string    `json:"ratio"`
}

// Series is a provider response for one (symbol, interval, range) request.
type Series struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	Bars     []Bar   `json:"bars"`
	Splits   []Split `json:"splits,omitempty"`
}

// SeriesRequest identifies a series and doubles as its cache identity.
type SeriesRequest struct {
	Symbol   string
	Interval string
	Start    int64
	End      int64
	// PrePost asks for extended-hours observations.
	PrePost bool
	// Splits asks for the corporate split stream.
	Splits bool
}

// F returns a pointer to v, for building bars.
func F(v float64) *float64 { return &v }
