package models

// SessionDayMetrics is the per-trading-date output of the session classifier.
type SessionDayMetrics struct {
	Date Date `json:"date"`

	// Daily bar fields.
	Open   *float64 `json:"open,omitempty"`
	High   *float64 `json:"high,omitempty"`
	Close  *float64 `json:"close,omitempty"`
	Volume *float64 `json:"volume,omitempty"`

	// PreviousClose is the close of the nearest earlier trading date with a close.
	PreviousClose *float64 `json:"previousClose,omitempty"`

	PreMarketHigh  *float64 `json:"preMarketHigh,omitempty"`
	IntradayHigh   *float64 `json:"intradayHigh,omitempty"`
	PostMarketHigh *float64 `json:"postMarketHigh,omitempty"`

	PreMarketPercentDiff  *float64 `json:"preMarketPercentDiff,omitempty"`
	PostMarketPercentDiff *float64 `json:"postMarketPercentDiff,omitempty"`
	PreMarketOpenPercent  *float64 `json:"preMarketOpenPercent,omitempty"`

	PreMarketActive    bool `json:"preMarketActive"`
	PostMarketActive   bool `json:"postMarketActive"`
	IsInferredActivity bool `json:"isInferredActivity"`
}

// SplitNone is reported when no split falls inside the lookback window.
const SplitNone = "None"

// Classification is everything the classifier derives for one symbol.
type Classification struct {
	Days  []SessionDayMetrics
	Split string
}
