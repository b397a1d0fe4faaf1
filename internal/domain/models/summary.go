package models

// Window is a trailing lookback period.
type Window string

const (
	Window30  Window = "d30"
	Window60  Window = "d60"
	Window90  Window = "d90"
	Window365 Window = "d365"
)

// Windows lists windows in destination column order.
var Windows = []Window{Window365, Window90, Window60, Window30}

// Days returns the window length in calendar days.
func (w Window) Days() int {
	switch w {
	case Window30:
		return 30
	case Window60:
		return 60
	case Window90:
		return 90
	case Window365:
		return 365
	}
	return 0
}

// WindowsFor returns the windows a date lying daysBack days before the cutoff belongs to.
func WindowsFor(daysBack int) []Window {
	if daysBack < 0 {
		return nil
	}
	var out []Window
	for _, w := range Windows {
		if daysBack <= w.Days() {
			out = append(out, w)
		}
	}
	return out
}

// Counters is the union of counters across modes. Each mode fills its own subset.
type Counters struct {
	// Pre-market.
	TotalOverThreshold    int `json:"totalOverThreshold"`
	OverThreshold         int `json:"overThreshold"`
	IntradayOverThreshold int `json:"intradayOverThreshold"`
	UnderThreshold        int `json:"underThreshold"`
	SpecialCase           int `json:"specialCase"`
	IntradayRecovery      int `json:"intradayRecovery"`
	WeakDay               int `json:"weakDay"`
	ActiveDays            int `json:"activeDays"`
	InferredActiveDays    int `json:"inferredActiveDays"`

	// Opening price.
	Count                 int `json:"count"`
	IntradayRecoveryCount int `json:"intradayRecoveryCount"`
	NextDayRecoveryCount  int `json:"nextDayRecoveryCount"`

	TotalTradingDays int `json:"totalTradingDays"`
}

// WindowSummary holds one counter set per window for one (symbol, mode) pair.
type WindowSummary struct {
	Mode      Mode                `json:"mode"`
	Threshold float64             `json:"threshold"`
	Windows   map[Window]Counters `json:"windows"`
}

// NewWindowSummary returns a summary with zeroed counters for every window.
func NewWindowSummary(mode Mode, threshold float64) WindowSummary {
	s := WindowSummary{Mode: mode, Threshold: threshold, Windows: make(map[Window]Counters, len(Windows))}
	for _, w := range Windows {
		s.Windows[w] = Counters{}
	}
	return s
}

// Update applies fn to the counters of each window in ws.
func (s *WindowSummary) Update(ws []Window, fn func(c *Counters)) {
	for _, w := range ws {
		c := s.Windows[w]
		fn(&c)
		s.Windows[w] = c
	}
}

// SymbolResult is what gets written to a destination for one (symbol, mode) pair.
type SymbolResult struct {
	Symbol      string        `json:"symbol"`
	Summary     WindowSummary `json:"summary"`
	AvgVolume30 int64         `json:"avgVolume30"`
	Split       string        `json:"split"`
	Options     string        `json:"options,omitempty"`
}

// Options check statuses.
const (
	OptionsAvailable    = "Available"
	OptionsNotAvailable = "Not available"
	OptionsUnknown      = "Unknown"
	OptionsDisabled     = "Check disabled"
)
