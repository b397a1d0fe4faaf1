package stats

import (
	"fmt"
	"strconv"

	"SessionScan/internal/domain/models"
)

// SkipSuffix marks a symbol whose processing failed.
const SkipSuffix = " - SKIPPED DUE TO ERROR"

type column struct {
	label string
	value func(c models.Counters) int
}

func columns(mode models.Mode, threshold float64, nextDay bool) []column {
	t := strconv.FormatFloat(threshold, 'f', -1, 64)
	switch mode {
	case models.ModePreMarket:
		return []column{
			{"Total >= +" + t + "%", func(c models.Counters) int { return c.TotalOverThreshold }},
			{"PM >= +" + t + "%", func(c models.Counters) int { return c.OverThreshold }},
			{"Intraday >= +" + t + "%", func(c models.Counters) int { return c.IntradayOverThreshold }},
			{"Below " + t + "%", func(c models.Counters) int { return c.UnderThreshold }},
			{"PM Quiet Open >= +" + t + "%", func(c models.Counters) int { return c.SpecialCase }},
			{"Intraday Recovery", func(c models.Counters) int { return c.IntradayRecovery }},
			{"Weak Day", func(c models.Counters) int { return c.WeakDay }},
			{"PM Active Days", func(c models.Counters) int { return c.ActiveDays }},
			{"PM Inferred Active Days", func(c models.Counters) int { return c.InferredActiveDays }},
			{"Trading Days", func(c models.Counters) int { return c.TotalTradingDays }},
		}
	case models.ModePostMarket:
		return []column{
			{"Post >= +" + t + "%", func(c models.Counters) int { return c.OverThreshold }},
			{"Below " + t + "%", func(c models.Counters) int { return c.UnderThreshold }},
			{"Post Active Days", func(c models.Counters) int { return c.ActiveDays }},
			{"Trading Days", func(c models.Counters) int { return c.TotalTradingDays }},
		}
	case models.ModeOpeningPrice:
		cols := []column{
			{"Total", func(c models.Counters) int { return c.Count + c.IntradayRecoveryCount }},
			{"Open >= +" + t + "%", func(c models.Counters) int { return c.Count }},
			{"Intraday Recovery", func(c models.Counters) int { return c.IntradayRecoveryCount }},
		}
		if nextDay {
			cols = append(cols, column{"Next Day Recovery", func(c models.Counters) int { return c.NextDayRecoveryCount }})
		}
		return append(cols, column{"Trading Days", func(c models.Counters) int { return c.TotalTradingDays }})
	}
	return nil
}

// Header returns the destination header row for a mode.
func Header(mode models.Mode, threshold float64, nextDay bool) []string {
	cols := columns(mode, threshold, nextDay)
	header := make([]string, 0, 1+len(models.Windows)*len(cols)+3)
	header = append(header, "Symbol")
	for _, w := range models.Windows {
		for _, c := range cols {
			header = append(header, fmt.Sprintf("%s (%dd)", c.label, w.Days()))
		}
	}
	header = append(header, "Avg Volume (30d)", "Split")
	if mode == models.ModeOpeningPrice {
		header = append(header, "Options")
	}
	return header
}

// Row lays out one symbol result in header order.
func Row(r models.SymbolResult, nextDay bool) models.Row {
	mode := r.Summary.Mode
	cols := columns(mode, r.Summary.Threshold, nextDay)
	row := make(models.Row, 0, 1+len(models.Windows)*len(cols)+3)
	row = append(row, r.Symbol)
	for _, w := range models.Windows {
		counters := r.Summary.Windows[w]
		for _, c := range cols {
			row = append(row, c.value(counters))
		}
	}
	row = append(row, r.AvgVolume30, r.Split)
	if mode == models.ModeOpeningPrice {
		row = append(row, r.Options)
	}
	return row
}

// SkipRow is the single-cell placeholder written for a failed symbol.
func SkipRow(symbol string) models.Row {
	return models.Row{symbol + SkipSuffix}
}
