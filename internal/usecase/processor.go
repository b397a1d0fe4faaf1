package usecase

import (
	"context"
	"fmt"
	"time"

	"SessionScan/internal/domain/models"
	"SessionScan/internal/service/session"
	"SessionScan/internal/service/stats"
)

// LookbackDays is the span of history fetched before the cutoff.
const LookbackDays = 365

// SeriesFetcher is the cached market-data access the processor needs.
type SeriesFetcher interface {
	Daily(ctx context.Context, symbol string, start, end time.Time) (*models.Series, error)
	Intraday(ctx context.Context, symbol string, start, end time.Time) (*models.Series, error)
	OptionsStatus(ctx context.Context, symbol string) string
}

// ItemProcessor turns one symbol into one SymbolResult per requested mode.
type ItemProcessor struct {
	fetcher    SeriesFetcher
	classifier *session.Classifier
	agg        *stats.Aggregator
	thresholds map[models.Mode]float64
}

// NewItemProcessor wires the fetch, classify and aggregate stages.
func NewItemProcessor(f SeriesFetcher, c *session.Classifier, a *stats.Aggregator, thresholds map[models.Mode]float64) *ItemProcessor {
	return &ItemProcessor{fetcher: f, classifier: c, agg: a, thresholds: thresholds}
}

// Process fetches and analyses symbol for every mode in modes. Any fetch
// failure aborts the whole symbol.
func (p *ItemProcessor) Process(ctx context.Context, symbol string, modes models.ModeSet, cutoff time.Time) ([]models.SymbolResult, error) {
	if len(modes) == 0 {
		return nil, fmt.Errorf("%s: no analysis modes", symbol)
	}
	start := cutoff.AddDate(0, 0, -LookbackDays)

	daily, err := p.fetcher.Daily(ctx, symbol, start, cutoff)
	if err != nil {
		return nil, err
	}
	var intraday *models.Series
	if modes.NeedsIntraday() {
		if intraday, err = p.fetcher.Intraday(ctx, symbol, start, cutoff); err != nil {
			return nil, err
		}
	}

	loc := p.classifier.Location()
	cutoffDate := models.DateOf(cutoff.In(loc))
	days := p.classifier.Classify(daily, intraday)
	split := p.classifier.SplitInfo(daily, start)
	avgVol := p.agg.AvgVolume30(daily, cutoffDate)

	out := make([]models.SymbolResult, 0, len(modes))
	for _, m := range modes {
		threshold := p.thresholds[m]
		r := models.SymbolResult{Symbol: symbol, AvgVolume30: avgVol, Split: split}
		switch m {
		case models.ModePreMarket:
			r.Summary = p.agg.PreMarket(days, cutoffDate, threshold)
		case models.ModePostMarket:
			r.Summary = p.agg.PostMarket(days, cutoffDate, threshold)
		case models.ModeOpeningPrice:
			r.Summary = p.agg.OpeningPrice(daily, cutoffDate, threshold)
			r.Options = p.fetcher.OptionsStatus(ctx, symbol)
		}
		out = append(out, r)
	}
	return out, nil
}
