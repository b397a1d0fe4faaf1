// Package yahoo implements the market-data provider over the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"SessionScan/internal/domain/models"
	"SessionScan/internal/service/ratelimit"
	xhttp "SessionScan/pkg/http"
	"SessionScan/pkg/logger"
)

const limiterKey = "yahoo"

// Config holds provider endpoints, retry policy and throttle.
type Config struct {
	ChartURL     string
	OptionsURL   string
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RetryInitial time.Duration
	RateCapacity float64
	RateRefill   float64
}

// Client fetches series and checks option chains.
type Client struct {
	cfg     Config
	http    *xhttp.Client
	limiter *ratelimit.Limiter
	log     *logger.Logger
}

// New creates a Yahoo client.
func New(cfg Config, limiter *ratelimit.Limiter, l *logger.Logger) *Client {
	if limiter == nil {
		limiter = ratelimit.New()
	}
	if l == nil {
		l = logger.Nop()
	}
	opts := []xhttp.ClientOption{xhttp.WithTimeout(cfg.Timeout)}
	if cfg.UserAgent != "" {
		opts = append(opts, xhttp.WithHeader("User-Agent", cfg.UserAgent))
	}
	return &Client{
		cfg:     cfg,
		http:    xhttp.NewClient(opts...),
		limiter: limiter,
		log:     l.With("component", "yahoo"),
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp []int64 `json:"timestamp"`
	Events    struct {
		Splits map[string]struct {
			Date       int64  `json:"date"`
			SplitRatio string `json:"splitRatio"`
		} `json:"splits"`
	} `json:"events"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// FetchSeries downloads one chart. Failures are returned as *models.FetchError.
func (c *Client) FetchSeries(ctx context.Context, req models.SeriesRequest) (*models.Series, error) {
	query := map[string][]string{
		"period1":  {strconv.FormatInt(req.Start, 10)},
		"period2":  {strconv.FormatInt(req.End, 10)},
		"interval": {req.Interval},
	}
	if req.PrePost {
		query["includePrePost"] = []string{"true"}
	}
	if req.Splits {
		query["events"] = []string{"splits"}
	}

	var resp chartResponse
	endpoint := c.cfg.ChartURL + "/" + url.PathEscape(req.Symbol)
	if err := c.getWithRetry(ctx, endpoint, query, &resp); err != nil {
		return nil, toFetchError(req, err)
	}

	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Timestamp) == 0 {
		return nil, &models.FetchError{Symbol: req.Symbol, Interval: req.Interval, Reason: models.ReasonEmptyPayload}
	}
	return toSeries(req, resp.Chart.Result[0]), nil
}

type optionsResponse struct {
	OptionChain struct {
		Result []struct {
			ExpirationDates []int64 `json:"expirationDates"`
		} `json:"result"`
	} `json:"optionChain"`
}

// HasOptions reports whether the symbol has listed option expirations.
func (c *Client) HasOptions(ctx context.Context, symbol string) (bool, error) {
	var resp optionsResponse
	endpoint := c.cfg.OptionsURL + "/" + url.PathEscape(symbol)
	if err := c.getWithRetry(ctx, endpoint, nil, &resp); err != nil {
		return false, fmt.Errorf("options check %s: %w", symbol, err)
	}
	for _, r := range resp.OptionChain.Result {
		if len(r.ExpirationDates) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) getWithRetry(ctx context.Context, endpoint string, query map[string][]string, dest interface{}) error {
	bo := backoff.NewExponentialBackOff()
	if c.cfg.RetryInitial > 0 {
		bo.InitialInterval = c.cfg.RetryInitial
	}
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(c.cfg.MaxRetries, 0))), ctx)

	op := func() error {
		if c.cfg.RateCapacity > 0 {
			if err := c.limiter.Wait(ctx, limiterKey, c.cfg.RateCapacity, c.cfg.RateRefill); err != nil {
				return backoff.Permanent(err)
			}
		}
		err := c.http.GetJSON(ctx, endpoint, query, dest)
		if err == nil {
			return nil
		}
		var se *xhttp.StatusError
		if errors.As(err, &se) && !retryableStatus(se.StatusCode) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("provider request failed, retrying",
			logger.String("url", endpoint),
			logger.Duration("wait_ms", wait),
			logger.Error(err),
		)
	}
	return backoff.RetryNotify(op, policy, notify)
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

func toFetchError(req models.SeriesRequest, err error) *models.FetchError {
	fe := &models.FetchError{Symbol: req.Symbol, Interval: req.Interval, Reason: models.ReasonTransport, Err: err}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		fe.Reason = models.ReasonNonSuccessStatus
		fe.Status = se.StatusCode
	}
	return fe
}

func toSeries(req models.SeriesRequest, r chartResult) *models.Series {
	s := &models.Series{
		Symbol:   req.Symbol,
		Interval: req.Interval,
		Bars:     make([]models.Bar, len(r.Timestamp)),
	}
	var q struct {
		Open, High, Low, Close, Volume []*float64
	}
	if len(r.Indicators.Quote) > 0 {
		qq := r.Indicators.Quote[0]
		q.Open, q.High, q.Low, q.Close, q.Volume = qq.Open, qq.High, qq.Low, qq.Close, qq.Volume
	}
	for i, ts := range r.Timestamp {
		s.Bars[i] = models.Bar{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      at(q.Open, i),
			High:      at(q.High, i),
			Low:       at(q.Low, i),
			Close:     at(q.Close, i),
			Volume:    at(q.Volume, i),
		}
	}
	for _, sp := range r.Events.Splits {
		s.Splits = append(s.Splits, models.Split{Date: time.Unix(sp.Date, 0).UTC(), Ratio: sp.SplitRatio})
	}
	sort.Slice(s.Splits, func(i, j int) bool { return s.Splits[i].Date.Before(s.Splits[j].Date) })
	return s
}

func at(vals []*float64, i int) *float64 {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}
