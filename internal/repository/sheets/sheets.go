// Package sheets reads symbol ranges from and writes result rows to a
// Google Sheets spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"SessionScan/internal/domain/models"
	applogger "SessionScan/pkg/logger"
)

// DefaultWriteDelay throttles consecutive writes to stay under the API quota.
const DefaultWriteDelay = 500 * time.Millisecond

// Config holds spreadsheet access settings.
type Config struct {
	SpreadsheetID   string
	CredentialsFile string
	CredentialsJSON string
	WriteDelay      time.Duration
}

// Client is both a symbol source and a result sink over one spreadsheet.
type Client struct {
	svc        *gsheets.Service
	id         string
	writeDelay time.Duration
	l          *applogger.Logger
}

// New builds a client from credentials in cfg. Extra options are appended
// after the credential option.
func New(ctx context.Context, cfg Config, l *applogger.Logger, opts ...option.ClientOption) (*Client, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	var base []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		base = append(base, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		base = append(base, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	svc, err := gsheets.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Client{svc: svc, id: cfg.SpreadsheetID, writeDelay: cfg.WriteDelay, l: l}, nil
}

// ReadSymbols returns the trimmed, non-empty first cell of each row of rng.
// Other columns, such as company names next to the tickers, are ignored.
func (c *Client) ReadSymbols(ctx context.Context, rng string) ([]string, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.id, rng).
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read range %s: %w", rng, err)
	}
	var out []string
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(row[0])); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// Initialize clears the destination sheet and writes header and first.
func (c *Client) Initialize(ctx context.Context, destination string, header []string, first models.Row) error {
	sheet := quoteSheet(destination)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.id, sheet, &gsheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", destination, err)
	}

	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	vr := &gsheets.ValueRange{
		MajorDimension: "ROWS",
		Values:         [][]interface{}{headerRow, first},
	}
	if _, err := c.svc.Spreadsheets.Values.Update(c.id, sheet+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("write header %s: %w", destination, err)
	}
	c.l.Debug("sheet initialized", applogger.String("destination", destination))
	c.throttle(ctx)
	return nil
}

// Append adds rows below the existing data.
func (c *Client) Append(ctx context.Context, destination string, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([][]interface{}, len(rows))
	for i, r := range rows {
		values[i] = r
	}
	vr := &gsheets.ValueRange{MajorDimension: "ROWS", Values: values}
	if _, err := c.svc.Spreadsheets.Values.Append(c.id, quoteSheet(destination)+"!A1", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("append %s: %w", destination, err)
	}
	c.throttle(ctx)
	return nil
}

// throttle waits out the write delay after a successful write. Cancellation
// cuts the wait short; the write itself already succeeded.
func (c *Client) throttle(ctx context.Context) {
	if c.writeDelay <= 0 {
		return
	}
	t := time.NewTimer(c.writeDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// quoteSheet wraps a sheet title in A1 quotes when it needs them.
func quoteSheet(name string) string {
	if strings.HasPrefix(name, "'") || !strings.ContainsAny(name, " !'-") {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
