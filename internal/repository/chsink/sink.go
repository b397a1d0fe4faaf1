// Package chsink writes result rows to a ClickHouse table, one logical
// destination per analysis mode.
package chsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"SessionScan/internal/domain/models"
	applogger "SessionScan/pkg/logger"
)

// DefaultTable receives every destination's rows.
const DefaultTable = "session_rows"

// Schema returns the DDL for table.
func Schema(table string) []string {
	return []string{
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            destination String,
            seq UInt64,
            is_header UInt8,
            symbol String,
            cells String,
            written_at DateTime64(3)
        ) ENGINE = MergeTree
        ORDER BY (destination, seq)`, table),
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Sink implements repository.ResultSink on ClickHouse.
type Sink struct {
	db    execer
	table string
	l     *applogger.Logger
	now   func() time.Time

	mu  sync.Mutex
	seq map[string]uint64
}

// New creates a sink over db writing into table.
func New(db *sql.DB, table string, l *applogger.Logger) *Sink {
	return newSink(db, table, l)
}

func newSink(db execer, table string, l *applogger.Logger) *Sink {
	if table == "" {
		table = DefaultTable
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Sink{db: db, table: table, l: l, now: time.Now, seq: make(map[string]uint64)}
}

// Initialize drops destination's rows and writes header and first.
func (s *Sink) Initialize(ctx context.Context, destination string, header []string, first models.Row) error {
	q := fmt.Sprintf("ALTER TABLE %s DELETE WHERE destination = ?", s.table)
	if _, err := s.db.ExecContext(ctx, q, destination); err != nil {
		return fmt.Errorf("clear %s: %w", destination, err)
	}

	s.mu.Lock()
	s.seq[destination] = 0
	s.mu.Unlock()

	headerRow := make(models.Row, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := s.insert(ctx, destination, []models.Row{headerRow}, true); err != nil {
		return err
	}
	return s.insert(ctx, destination, []models.Row{first}, false)
}

// Append inserts rows after the existing ones.
func (s *Sink) Append(ctx context.Context, destination string, rows []models.Row) error {
	return s.insert(ctx, destination, rows, false)
}

func (s *Sink) insert(ctx context.Context, destination string, rows []models.Row, header bool) error {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()

	s.mu.Lock()
	seq := s.seq[destination]
	s.seq[destination] = seq + uint64(len(rows))
	s.mu.Unlock()

	isHeader := uint8(0)
	if header {
		isHeader = 1
	}
	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*6)
	for i, r := range rows {
		cells, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args, destination, seq+uint64(i), isHeader, symbolOf(r), string(cells), s.now())
	}
	q := fmt.Sprintf("INSERT INTO %s (destination, seq, is_header, symbol, cells, written_at) VALUES %s",
		s.table, strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.l.Error("clickhouse insert error",
			applogger.String("table", s.table),
			applogger.String("destination", destination),
			applogger.Int("rows", len(rows)),
			applogger.Error(err),
		)
		return fmt.Errorf("insert %s: %w", destination, err)
	}
	s.l.Debug("clickhouse insert ok",
		applogger.String("destination", destination),
		applogger.Int("rows", len(rows)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

func symbolOf(r models.Row) string {
	if len(r) == 0 {
		return ""
	}
	s, _ := r[0].(string)
	return s
}
