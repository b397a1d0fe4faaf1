// Package sqlitestore keeps the run queue, run state and run log in SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"SessionScan/internal/domain/models"
	"SessionScan/pkg/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS queue_items (
		symbol   TEXT PRIMARY KEY,
		modes    TEXT NOT NULL,
		status   TEXT NOT NULL DEFAULT 'pending',
		position INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_items_status ON queue_items (status, position)`,
	`CREATE TABLE IF NOT EXISTS run_state (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		run_id      TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		modes       TEXT NOT NULL DEFAULT '',
		end_date    TEXT NOT NULL DEFAULT '',
		started_at  INTEGER NOT NULL DEFAULT 0,
		initialized TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS run_log (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		ts        INTEGER NOT NULL,
		message   TEXT NOT NULL
	)`,
}

// Store implements repository.Store on a SQLite database.
type Store struct {
	db       *sql.DB
	mu       sync.Mutex
	logLimit int
}

// Open opens (and migrates) the database at path.
func Open(ctx context.Context, path string, logLimit int) (*Store, error) {
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db, logLimit)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and applies the schema.
func New(ctx context.Context, db *sql.DB, logLimit int) (*Store, error) {
	if err := sqlite.Migrate(ctx, db, schema...); err != nil {
		return nil, err
	}
	if logLimit <= 0 {
		logLimit = 200
	}
	return &Store{db: db, logLimit: logLimit}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Enqueue(ctx context.Context, symbol string, modes models.ModeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT modes FROM queue_items WHERE symbol = ?`, symbol).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO queue_items (symbol, modes, status, position)
			 VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM queue_items))`,
			symbol, modes.String(), string(models.ItemPending))
	case err == nil:
		var existing models.ModeSet
		existing, err = models.ParseModeSet(raw)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE queue_items SET modes = ? WHERE symbol = ?`,
			existing.Union(modes).String(), symbol)
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", symbol, err)
	}
	return tx.Commit()
}

func (s *Store) ClaimBatch(ctx context.Context, max int) ([]models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, modes, status, position FROM queue_items
		 WHERE status = ? ORDER BY position LIMIT ?`, string(models.ItemPending), max)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		var (
			it     models.QueueItem
			modes  string
			status string
		)
		if err := rows.Scan(&it.Symbol, &modes, &status, &it.Position); err != nil {
			return nil, err
		}
		if it.Modes, err = models.ParseModeSet(modes); err != nil {
			return nil, err
		}
		it.Status = models.ItemStatus(status)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) MarkCompleted(ctx context.Context, runID, symbol string) error {
	return s.setItemStatus(ctx, runID, symbol, models.ItemCompleted)
}

func (s *Store) MarkError(ctx context.Context, runID, symbol string) error {
	return s.setItemStatus(ctx, runID, symbol, models.ItemError)
}

// setItemStatus updates the item only while runID owns the run_state row.
func (s *Store) setItemStatus(ctx context.Context, runID, symbol string, status models.ItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadRunState(ctx)
	if err != nil {
		return err
	}
	if st.RunID != runID {
		return models.ErrRunSuperseded
	}
	_, err = s.db.ExecContext(ctx, `UPDATE queue_items SET status = ? WHERE symbol = ?`, string(status), symbol)
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", symbol, status, err)
	}
	return nil
}

func (s *Store) CountByStatus(ctx context.Context) (models.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return models.Progress{}, fmt.Errorf("count queue: %w", err)
	}
	defer rows.Close()

	var p models.Progress
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return models.Progress{}, err
		}
		switch models.ItemStatus(status) {
		case models.ItemPending:
			p.Pending = n
		case models.ItemCompleted:
			p.Completed = n
		case models.ItemError:
			p.Error = n
		}
	}
	return p, rows.Err()
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_items`)
	return err
}

func (s *Store) LoadRunState(ctx context.Context) (models.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadRunState(ctx)
}

func (s *Store) loadRunState(ctx context.Context) (models.RunState, error) {
	var (
		st          models.RunState
		status      string
		modes       string
		endDate     string
		startedAt   int64
		initialized string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, status, modes, end_date, started_at, initialized FROM run_state WHERE id = 1`).
		Scan(&st.RunID, &status, &modes, &endDate, &startedAt, &initialized)
	if errors.Is(err, sql.ErrNoRows) {
		return models.IdleRunState(), nil
	}
	if err != nil {
		return models.RunState{}, fmt.Errorf("load run state: %w", err)
	}

	st.Status = models.RunStatus(status)
	if st.Modes, err = models.ParseModeSet(modes); err != nil {
		return models.RunState{}, err
	}
	if endDate != "" {
		if st.EndDate, err = models.ParseDate(endDate); err != nil {
			return models.RunState{}, err
		}
	}
	if startedAt > 0 {
		st.StartedAt = time.Unix(0, startedAt).UTC()
	}
	st.Initialized = map[models.Mode]bool{}
	if err := json.Unmarshal([]byte(initialized), &st.Initialized); err != nil {
		return models.RunState{}, fmt.Errorf("decode cutover flags: %w", err)
	}
	if st.Initialized == nil {
		st.Initialized = map[models.Mode]bool{}
	}
	return st, nil
}

func (s *Store) SaveRunState(ctx context.Context, st models.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveRunState(ctx, st)
}

func (s *Store) saveRunState(ctx context.Context, st models.RunState) error {
	if st.Initialized == nil {
		st.Initialized = map[models.Mode]bool{}
	}
	flags, err := json.Marshal(st.Initialized)
	if err != nil {
		return err
	}
	var startedAt int64
	if !st.StartedAt.IsZero() {
		startedAt = st.StartedAt.UnixNano()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_state (id, run_id, status, modes, end_date, started_at, initialized)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			modes = excluded.modes,
			end_date = excluded.end_date,
			started_at = excluded.started_at,
			initialized = excluded.initialized`,
		st.RunID, string(st.Status), st.Modes.String(), st.EndDate.String(), startedAt, string(flags))
	if err != nil {
		return fmt.Errorf("save run state: %w", err)
	}
	return nil
}

func (s *Store) SetRunStatus(ctx context.Context, status models.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadRunState(ctx)
	if err != nil {
		return err
	}
	st.Status = status
	return s.saveRunState(ctx, st)
}

func (s *Store) MarkInitialized(ctx context.Context, runID string, mode models.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadRunState(ctx)
	if err != nil {
		return err
	}
	if st.RunID != runID {
		return models.ErrRunSuperseded
	}
	st.Initialized[mode] = true
	return s.saveRunState(ctx, st)
}

func (s *Store) ClearRunState(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_state`)
	return err
}

func (s *Store) AppendLog(ctx context.Context, entry models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `INSERT INTO run_log (ts, message) VALUES (?, ?)`,
		entry.Timestamp.UnixNano(), entry.Message)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_log WHERE id <= ?`, id-int64(s.logLimit)); err != nil {
		return fmt.Errorf("trim log: %w", err)
	}
	return tx.Commit()
}

func (s *Store) RecentLogs(ctx context.Context, limit int) ([]models.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > s.logLimit {
		limit = s.logLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT ts, message FROM run_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	defer rows.Close()

	var out []models.LogEntry
	for rows.Next() {
		var (
			ts  int64
			msg string
		)
		if err := rows.Scan(&ts, &msg); err != nil {
			return nil, err
		}
		out = append(out, models.LogEntry{Timestamp: time.Unix(0, ts).UTC(), Message: msg})
	}
	return out, rows.Err()
}
