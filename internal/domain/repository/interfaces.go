package repository

import (
	"context"
	"time"

	"SessionScan/internal/domain/models"
)

// SeriesProvider fetches raw market data.
type SeriesProvider interface {
	FetchSeries(ctx context.Context, req models.SeriesRequest) (*models.Series, error)
	HasOptions(ctx context.Context, symbol string) (bool, error)
}

// QueueStore tracks the symbols of the current run.
type QueueStore interface {
	// Enqueue adds symbol or merges modes into an existing item.
	Enqueue(ctx context.Context, symbol string, modes models.ModeSet) error
	// ClaimBatch returns up to max pending items in queue order without changing them.
	ClaimBatch(ctx context.Context, max int) ([]models.QueueItem, error)
	// MarkCompleted and MarkError fail with models.ErrRunSuperseded unless
	// runID is the current run.
	MarkCompleted(ctx context.Context, runID, symbol string) error
	MarkError(ctx context.Context, runID, symbol string) error
	CountByStatus(ctx context.Context) (models.Progress, error)
	Reset(ctx context.Context) error
}

// RunStateStore persists the run singleton.
type RunStateStore interface {
	LoadRunState(ctx context.Context) (models.RunState, error)
	SaveRunState(ctx context.Context, st models.RunState) error
	SetRunStatus(ctx context.Context, status models.RunStatus) error
	// MarkInitialized fails with models.ErrRunSuperseded unless runID is the current run.
	MarkInitialized(ctx context.Context, runID string, mode models.Mode) error
	ClearRunState(ctx context.Context) error
}

// LogStore is the bounded run log.
type LogStore interface {
	AppendLog(ctx context.Context, entry models.LogEntry) error
	RecentLogs(ctx context.Context, limit int) ([]models.LogEntry, error)
}

// Store groups durable run state behind one serialized backend.
type Store interface {
	QueueStore
	RunStateStore
	LogStore
	Close() error
}

// SymbolSource reads symbols from a named range.
type SymbolSource interface {
	ReadSymbols(ctx context.Context, rng string) ([]string, error)
}

// ResultSink writes rows to tabular destinations.
type ResultSink interface {
	// Initialize clears destination and writes header followed by first.
	Initialize(ctx context.Context, destination string, header []string, first models.Row) error
	Append(ctx context.Context, destination string, rows []models.Row) error
}

// Scheduler requests future invocations of the step function.
type Scheduler interface {
	RequestInvocation(ctx context.Context, delay time.Duration) error
	// Cancel drops invocations that have not started yet.
	Cancel(ctx context.Context) error
}

// EventPublisher emits run lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.RunEvent) error
	Close() error
}

// Metrics records operational metrics.
type Metrics interface {
	RecordItem(status models.ItemStatus)
	RecordCache(result string)
	RecordFetch(interval string, err error, seconds float64)
	RecordSinkWrite(mode models.Mode, err error)
	RecordStep(outcome string, seconds float64)
	RecordError(kind string)
	SetProgress(p models.Progress)
}
