package usecase

import (
	"context"
	"fmt"
	"time"

	"SessionScan/internal/domain/models"
	"SessionScan/internal/domain/repository"
	"SessionScan/pkg/logger"
	"SessionScan/pkg/util"
)

// RunLog is the operator-facing log. Every entry is also written to the process log.
type RunLog struct {
	store repository.LogStore
	l     *logger.Logger
	now   func() time.Time
}

// NewRunLog creates a run log over store.
func NewRunLog(store repository.LogStore, l *logger.Logger) *RunLog {
	if l == nil {
		l = logger.Nop()
	}
	return &RunLog{store: store, l: l, now: time.Now}
}

func (r *RunLog) Info(ctx context.Context, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.l.Info(msg)
	r.append(ctx, msg)
}

func (r *RunLog) Warn(ctx context.Context, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.l.Warn(msg)
	r.append(ctx, msg)
}

func (r *RunLog) Error(ctx context.Context, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.l.Error(msg)
	r.append(ctx, msg)
}

func (r *RunLog) append(ctx context.Context, msg string) {
	if err := r.store.AppendLog(ctx, models.LogEntry{Timestamp: r.now(), Message: msg}); err != nil {
		r.l.Warn("run log append failed", logger.Error(err))
	}
}

// FormatLogLine renders e as "YYYY-MM-DD HH:MM:SS - message" in loc.
func FormatLogLine(e models.LogEntry, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return util.FormatLogLine(e.Timestamp, loc, e.Message)
}
