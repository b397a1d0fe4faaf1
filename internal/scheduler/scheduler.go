// Package scheduler provides the "invoke the step function again later"
// capability and the cron watchdog that re-triggers stalled runs.
package scheduler

import (
	"context"
	"time"

	"SessionScan/internal/domain/repository"
)

// StepFunc is one orchestrator step invocation.
type StepFunc func(ctx context.Context) error

// Scheduler is a repository.Scheduler with a lifecycle.
type Scheduler interface {
	repository.Scheduler
	// Bind sets the function invoked when a requested invocation fires.
	Bind(fn StepFunc)
	Start() error
	Close(ctx context.Context) error
}

// DefaultStepTimeout bounds one invocation fired by a scheduler.
const DefaultStepTimeout = 30 * time.Minute
