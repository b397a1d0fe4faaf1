package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SessionScan/pkg/logger"
	"SessionScan/pkg/queue"
)

const (
	stepJobType = "orchestrator.step"
	stepJobID   = "orchestrator-step"
)

type stepPayload struct {
	RequestedAt time.Time `json:"requestedAt"`
}

// Redis dispatches invocations through a shared Redis queue so that any
// process running the queue's workers can execute the next step.
type Redis struct {
	q *queue.RedisQueue
	l *logger.Logger

	mu   sync.RWMutex
	step StepFunc
}

// NewRedis registers the step job on q.
func NewRedis(q *queue.RedisQueue, l *logger.Logger) *Redis {
	if l == nil {
		l = logger.Nop()
	}
	r := &Redis{q: q, l: l.With("component", "scheduler")}
	q.RegisterJob(r)
	return r
}

// Bind implements Scheduler.
func (r *Redis) Bind(fn StepFunc) {
	r.mu.Lock()
	r.step = fn
	r.mu.Unlock()
}

// Start starts the queue workers.
func (r *Redis) Start() error { return r.q.Start() }

// Close stops the queue workers.
func (r *Redis) Close(ctx context.Context) error { return r.q.Stop(ctx) }

// RequestInvocation enqueues the step job unless one is already waiting.
func (r *Redis) RequestInvocation(ctx context.Context, delay time.Duration) error {
	added, err := r.q.EnqueueUnique(ctx, stepJobID, stepJobType, stepPayload{RequestedAt: time.Now().UTC()}, delay)
	if err != nil {
		return fmt.Errorf("request invocation: %w", err)
	}
	if !added {
		r.l.Debug("invocation already requested")
	}
	return nil
}

// Cancel drops the waiting step job.
func (r *Redis) Cancel(ctx context.Context) error {
	if _, err := r.q.Remove(ctx, stepJobID); err != nil {
		return fmt.Errorf("cancel invocation: %w", err)
	}
	return nil
}

// Name implements queue.Job.
func (r *Redis) Name() string { return "orchestrator step" }

// Type implements queue.Job.
func (r *Redis) Type() string { return stepJobType }

// Handle implements queue.Job.
func (r *Redis) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[stepPayload](payload)
	if err != nil {
		return err
	}
	r.mu.RLock()
	step := r.step
	r.mu.RUnlock()
	if step == nil {
		return fmt.Errorf("no step bound")
	}
	r.l.Debug("step job dequeued", logger.Duration("queued_for", time.Since(p.RequestedAt)))

	ctx, cancel := context.WithTimeout(ctx, DefaultStepTimeout)
	defer cancel()
	return step(ctx)
}
