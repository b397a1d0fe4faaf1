package scheduler

import (
	"context"
	"sync"
	"time"
)

// Manual records requests without firing them. The caller drives steps
// itself, as the CLI run command does.
type Manual struct {
	mu        sync.Mutex
	requested int
	cancelled int
}

// NewManual creates a manual scheduler.
func NewManual() *Manual { return &Manual{} }

// Bind implements Scheduler.
func (m *Manual) Bind(StepFunc) {}

// Start implements Scheduler.
func (m *Manual) Start() error { return nil }

// Close implements Scheduler.
func (m *Manual) Close(context.Context) error { return nil }

// RequestInvocation records the request.
func (m *Manual) RequestInvocation(context.Context, time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requested++
	return nil
}

// Cancel records the cancellation.
func (m *Manual) Cancel(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled++
	return nil
}

// Requests returns how many invocations were requested.
func (m *Manual) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requested
}

// Cancels returns how many times pending invocations were cancelled.
func (m *Manual) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}
