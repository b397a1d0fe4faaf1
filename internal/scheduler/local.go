package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	applogger "SessionScan/pkg/logger"
)

// Local fires invocations on in-process timers. Requests made while one is
// already waiting are coalesced into it.
type Local struct {
	l *applogger.Logger

	mu      sync.Mutex
	step    StepFunc
	timer   *time.Timer
	pending bool
	closed  bool
	wg      sync.WaitGroup

	base   context.Context
	cancel context.CancelFunc
}

// NewLocal creates an in-process scheduler.
func NewLocal(l *applogger.Logger) *Local {
	if l == nil {
		l = applogger.Nop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Local{l: l.With("component", "scheduler"), base: base, cancel: cancel}
}

// Bind implements Scheduler.
func (s *Local) Bind(fn StepFunc) {
	s.mu.Lock()
	s.step = fn
	s.mu.Unlock()
}

// Start implements Scheduler.
func (s *Local) Start() error { return nil }

// RequestInvocation arms a timer unless one is already armed.
func (s *Local) RequestInvocation(_ context.Context, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("scheduler closed")
	}
	if s.pending {
		return nil
	}
	s.pending = true
	s.timer = time.AfterFunc(delay, s.fire)
	return nil
}

// Cancel disarms the waiting timer. A running invocation is not interrupted.
func (s *Local) Cancel(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.pending = false
	return nil
}

func (s *Local) fire() {
	s.mu.Lock()
	if !s.pending || s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = false
	step := s.step
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if step == nil {
		s.l.Warn("invocation fired with no step bound")
		return
	}
	ctx, cancel := context.WithTimeout(s.base, DefaultStepTimeout)
	defer cancel()
	if err := step(ctx); err != nil {
		s.l.Error("step invocation failed", applogger.Error(err))
	}
}

// Close disarms timers, cancels the running invocation's context and waits for it.
func (s *Local) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.pending = false
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
