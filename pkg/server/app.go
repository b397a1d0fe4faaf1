package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SessionScan/internal/scheduler"
	"SessionScan/internal/usecase"
	xhttp "SessionScan/pkg/http"
	applogger "SessionScan/pkg/logger"
)

// Option configures App.
type Option func(*App)

// App encapsulates the application lifecycle.
type App struct {
	orch     *usecase.Orchestrator
	sched    scheduler.Scheduler
	watchdog *scheduler.Watchdog
	http     *xhttp.Server
	l        *applogger.Logger

	shutdownTimeout time.Duration
}

// New creates an App around the orchestrator.
func New(o *usecase.Orchestrator, l *applogger.Logger, opts ...Option) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{orch: o, l: l.With("component", "app"), shutdownTimeout: 15 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithScheduler sets the scheduler started and closed with the app.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(a *App) { a.sched = s }
}

// WithWatchdog sets the cron watchdog.
func WithWatchdog(w *scheduler.Watchdog) Option {
	return func(a *App) { a.watchdog = w }
}

// WithHTTPServer sets the HTTP server.
func WithHTTPServer(s *xhttp.Server) Option {
	return func(a *App) { a.http = s }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.shutdownTimeout = d
		}
	}
}

// Orchestrator returns the run orchestrator.
func (a *App) Orchestrator() *usecase.Orchestrator { return a.orch }

// Run starts every component and blocks until SIGINT/SIGTERM or ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.l.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Start starts the scheduler, the watchdog and the HTTP server, then nudges
// a run left active by a previous process.
func (a *App) Start(ctx context.Context) error {
	if a.sched != nil {
		if err := a.sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	if a.watchdog != nil {
		a.watchdog.Start()
	}
	if a.http != nil {
		if err := a.http.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}
	if err := a.orch.Tick(ctx); err != nil {
		a.l.Warn("resume check failed", applogger.Error(err))
	}
	a.l.Info("application started")
	return nil
}

// Shutdown stops components in reverse order. Pending invocations stay in
// their backend so a restarted process picks the run up again.
func (a *App) Shutdown(ctx context.Context) error {
	if a.http != nil {
		if err := a.http.Stop(ctx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.watchdog != nil {
		a.watchdog.Stop()
	}
	if a.sched != nil {
		if err := a.sched.Close(ctx); err != nil {
			a.l.Warn("scheduler close error", applogger.Error(err))
		}
	}
	a.l.Info("shutdown complete")
	return nil
}
