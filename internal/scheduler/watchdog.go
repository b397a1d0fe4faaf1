package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"SessionScan/pkg/logger"
)

// Job is a unit of periodic work.
type Job interface {
	Run() error
	Name() string
}

// Watchdog runs jobs on cron schedules. A job still running when its next
// tick arrives is skipped.
type Watchdog struct {
	cron *cron.Cron
	l    *logger.Logger
}

// NewWatchdog creates a stopped watchdog.
func NewWatchdog(l *logger.Logger) *Watchdog {
	if l == nil {
		l = logger.Nop()
	}
	return &Watchdog{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		l:    l.With("component", "watchdog"),
	}
}

// Start starts the cron loop.
func (w *Watchdog) Start() {
	w.cron.Start()
	w.l.Info("watchdog started")
}

// Stop stops the cron loop and waits for running jobs.
func (w *Watchdog) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.l.Info("watchdog stopped")
}

// AddJob registers job on schedule, e.g. "@every 1m" or "*/5 * * * *".
func (w *Watchdog) AddJob(schedule string, job Job) error {
	_, err := w.cron.AddFunc(schedule, func() {
		if err := job.Run(); err != nil {
			w.l.Error("job failed", logger.String("job", job.Name()), logger.Error(err))
		}
	})
	if err != nil {
		return err
	}
	w.l.Info("job registered", logger.String("schedule", schedule), logger.String("job", job.Name()))
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (w *Watchdog) RunNow(job Job) error {
	w.l.Info("running job immediately", logger.String("job", job.Name()))
	return job.Run()
}

// StepJob adapts a StepFunc to Job with a per-run timeout.
type StepJob struct {
	name    string
	fn      StepFunc
	timeout time.Duration
}

// NewStepJob wraps fn.
func NewStepJob(name string, fn StepFunc, timeout time.Duration) *StepJob {
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	return &StepJob{name: name, fn: fn, timeout: timeout}
}

// Name implements Job.
func (j *StepJob) Name() string { return j.name }

// Run implements Job.
func (j *StepJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.fn(ctx)
}
