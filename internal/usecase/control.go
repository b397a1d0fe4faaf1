package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SessionScan/internal/domain/models"
	"SessionScan/pkg/logger"
)

// DefaultStatusLogLimit is the number of log lines returned by Status.
const DefaultStatusLogLimit = 50

// Start resets all state, reads the symbol ranges for the selected modes and
// begins a run. Configuration and source errors abort the start, leaving an
// empty queue and a stopped run.
func (o *Orchestrator) Start(ctx context.Context, selection string) error {
	modes, err := models.ParseSelection(selection)
	if err != nil {
		o.control.Lock()
		defer o.control.Unlock()
		return o.abortStart(ctx, models.NewError(models.KindConfiguration, "start", err))
	}
	return o.start(ctx, modes, models.EventRunStarted)
}

// FreshStart is Start with every mode selected.
func (o *Orchestrator) FreshStart(ctx context.Context) error {
	return o.start(ctx, models.NewModeSet(models.AllModes...), models.EventRunStarted)
}

func (o *Orchestrator) start(ctx context.Context, modes models.ModeSet, event string) error {
	o.control.Lock()
	defer o.control.Unlock()

	if err := o.scheduler.Cancel(ctx); err != nil {
		o.l.Warn("cancel pending invocations", logger.Error(err))
	}
	if err := o.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset queue: %w", err)
	}
	if err := o.store.ClearRunState(ctx); err != nil {
		return fmt.Errorf("clear run state: %w", err)
	}

	for _, m := range modes {
		ms := o.cfg.Modes[m]
		if strings.TrimSpace(ms.SourceRange) == "" {
			return o.abortStart(ctx, models.Errorf(models.KindConfiguration, "start", "no source range configured for %s", m.Label()))
		}
		if strings.TrimSpace(ms.Destination) == "" {
			return o.abortStart(ctx, models.Errorf(models.KindConfiguration, "start", "no destination configured for %s", m.Label()))
		}
	}

	o.runLog.Info(ctx, "Reading symbol lists...")
	var order []string
	merged := make(map[string]models.ModeSet)
	for _, m := range modes {
		rng := o.cfg.Modes[m].SourceRange
		symbols, err := o.source.ReadSymbols(ctx, rng)
		if err != nil {
			return o.abortStart(ctx, models.NewError(models.KindSourceRead, "read "+rng, err))
		}
		found := 0
		for _, s := range symbols {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			found++
			if _, ok := merged[s]; !ok {
				order = append(order, s)
			}
			merged[s] = merged[s].Add(m)
		}
		o.runLog.Info(ctx, "%d %s symbols found", found, m.Label())
	}
	if len(order) == 0 {
		return o.abortStart(ctx, models.Errorf(models.KindSourceRead, "start", "no symbols found in the configured source ranges"))
	}

	for _, s := range order {
		if err := o.store.Enqueue(ctx, s, merged[s]); err != nil {
			return o.abortStart(ctx, fmt.Errorf("enqueue %s: %w", s, err))
		}
	}

	st := models.RunState{
		RunID:       o.newID(),
		Status:      models.RunRunning,
		Modes:       modes,
		EndDate:     o.cfg.EndDate,
		StartedAt:   o.now().UTC(),
		Initialized: map[models.Mode]bool{},
	}
	if err := o.store.SaveRunState(ctx, st); err != nil {
		return o.abortStart(ctx, fmt.Errorf("save run state: %w", err))
	}
	o.runLog.Info(ctx, "Run started. %d unique symbols will be processed", len(order))
	o.l.Debug("run queued", logger.String("run_id", st.RunID), logger.Strings("symbols", order))
	o.metrics.SetProgress(models.Progress{Pending: len(order)})
	o.publish(ctx, models.RunEvent{
		Type:     event,
		RunID:    st.RunID,
		Modes:    modes,
		Progress: &models.Progress{Pending: len(order)},
	})

	if err := o.scheduler.RequestInvocation(ctx, 0); err != nil {
		return fmt.Errorf("request first step: %w", err)
	}
	return nil
}

// abortStart leaves an empty queue and a stopped run, then returns cause.
func (o *Orchestrator) abortStart(ctx context.Context, cause error) error {
	o.runLog.Error(ctx, "ERROR: %v", cause)
	kind := models.KindOf(cause)
	if kind == "" {
		kind = "unknown"
	}
	o.metrics.RecordError(string(kind))

	if err := o.store.Reset(ctx); err != nil {
		o.l.Error("reset after failed start", logger.Error(err))
	}
	st := models.IdleRunState()
	st.Status = models.RunStopped
	if err := o.store.SaveRunState(ctx, st); err != nil {
		o.l.Error("save stopped state after failed start", logger.Error(err))
	}
	o.metrics.SetProgress(models.Progress{})
	return cause
}

// Resume continues a stopped run. It needs pending items.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.control.Lock()
	defer o.control.Unlock()

	st, err := o.store.LoadRunState(ctx)
	if err != nil {
		return fmt.Errorf("load run state: %w", err)
	}
	progress, err := o.store.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	if progress.Pending == 0 {
		return models.Errorf(models.KindStaleRun, "resume", "no pending symbols to resume")
	}

	if st.Status != models.RunRunning {
		if err := o.store.SetRunStatus(ctx, models.RunRunning); err != nil {
			return fmt.Errorf("set running: %w", err)
		}
		o.runLog.Info(ctx, "Resuming run with %d of %d symbols pending", progress.Pending, progress.Total())
		o.publish(ctx, models.RunEvent{Type: models.EventRunResumed, RunID: st.RunID, Modes: st.Modes, Progress: &progress})
	}
	if err := o.scheduler.RequestInvocation(ctx, 0); err != nil {
		return fmt.Errorf("request step: %w", err)
	}
	return nil
}

// Stop pauses the run. The in-flight step halts at its next item.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.control.Lock()
	defer o.control.Unlock()

	st, err := o.store.LoadRunState(ctx)
	if err != nil {
		return fmt.Errorf("load run state: %w", err)
	}
	if st.Status != models.RunRunning {
		return nil
	}
	if err := o.store.SetRunStatus(ctx, models.RunStopped); err != nil {
		return fmt.Errorf("set stopped: %w", err)
	}
	if err := o.scheduler.Cancel(ctx); err != nil {
		o.l.Warn("cancel pending invocations", logger.Error(err))
	}
	o.runLog.Info(ctx, "Run paused by operator")
	o.publish(ctx, models.RunEvent{Type: models.EventRunStopped, RunID: st.RunID, Modes: st.Modes})
	return nil
}

// Trigger runs one step synchronously. It needs an active run.
func (o *Orchestrator) Trigger(ctx context.Context) error {
	st, err := o.store.LoadRunState(ctx)
	if err != nil {
		return fmt.Errorf("load run state: %w", err)
	}
	if st.Status != models.RunRunning {
		return models.Errorf(models.KindStaleRun, "trigger", "no run in progress")
	}
	return o.Step(ctx)
}

// Tick re-requests a step for an active run. The watchdog calls it so that a
// run whose scheduled invocation was lost keeps going.
func (o *Orchestrator) Tick(ctx context.Context) error {
	st, err := o.store.LoadRunState(ctx)
	if err != nil {
		return fmt.Errorf("load run state: %w", err)
	}
	if st.Status != models.RunRunning {
		return nil
	}
	return o.scheduler.RequestInvocation(ctx, 0)
}

// Drive steps the active run in-process until it completes or is stopped.
func (o *Orchestrator) Drive(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		st, err := o.store.LoadRunState(ctx)
		if err != nil {
			return fmt.Errorf("load run state: %w", err)
		}
		if st.Status != models.RunRunning {
			return nil
		}
		if err := o.Step(ctx); err != nil {
			return err
		}
		if o.cfg.ChainDelay > 0 {
			t := time.NewTimer(o.cfg.ChainDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
}

// Status returns the run snapshot with up to logLimit log lines, newest first.
func (o *Orchestrator) Status(ctx context.Context, logLimit int) (models.Status, error) {
	if logLimit <= 0 {
		logLimit = DefaultStatusLogLimit
	}
	st, err := o.store.LoadRunState(ctx)
	if err != nil {
		return models.Status{}, fmt.Errorf("load run state: %w", err)
	}
	progress, err := o.store.CountByStatus(ctx)
	if err != nil {
		return models.Status{}, fmt.Errorf("count items: %w", err)
	}
	entries, err := o.store.RecentLogs(ctx, logLimit)
	if err != nil {
		return models.Status{}, fmt.Errorf("read run log: %w", err)
	}

	out := models.Status{
		RunID:     st.RunID,
		Status:    st.Status,
		Modes:     st.Modes,
		EndDate:   st.EndDate,
		Log:       make([]string, 0, len(entries)),
		Pending:   progress.Pending,
		Completed: progress.Completed,
		Error:     progress.Error,
		Total:     progress.Total(),
	}
	if !st.StartedAt.IsZero() {
		t := st.StartedAt
		out.StartedAt = &t
	}
	for _, e := range entries {
		out.Log = append(out.Log, FormatLogLine(e, o.loc))
	}
	return out, nil
}
