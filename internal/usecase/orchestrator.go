// Package usecase drives resumable analysis runs: control operations, the
// batch step function and status reporting.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"SessionScan/internal/domain/models"
	"SessionScan/internal/domain/repository"
	"SessionScan/internal/service/stats"
	"SessionScan/pkg/cache"
	"SessionScan/pkg/logger"
	"SessionScan/pkg/util"
)

// DefaultBatchSize bounds the items processed by one step.
const DefaultBatchSize = 500

// busyRetryDelay is the minimum wait before retrying a step that found the
// lease taken.
const busyRetryDelay = 5 * time.Second

// ModeSettings binds a mode to its symbol range, destination and threshold.
type ModeSettings struct {
	SourceRange string
	Destination string
	Threshold   float64
}

// Config tunes the orchestrator.
type Config struct {
	BatchSize  int
	ChainDelay time.Duration
	LeaseTTL   time.Duration

	// EndDate fixes the cutoff; zero means now.
	EndDate         models.Date
	Modes           map[models.Mode]ModeSettings
	NextDayRecovery bool
}

// Deps groups the orchestrator's collaborators.
type Deps struct {
	Store     repository.Store
	Source    repository.SymbolSource
	Sink      repository.ResultSink
	Scheduler repository.Scheduler
	Lease     cache.Service
	Events    repository.EventPublisher
	Metrics   repository.Metrics
	Processor *ItemProcessor
	Location  *time.Location
	Logger    *logger.Logger
}

// Orchestrator owns the run lifecycle.
type Orchestrator struct {
	cfg       Config
	store     repository.Store
	source    repository.SymbolSource
	sink      repository.ResultSink
	scheduler repository.Scheduler
	lease     cache.Service
	events    repository.EventPublisher
	metrics   repository.Metrics
	proc      *ItemProcessor
	runLog    *RunLog
	loc       *time.Location
	l         *logger.Logger

	now      func() time.Time
	newID    func() string
	newToken func() string

	// control serializes control operations within this process.
	control sync.Mutex
}

// NewOrchestrator validates deps and applies defaults.
func NewOrchestrator(cfg Config, d Deps) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	l := d.Logger.With("component", "orchestrator")
	return &Orchestrator{
		cfg:       cfg,
		store:     d.Store,
		source:    d.Source,
		sink:      d.Sink,
		scheduler: d.Scheduler,
		lease:     d.Lease,
		events:    d.Events,
		metrics:   d.Metrics,
		proc:      d.Processor,
		runLog:    NewRunLog(d.Store, l),
		loc:       d.Location,
		l:         l,
		now:       time.Now,
		newID:     uuid.NewString,
		newToken:  uuid.NewString,
	}
}

var leaseKey = cache.GenerateKey("lease", "step")

// Step runs one batch. It is a no-op unless a run is active. When another
// step holds the lease it asks the scheduler to try again later.
func (o *Orchestrator) Step(ctx context.Context) error {
	start := o.now()
	outcome, err := o.step(ctx)
	if err != nil {
		outcome = "error"
		o.metrics.RecordError("step")
		o.l.Error("step failed", logger.Error(err))
	}
	o.metrics.RecordStep(outcome, o.now().Sub(start).Seconds())
	return err
}

func (o *Orchestrator) step(ctx context.Context) (string, error) {
	st, err := o.store.LoadRunState(ctx)
	if err != nil {
		return "", fmt.Errorf("load run state: %w", err)
	}
	if st.Status != models.RunRunning {
		o.l.Debug("step skipped", logger.String("status", string(st.Status)))
		return "skipped", nil
	}

	token := o.newToken()
	if o.lease != nil {
		ok, err := o.lease.TryLock(ctx, leaseKey, token, o.cfg.LeaseTTL)
		if err != nil {
			return "", fmt.Errorf("acquire step lease: %w", err)
		}
		if !ok {
			o.l.Debug("step deferred, lease held elsewhere")
			if err := o.scheduler.RequestInvocation(ctx, max(o.cfg.ChainDelay, busyRetryDelay)); err != nil {
				return "", fmt.Errorf("request step after busy lease: %w", err)
			}
			return "busy", nil
		}
		defer func() {
			if err := o.lease.Unlock(context.Background(), leaseKey, token); err != nil {
				o.l.Warn("release step lease", logger.Error(err))
			}
		}()
	}

	items, err := o.store.ClaimBatch(ctx, o.cfg.BatchSize)
	if err != nil {
		return "", fmt.Errorf("claim batch: %w", err)
	}
	if len(items) == 0 {
		return "completed", o.complete(ctx, st)
	}

	before, err := o.store.CountByStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("count items: %w", err)
	}
	done, total := before.Completed+before.Error, before.Total()
	o.runLog.Info(ctx, "Batch starting: items %d-%d of %d", done+1, done+len(items), total)

	runID := st.RunID
	cutoff := o.cutoff(st.EndDate)
	for i, item := range items {
		cur, err := o.store.LoadRunState(ctx)
		if err != nil {
			return "", fmt.Errorf("load run state: %w", err)
		}
		if cur.RunID != runID {
			return o.superseded(runID), nil
		}
		if cur.Status != models.RunRunning {
			o.runLog.Info(ctx, "Stop signal received, current batch halted")
			break
		}
		held, err := o.renewLease(ctx, token)
		if err != nil {
			return "", fmt.Errorf("renew step lease: %w", err)
		}
		if !held {
			o.l.Warn("step lease lost, batch halted", logger.String("run_id", runID), logger.String("next", item.Symbol))
			return "lease_lost", nil
		}
		st = cur
		if err := o.processItem(ctx, &st, item, cutoff, done+i+1, total); err != nil {
			if errors.Is(err, models.ErrRunSuperseded) {
				return o.superseded(runID), nil
			}
			return "", err
		}
	}

	cur, err := o.store.LoadRunState(ctx)
	if err != nil {
		return "", fmt.Errorf("load run state: %w", err)
	}
	if cur.RunID != runID {
		return o.superseded(runID), nil
	}
	progress, err := o.store.CountByStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("count items: %w", err)
	}
	o.metrics.SetProgress(progress)

	switch {
	case cur.Status != models.RunRunning:
		o.runLog.Info(ctx, "Run paused with %d symbols pending, no further step scheduled", progress.Pending)
		return "paused", nil
	case progress.Pending > 0:
		if err := o.scheduler.RequestInvocation(ctx, o.cfg.ChainDelay); err != nil {
			return "", fmt.Errorf("request next step: %w", err)
		}
		return "chained", nil
	default:
		return "completed", o.complete(ctx, cur)
	}
}

// renewLease extends the step lease before an item. False means the lease
// expired and another step may own the queue now.
func (o *Orchestrator) renewLease(ctx context.Context, token string) (bool, error) {
	if o.lease == nil {
		return true, nil
	}
	return o.lease.Refresh(ctx, leaseKey, token, o.cfg.LeaseTTL)
}

// superseded ends a step whose run was replaced by a new start. Nothing more
// is written for the old run.
func (o *Orchestrator) superseded(runID string) string {
	o.l.Info("run replaced during step, batch dropped", logger.String("run_id", runID))
	return "superseded"
}

func (o *Orchestrator) processItem(ctx context.Context, st *models.RunState, item models.QueueItem, cutoff time.Time, pos, total int) error {
	o.runLog.Info(ctx, "Processing: %s (%s) (%d/%d)", item.Symbol, item.Modes, pos, total)

	results, err := o.proc.Process(ctx, item.Symbol, item.Modes, cutoff)
	if rerr := o.reloadRun(ctx, st); rerr != nil {
		return rerr
	}
	if err == nil {
		err = o.writeResults(ctx, st, results)
	}
	if errors.Is(err, models.ErrRunSuperseded) {
		return err
	}
	if err != nil {
		kind := models.KindOf(err)
		if kind == "" {
			kind = "unknown"
		}
		o.metrics.RecordError(string(kind))
		o.runLog.Error(ctx, "ERROR (%s): skipped due to processing error: %v", item.Symbol, err)
		if err := o.store.MarkError(ctx, st.RunID, item.Symbol); err != nil {
			return fmt.Errorf("mark %s error: %w", item.Symbol, err)
		}
		o.metrics.RecordItem(models.ItemError)
		o.writePlaceholders(ctx, st, item)
		o.publish(ctx, models.RunEvent{
			Type:    models.EventItemFailed,
			RunID:   st.RunID,
			Symbol:  item.Symbol,
			Modes:   item.Modes,
			Message: err.Error(),
		})
		return nil
	}

	if err := o.store.MarkCompleted(ctx, st.RunID, item.Symbol); err != nil {
		return fmt.Errorf("mark %s completed: %w", item.Symbol, err)
	}
	o.metrics.RecordItem(models.ItemCompleted)
	o.runLog.Info(ctx, "Success: %s processed and written", item.Symbol)
	o.publish(ctx, models.RunEvent{
		Type:    models.EventItemCompleted,
		RunID:   st.RunID,
		Symbol:  item.Symbol,
		Modes:   item.Modes,
		Results: results,
	})
	return nil
}

// reloadRun refreshes st after an item's fetch. It fails with
// ErrRunSuperseded when a new run replaced st's run meanwhile.
func (o *Orchestrator) reloadRun(ctx context.Context, st *models.RunState) error {
	cur, err := o.store.LoadRunState(ctx)
	if err != nil {
		return fmt.Errorf("load run state: %w", err)
	}
	if cur.RunID != st.RunID {
		return models.ErrRunSuperseded
	}
	*st = cur
	return nil
}

func (o *Orchestrator) writeResults(ctx context.Context, st *models.RunState, results []models.SymbolResult) error {
	for _, r := range results {
		if err := o.write(ctx, st, r.Summary.Mode, stats.Row(r, o.cfg.NextDayRecovery)); err != nil {
			return err
		}
	}
	return nil
}

// writePlaceholders is best effort: failures are logged and swallowed.
func (o *Orchestrator) writePlaceholders(ctx context.Context, st *models.RunState, item models.QueueItem) {
	var failed []string
	for _, m := range item.Modes {
		if err := o.write(ctx, st, m, stats.SkipRow(item.Symbol)); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", m.Label(), err))
		}
	}
	if len(failed) > 0 {
		o.runLog.Warn(ctx, "WARNING: skip row for %s could not be written: %s", item.Symbol, strings.Join(failed, "; "))
		return
	}
	o.runLog.Info(ctx, "Info: skip row written for %s", item.Symbol)
}

// write initializes the mode's destination on its first write of the run and
// appends afterwards.
func (o *Orchestrator) write(ctx context.Context, st *models.RunState, mode models.Mode, row models.Row) error {
	ms, ok := o.cfg.Modes[mode]
	if !ok || ms.Destination == "" {
		return models.Errorf(models.KindConfiguration, "write", "no destination for %s", mode.Label())
	}

	var err error
	if st.IsInitialized(mode) {
		err = o.sink.Append(ctx, ms.Destination, []models.Row{row})
	} else {
		o.runLog.Info(ctx, "First %s row, clearing destination %q", mode.Label(), ms.Destination)
		header := stats.Header(mode, ms.Threshold, o.cfg.NextDayRecovery)
		if err = o.sink.Initialize(ctx, ms.Destination, header, row); err == nil {
			if err = o.store.MarkInitialized(ctx, st.RunID, mode); err == nil {
				if st.Initialized == nil {
					st.Initialized = map[models.Mode]bool{}
				}
				st.Initialized[mode] = true
			}
		}
	}
	o.metrics.RecordSinkWrite(mode, err)
	if err != nil {
		return models.NewError(models.KindSinkWrite, "write "+string(mode), err)
	}
	return nil
}

// complete is the terminal success path: the queue and run state are cleared
// and the run log is kept.
func (o *Orchestrator) complete(ctx context.Context, st models.RunState) error {
	cur, err := o.store.LoadRunState(ctx)
	if err != nil {
		return fmt.Errorf("load run state: %w", err)
	}
	if cur.RunID != st.RunID {
		o.superseded(st.RunID)
		return nil
	}
	progress, err := o.store.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	o.runLog.Info(ctx, "All symbols processed: %d completed, %d skipped", progress.Completed, progress.Error)

	if err := o.scheduler.Cancel(ctx); err != nil {
		o.l.Warn("cancel pending invocations", logger.Error(err))
	}
	if err := o.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset queue: %w", err)
	}
	if err := o.store.ClearRunState(ctx); err != nil {
		return fmt.Errorf("clear run state: %w", err)
	}
	o.metrics.SetProgress(models.Progress{})
	o.publish(ctx, models.RunEvent{
		Type:     models.EventRunCompleted,
		RunID:    st.RunID,
		Modes:    st.Modes,
		Progress: &progress,
	})
	return nil
}

// cutoff is the end date at 23:59:59 exchange time, or now.
func (o *Orchestrator) cutoff(end models.Date) time.Time {
	if end.IsZero() {
		return o.now().In(o.loc)
	}
	return util.EndOfDay(end.In(o.loc), o.loc)
}

func (o *Orchestrator) publish(ctx context.Context, ev models.RunEvent) {
	if o.events == nil {
		return
	}
	ev.Time = o.now().UTC()
	if err := o.events.PublishEvent(ctx, ev); err != nil {
		o.l.Warn("publish event failed", logger.String("type", ev.Type), logger.Error(err))
	}
}
