package backfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"battery-tracker/internal/checkpoint"
	"battery-tracker/pkg/timeseries"
)

// ErrWrittenExceedsFetched signals a pipeline bug: more rows were written
// than records were fetched for a window.
var ErrWrittenExceedsFetched = errors.New("backfill: written rows exceed fetched records")

// Stage is a step of the per-window state machine.
type Stage string

const (
	StagePending     Stage = "pending"
	StageFetching    Stage = "fetching"
	StageNormalizing Stage = "normalizing"
	StageWriting     Stage = "writing"
	StageDone        Stage = "done"
)

// Transition is emitted whenever the orchestrator enters a stage.
type Transition struct {
	Dataset string
	Stage   Stage
	Window  timeseries.Window
	Index   int // 0-based window index; -1 for pending and done
	Total   int
}

// Source returns the raw records of one window.
type Source interface {
	Fetch(ctx context.Context, window timeseries.Window) ([]timeseries.RawRecord, error)
}

// Normalizer turns raw records into observations.
type Normalizer interface {
	Normalize(ctx context.Context, records []timeseries.RawRecord, unitID string) (timeseries.Result, error)
}

// Sink persists observations idempotently.
type Sink interface {
	Upsert(ctx context.Context, observations []timeseries.Observation) (int, error)
}

// WindowError carries the window and stage at which a backfill aborted.
// Re-running from Window.Start resumes the backfill.
type WindowError struct {
	Dataset string
	Window  timeseries.Window
	Stage   Stage
	Err     error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("backfill %s: window %s: %s: %v", e.Dataset, e.Window, e.Stage, e.Err)
}

func (e *WindowError) Unwrap() error { return e.Err }

// WindowReport summarises one processed window.
type WindowReport struct {
	Window   timeseries.Window
	Fetched  int
	Skipped  int
	Warnings int
	Written  int
}

// Report summarises a backfill. Written is the sum of per-window counts.
type Report struct {
	Dataset     string
	Start       time.Time
	End         time.Time
	ResumedFrom time.Time
	Windows     []WindowReport
	Fetched     int
	Skipped     int
	Written     int
}

// Config enumerates the collaborators of one dataset backfill.
type Config struct {
	Dataset    string
	Source     Source
	Normalizer Normalizer
	Sink       Sink
	UnitID     string

	// Plan partitions [start, end); defaults to 7-day chunks.
	Plan func(start, end time.Time) []timeseries.Window

	Checkpoints   checkpoint.Store
	CheckpointKey string
	Resume        bool

	OnTransition func(Transition)
}

// Orchestrator drives fetch, normalize and write over consecutive windows.
type Orchestrator struct {
	cfg Config
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	cfg.Dataset = strings.TrimSpace(cfg.Dataset)
	switch {
	case cfg.Dataset == "":
		return nil, errors.New("backfill: dataset name is required")
	case cfg.Source == nil:
		return nil, fmt.Errorf("backfill %s: source is required", cfg.Dataset)
	case cfg.Normalizer == nil:
		return nil, fmt.Errorf("backfill %s: normalizer is required", cfg.Dataset)
	case cfg.Sink == nil:
		return nil, fmt.Errorf("backfill %s: sink is required", cfg.Dataset)
	}
	if cfg.Plan == nil {
		cfg.Plan = func(start, end time.Time) []timeseries.Window {
			return timeseries.Chunk(start, end, timeseries.DefaultWindowSize)
		}
	}
	if cfg.CheckpointKey == "" {
		cfg.CheckpointKey = checkpoint.Key(cfg.Dataset, "", cfg.UnitID)
	}
	return &Orchestrator{cfg: cfg}, nil
}

// Run backfills [start, end). Windows run strictly in order; the first
// failing window aborts the run with a *WindowError and the partial report.
func (o *Orchestrator) Run(ctx context.Context, start, end time.Time) (Report, error) {
	start, end = start.UTC(), end.UTC()
	report := Report{Dataset: o.cfg.Dataset, Start: start, End: end}
	logger := logx.WithContext(ctx)

	from := o.resumePoint(ctx, start)
	if from.After(start) {
		report.ResumedFrom = from
		logger.Infof("backfill dataset=%s resuming from checkpoint %s", o.cfg.Dataset, timeseries.FormatUTC(from))
	}

	windows := o.cfg.Plan(from, end)
	o.transition(Transition{Stage: StagePending, Window: timeseries.Window{Start: from, End: end}, Index: -1, Total: len(windows)})

	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return report, &WindowError{Dataset: o.cfg.Dataset, Window: w, Stage: StagePending, Err: err}
		}
		wr, err := o.runWindow(ctx, i, len(windows), w)
		if err != nil {
			return report, err
		}

		report.Windows = append(report.Windows, wr)
		report.Fetched += wr.Fetched
		report.Skipped += wr.Skipped
		report.Written += wr.Written
		o.saveCheckpoint(ctx, w.End)
	}

	o.transition(Transition{Stage: StageDone, Window: timeseries.Window{Start: from, End: end}, Index: -1, Total: len(windows)})
	logger.Infof("backfill dataset=%s done windows=%d fetched=%d skipped=%d written=%d",
		o.cfg.Dataset, len(report.Windows), report.Fetched, report.Skipped, report.Written)
	return report, nil
}

func (o *Orchestrator) runWindow(ctx context.Context, index, total int, w timeseries.Window) (WindowReport, error) {
	fail := func(stage Stage, err error) (WindowReport, error) {
		return WindowReport{}, &WindowError{Dataset: o.cfg.Dataset, Window: w, Stage: stage, Err: err}
	}

	o.transition(Transition{Stage: StageFetching, Window: w, Index: index, Total: total})
	records, err := o.cfg.Source.Fetch(ctx, w)
	if err != nil {
		return fail(StageFetching, err)
	}

	o.transition(Transition{Stage: StageNormalizing, Window: w, Index: index, Total: total})
	res, err := o.cfg.Normalizer.Normalize(ctx, records, o.cfg.UnitID)
	if err != nil {
		return fail(StageNormalizing, err)
	}

	o.transition(Transition{Stage: StageWriting, Window: w, Index: index, Total: total})
	written, err := o.cfg.Sink.Upsert(ctx, res.Observations)
	if err != nil {
		return fail(StageWriting, err)
	}

	wr := WindowReport{
		Window:   w,
		Fetched:  len(records),
		Skipped:  res.Skipped,
		Warnings: len(res.Warnings),
		Written:  written,
	}
	recordMetrics(o.cfg.Dataset, wr)
	logx.WithContext(ctx).Infof("backfill dataset=%s window=%s fetched=%d skipped=%d written=%d",
		o.cfg.Dataset, w, wr.Fetched, wr.Skipped, wr.Written)

	if wr.Written > wr.Fetched {
		logx.WithContext(ctx).Errorf("backfill dataset=%s window=%s wrote %d rows from %d fetched records",
			o.cfg.Dataset, w, wr.Written, wr.Fetched)
		return fail(StageWriting, ErrWrittenExceedsFetched)
	}
	return wr, nil
}

func (o *Orchestrator) resumePoint(ctx context.Context, start time.Time) time.Time {
	if !o.cfg.Resume || o.cfg.Checkpoints == nil {
		return start
	}
	through, ok, err := o.cfg.Checkpoints.Load(ctx, o.cfg.CheckpointKey)
	if err != nil {
		logx.WithContext(ctx).Errorf("backfill dataset=%s load checkpoint: %v", o.cfg.Dataset, err)
		return start
	}
	if !ok || !through.After(start) {
		return start
	}
	return through
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, through time.Time) {
	if o.cfg.Checkpoints == nil {
		return
	}
	if err := o.cfg.Checkpoints.Save(ctx, o.cfg.CheckpointKey, through); err != nil {
		logx.WithContext(ctx).Errorf("backfill dataset=%s save checkpoint: %v", o.cfg.Dataset, err)
	}
}

func (o *Orchestrator) transition(t Transition) {
	t.Dataset = o.cfg.Dataset
	if t.Index >= 0 {
		logx.Debugf("backfill dataset=%s stage=%s window=%s (%d/%d)", t.Dataset, t.Stage, t.Window, t.Index+1, t.Total)
	}
	if o.cfg.OnTransition != nil {
		o.cfg.OnTransition(t)
	}
}
