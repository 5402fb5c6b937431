// Package pipeline runs one ETL pass: extract, transform, load, export, notify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"GraderUsageETL/internal/extract"
	"GraderUsageETL/internal/models"
	"GraderUsageETL/internal/notify"
	"GraderUsageETL/internal/storage"
	"GraderUsageETL/internal/transform"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNoData     = errors.New("no data for transformation")
	ErrNoValid    = errors.New("no valid records after processing")
	ErrLoadFailed = errors.New("every batch failed to load")
)

// cleanupTimeout bounds journal and notification writes after a failure,
// which may happen after ctx was cancelled.
const cleanupTimeout = 30 * time.Second

type Extractor interface {
	FetchAll(ctx context.Context, w models.Window, chunk time.Duration) ([]models.RawRecord, error)
}

type Loader interface {
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
	InsertAttempts(ctx context.Context, attempts []models.Attempt, batchSize, workers int) (storage.LoadReport, error)
}

type Journal interface {
	StartRun(ctx context.Context, run models.Run) error
	FinishRun(ctx context.Context, run models.Run) error
}

type Exporter interface {
	Export(ctx context.Context, s models.Statistics, loadedAt time.Time) (int, error)
}

// Observer receives progress events. It is called synchronously and must not block.
type Observer func(models.Event)

// Options tunes a Pipeline. Zero values fall back to the defaults below.
type Options struct {
	ScriptName string
	Chunk      time.Duration // extraction sub-window, 0 = one request
	BatchSize  int
	Workers    int
	LogFile    string
	Now        func() time.Time
}

// Deps are the stages' backends. Exporter and Notifier are optional.
type Deps struct {
	Extractor Extractor
	Loader    Loader
	Journal   Journal
	Exporter  Exporter
	Notifier  notify.Notifier
}

type Pipeline struct {
	deps Deps
	opts Options
	log  *zap.Logger

	mu        sync.RWMutex
	observers []Observer
}

func New(deps Deps, opts Options, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ScriptName == "" {
		opts.ScriptName = "SF ETL Processor"
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{deps: deps, opts: opts, log: log}
}

// Observe registers fn for the events of every following run.
func (p *Pipeline) Observe(fn Observer) {
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

func (p *Pipeline) emit(runID string, stage models.Stage, msg string, count int64) {
	ev := models.Event{RunID: runID, Stage: stage, Message: msg, Count: count, Time: p.opts.Now().UTC()}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, fn := range p.observers {
		fn(ev)
	}
}

// Run executes one pass over w under a fresh run id.
func (p *Pipeline) Run(ctx context.Context, w models.Window) (models.Run, error) {
	return p.RunWithID(ctx, uuid.NewString(), w)
}

// RunWithID executes one pass over w. The returned Run is the journal entry as
// finished; on failure it carries the error text and the error is returned too.
func (p *Pipeline) RunWithID(ctx context.Context, id string, w models.Window) (models.Run, error) {
	run := models.Run{
		ID:        id,
		Window:    models.Window{Start: w.Start.UTC(), End: w.End.UTC()},
		StartedAt: p.opts.Now().UTC(),
		Status:    models.RunRunning,
	}
	log := p.log.With(zap.String("run_id", run.ID))

	log.Info("start ETL process",
		zap.Time("window_start", run.Window.Start),
		zap.Time("window_end", run.Window.End))
	if err := p.deps.Journal.StartRun(ctx, run); err != nil {
		return run, fmt.Errorf("Run(): %w", err)
	}
	p.emit(run.ID, models.StageStart, "run started", 0)

	stats, err := p.execute(ctx, &run, log)
	if err != nil {
		return p.fail(ctx, run, err, log)
	}

	finished := p.opts.Now().UTC()
	run.FinishedAt = &finished
	run.Status = models.RunSucceeded

	p.emit(run.ID, models.StageNotify, "sending notifications", 0)
	p.notify(ctx, notify.Report{ScriptName: p.opts.ScriptName, Run: run, Statistics: stats}, log)

	if err := p.deps.Journal.FinishRun(ctx, run); err != nil {
		log.Error("failed to record finished run", zap.Error(err))
		return run, fmt.Errorf("Run(): %w", err)
	}
	p.emit(run.ID, models.StageDone, "ETL process was finished", run.Inserted)
	log.Info("ETL process was finished",
		zap.Int64("inserted", run.Inserted),
		zap.Duration("duration", run.Duration()))
	return run, nil
}

// execute runs the data stages, filling the counters of run as it goes.
func (p *Pipeline) execute(ctx context.Context, run *models.Run, log *zap.Logger) (*models.Statistics, error) {
	log.Info("step 1: extract data from API")
	p.emit(run.ID, models.StageExtract, "extracting", 0)
	records, err := p.deps.Extractor.FetchAll(ctx, run.Window, p.opts.Chunk)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	run.Extracted = len(records)

	raws, _ := extract.Unpack(records, log)
	run.Unpacked = len(raws)
	p.emit(run.ID, models.StageExtract, "records unpacked", int64(run.Unpacked))
	if len(raws) == 0 {
		return nil, ErrNoData
	}

	log.Info("step 2: data transform")
	p.emit(run.ID, models.StageTransform, "validating", int64(len(raws)))
	attempts, _ := transform.Process(raws, log)
	attempts = transform.Dedupe(attempts)
	run.Valid = len(attempts)
	if len(attempts) == 0 {
		return nil, ErrNoValid
	}

	log.Info("step 3: data statistics")
	var stats *models.Statistics
	if s, ok := transform.ComputeStatistics(attempts); ok {
		transform.LogStatistics(log, s)
		stats = &s
		p.emit(run.ID, models.StageStats, "statistics computed", int64(s.TotalRecords))
	}

	log.Info("step 4: load to PostgreSQL")
	p.emit(run.ID, models.StageLoad, "loading", int64(len(attempts)))
	if err := p.deps.Loader.Ping(ctx); err != nil {
		return stats, fmt.Errorf("load: %w", err)
	}
	if err := p.deps.Loader.EnsureSchema(ctx); err != nil {
		return stats, fmt.Errorf("load: %w", err)
	}
	report, err := p.deps.Loader.InsertAttempts(ctx, attempts, p.opts.BatchSize, p.opts.Workers)
	run.Inserted = report.Inserted
	run.FailedBatch = report.FailedBatches
	if err != nil {
		return stats, fmt.Errorf("load: %w", err)
	}
	if report.Batches > 0 && report.FailedBatches == report.Batches {
		return stats, fmt.Errorf("load: %w (%d batches)", ErrLoadFailed, report.Batches)
	}
	log.Info("records inserted", zap.Int64("inserted", report.Inserted))
	p.emit(run.ID, models.StageLoad, "records inserted", report.Inserted)

	if p.deps.Exporter != nil && stats != nil {
		log.Info("step 5: export statistics to Google Sheets")
		p.emit(run.ID, models.StageExport, "exporting statistics", 0)
		if row, err := p.deps.Exporter.Export(ctx, *stats, p.opts.Now()); err != nil {
			log.Error("statistics export failed", zap.Error(err))
		} else {
			log.Info("statistics exported", zap.Int("row", row))
		}
	}
	return stats, nil
}

func (p *Pipeline) fail(ctx context.Context, run models.Run, cause error, log *zap.Logger) (models.Run, error) {
	log.Error("critical error", zap.Error(cause))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	finished := p.opts.Now().UTC()
	run.FinishedAt = &finished
	run.Status = models.RunFailed
	run.Error = cause.Error()
	p.emit(run.ID, models.StageFailed, run.Error, 0)

	p.notify(ctx, notify.Report{ScriptName: p.opts.ScriptName, Run: run, LogFile: p.opts.LogFile}, log)

	if err := p.deps.Journal.FinishRun(ctx, run); err != nil {
		log.Error("failed to record failed run", zap.Error(err))
		cause = errors.Join(cause, err)
	}
	return run, fmt.Errorf("Run(): %w", cause)
}

// notify never fails the run.
func (p *Pipeline) notify(ctx context.Context, r notify.Report, log *zap.Logger) {
	if p.deps.Notifier == nil {
		return
	}
	log.Info("step 6: send notifications", zap.String("kind", string(r.Kind())))
	if err := p.deps.Notifier.Notify(ctx, r); err != nil {
		log.Error("notification failed", zap.Error(err))
	}
}
