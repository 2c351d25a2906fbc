package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/lychee-technology/bulkingest"
	"go.uber.org/zap"
)

// Outcome labels passed to an Observer.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Observer receives one callback per attempted operation.
type Observer interface {
	ObserveOperation(kind bulkingest.OperationKind, outcome string, elapsed time.Duration)
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// OverwriteTempIDs lets a later create replace an earlier temp_id mapping.
	OverwriteTempIDs bool
	NodeBundle       string
	Locations        LocationChecker
	Observer         Observer
}

// Runner executes batches sequentially. A failing operation is recorded in the
// report and never stops the operations after it.
type Runner struct {
	repository bulkingest.EntityRepository
	options    RunnerOptions
	nowFunc    func() time.Time
}

var _ bulkingest.BatchRunner = (*Runner)(nil)

// NewRunner creates a Runner over the given repository.
func NewRunner(repository bulkingest.EntityRepository, options RunnerOptions) *Runner {
	return &Runner{
		repository: repository,
		options:    options,
		nowFunc:    time.Now,
	}
}

func (r *Runner) withClock(now func() time.Time) {
	if now == nil {
		return
	}
	r.nowFunc = now
}

// Run executes every operation of batch in order. The returned error is
// non-nil only when ctx is cancelled; per-operation failures go into the report.
func (r *Runner) Run(ctx context.Context, batch *bulkingest.Batch) (*bulkingest.Report, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch cannot be nil")
	}

	resolver := NewIdentifierResolver(r.options.OverwriteTempIDs)
	terms := NewReferenceCache()
	executor := NewOperationExecutor(r.repository, resolver, terms, r.options.Locations, r.options.NodeBundle)

	report := bulkingest.NewReport()
	started := r.nowFunc()

	zap.S().Infow("batch started", "operations", len(batch.Operations))

	for i, op := range batch.Operations {
		if err := ctx.Err(); err != nil {
			zap.S().Warnw("batch aborted", "index", i, "error", err)
			return nil, fmt.Errorf("batch aborted before operation %d: %w", i, err)
		}
		if op == nil {
			op = &bulkingest.UnknownOperation{}
		}

		opStarted := r.nowFunc()
		entry, err := r.execute(ctx, executor, op)
		elapsed := r.nowFunc().Sub(opStarted)

		report.Observe(op.Kind(), elapsed)

		if err != nil {
			report.AddError(op.Kind(), op.TempID(), err)
			zap.S().Warnw("operation failed", "index", i, "op", op.Kind(), "tempID", op.TempID(), "error", err)
			r.observe(op.Kind(), OutcomeError, elapsed)
			continue
		}

		report.AddProcessed(*entry)
		zap.S().Debugw("operation processed", "index", i, "op", op.Kind(), "tempID", entry.TempID, "uuid", entry.UUID)
		r.observe(op.Kind(), OutcomeSuccess, elapsed)
	}

	report.Finalize(r.nowFunc().Sub(started))

	zap.S().Infow("batch completed",
		"processed", len(report.Processed),
		"errors", len(report.Errors),
		"termLookups", terms.Lookups(),
		"durationSeconds", report.Stats.TotalTime,
	)
	return report, nil
}

// execute runs a single operation, converting a panic into a repository error
// so one bad operation cannot take down the run.
func (r *Runner) execute(ctx context.Context, executor *OperationExecutor, op bulkingest.Operation) (entry *bulkingest.ProcessedEntry, err error) {
	defer func() {
		if p := recover(); p != nil {
			zap.S().Errorw("operation panicked", "op", op.Kind(), "tempID", op.TempID(), "panic", p)
			entry = nil
			err = bulkingest.NewRepositoryError(fmt.Sprintf("operation panicked: %v", p), nil).WithOperation(op)
		}
	}()
	return executor.Execute(ctx, op)
}

func (r *Runner) observe(kind bulkingest.OperationKind, outcome string, elapsed time.Duration) {
	if r.options.Observer == nil {
		return
	}
	r.options.Observer.ObserveOperation(kind, outcome, elapsed)
}
