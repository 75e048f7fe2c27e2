package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
	"github.com/hugo-lorenzo-mato/paperflow/internal/metrics"
)

// Step is a named unit of work against the run. A step enriches the
// payload, advances the phase itself, and may call the external
// collaborators it was built with. Steps receive a working copy: on
// failure the executor discards it, so a step never needs to undo
// partial mutations.
type Step interface {
	Name() string
	Run(ctx context.Context, run *core.Run) error
}

// Executor wraps step execution. It is the single place failures are
// normalized: any error or panic becomes a failed run state, so the
// engine's control flow needs no per-step error branching.
type Executor struct {
	logger *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Execute runs the step against a working copy of the run. On success
// it returns the step's updated run; on any failure it returns a copy
// of the input run moved to failed with the cause recorded. It never
// propagates an error.
func (e *Executor) Execute(ctx context.Context, step Step, run *core.Run) *core.Run {
	working := run.Clone()
	start := time.Now()

	err := e.runStep(ctx, step, working)
	metrics.ObserveStep(step.Name(), time.Since(start), err == nil)

	if err != nil {
		e.logger.Error("step failed",
			slog.String("step", step.Name()),
			slog.String("run_id", string(run.ID)),
			slog.String("error", err.Error()))

		failed := run.Clone()
		failed.Fail(fmt.Errorf("%s: %w", step.Name(), err))
		return failed
	}

	e.logger.Debug("step completed",
		slog.String("step", step.Name()),
		slog.String("run_id", string(run.ID)),
		slog.String("phase", string(working.Phase)))
	return working
}

func (e *Executor) runStep(ctx context.Context, step Step, run *core.Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in step %s: %v", step.Name(), r)
		}
	}()
	return step.Run(ctx, run)
}
