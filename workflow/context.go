package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/approvals/clock"
	"github.com/xraph/approvals/event"
	"github.com/xraph/approvals/id"
)

// StepEmitter is called by the Workflow to emit step lifecycle events.
// This interface is satisfied by ext.Registry (via an adapter in the
// engine package) to break the import cycle between workflow and ext.
type StepEmitter interface {
	EmitStepCompleted(ctx context.Context, run *Run, stepName string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, run *Run, stepName string, err error)
}

// Workflow is the execution context passed to workflow handler functions.
// Every method that observes the outside world records its result, so
// re-running the handler against the same history takes the same path.
type Workflow struct {
	ctx         context.Context
	run         *Run
	store       Store
	bus         *event.Bus
	emitter     StepEmitter
	logger      *slog.Logger
	clock       clock.Clock
	retry       RetryPolicy
	interceptor Interceptor

	// replaying is true until the first step misses its checkpoint.
	replaying bool
	// strict forbids live execution; a missing checkpoint ends the replay.
	strict bool
	steps  []string
}

// Context returns the underlying context.Context.
func (w *Workflow) Context() context.Context { return w.ctx }

// RunID returns the workflow run ID.
func (w *Workflow) RunID() id.RunID { return w.run.ID }

// Run returns the workflow run.
func (w *Workflow) Run() *Run { return w.run }

// Logger returns the run-scoped logger.
func (w *Workflow) Logger() *slog.Logger { return w.logger }

// IsReplaying reports whether the handler is still re-executing recorded
// history. Handlers use it to suppress duplicate log lines.
func (w *Workflow) IsReplaying() bool { return w.replaying }

// SetCustomStatus records human-readable progress on the run. It never
// influences control flow. While replaying only the in-memory run is
// updated; the latest status is persisted once replay ends, so a resumed
// run never reports an earlier status.
func (w *Workflow) SetCustomStatus(status string) error {
	w.run.CustomStatus = status
	if w.strict || w.replaying {
		return nil
	}
	return w.persistStatus()
}

func (w *Workflow) persistStatus() error {
	if err := w.store.UpdateRun(w.ctx, w.run); err != nil {
		return fmt.Errorf("workflow %s: set custom status: %w", w.run.Name, err)
	}
	return nil
}

// SetOutput stores v, JSON-encoded, as the run's output.
func (w *Workflow) SetOutput(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("workflow %s: encode output: %w", w.run.Name, err)
	}
	w.run.Output = data
	return nil
}

// lookup fetches the checkpoint for step and tracks replay progress.
func (w *Workflow) lookup(step string) ([]byte, error) {
	w.steps = append(w.steps, step)

	data, err := w.store.GetCheckpoint(w.ctx, w.run.ID, step)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: get checkpoint %q: %w", w.run.Name, step, err)
	}
	if data != nil {
		w.logger.Debug("replaying checkpointed step",
			slog.String("run_id", w.run.ID.String()),
			slog.String("step", step),
		)
		return data, nil
	}
	if w.strict {
		return nil, &historyEndError{step: step}
	}
	if w.replaying {
		w.replaying = false
		if err := w.persistStatus(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (w *Workflow) save(step string, data []byte) error {
	if err := w.store.SaveCheckpoint(w.ctx, w.run.ID, step, data); err != nil {
		return fmt.Errorf("workflow %s: save checkpoint %q: %w", w.run.Name, step, err)
	}
	return nil
}

// historyEndError stops a strict replay at the first unrecorded step.
type historyEndError struct{ step string }

func (e *historyEndError) Error() string {
	return fmt.Sprintf("history ends before step %q", e.step)
}
