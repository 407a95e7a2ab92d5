package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/id"
)

// TimelineEntry represents a single recorded step in a run's history.
type TimelineEntry struct {
	StepName  string `json:"step_name"`
	Data      []byte `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GetTimeline returns the run's checkpoints in the order they were
// recorded.
func (r *Runner) GetTimeline(ctx context.Context, runID id.RunID) ([]TimelineEntry, error) {
	checkpoints, err := r.store.ListCheckpoints(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for run %s: %w", runID, err)
	}

	entries := make([]TimelineEntry, len(checkpoints))
	for i, cp := range checkpoints {
		entries[i] = TimelineEntry{
			StepName:  cp.StepName,
			Data:      cp.Data,
			CreatedAt: cp.CreatedAt,
		}
	}
	return entries, nil
}

// InspectStep returns the raw checkpoint data for a specific step.
func (r *Runner) InspectStep(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	data, err := r.store.GetCheckpoint(ctx, runID, stepName)
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %q for run %s: %w", stepName, runID, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: step %q for run %s", approvals.ErrCheckpointNotFound, stepName, runID)
	}
	return data, nil
}

// ReplayReport describes a strict replay of a run's history.
type ReplayReport struct {
	// Steps lists every step the handler reached, in order.
	Steps []string `json:"steps"`
	// Complete is true when the handler returned without reaching an
	// unrecorded step.
	Complete bool `json:"complete"`
	// Error is the handler's own error, if it returned one.
	Error string `json:"error,omitempty"`
}

// Replay re-executes the handler of runID against its recorded history
// without running any activity, waiting on any event or writing to the
// store. Replay stops at the first step with no checkpoint. A handler
// that reaches a different step sequence than the one it recorded
// returns ErrHistoryDiverged.
func (r *Runner) Replay(ctx context.Context, runID id.RunID) (*ReplayReport, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	fn, ok := r.registry.GetVersion(run.Name, run.Version)
	if !ok {
		return nil, fmt.Errorf("%w: %q version %d (run %s)", approvals.ErrWorkflowNotFound, run.Name, run.Version, runID)
	}
	cps, err := r.store.ListCheckpoints(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for run %s: %w", runID, err)
	}

	wf := &Workflow{
		ctx:       ctx,
		run:       run,
		store:     r.store,
		bus:       r.bus,
		emitter:   nopEmitter{},
		logger:    r.logger.With(slog.String("run_id", run.ID.String()), slog.Bool("replay", true)),
		clock:     r.clock,
		retry:     RetryPolicy{MaxAttempts: 1},
		replaying: true,
		strict:    true,
	}

	report := &ReplayReport{}
	hErr := fn(wf, run.Input)
	var end *historyEndError
	switch {
	case errors.As(hErr, &end):
		// Last entry is the unrecorded step.
		report.Steps = wf.steps[:len(wf.steps)-1]
	case hErr != nil:
		report.Steps = wf.steps
		report.Complete = true
		report.Error = hErr.Error()
	default:
		report.Steps = wf.steps
		report.Complete = true
	}

	// Every recorded checkpoint must be reached, in recorded order.
	if len(report.Steps) != len(cps) {
		return report, fmt.Errorf("%w: run %s reached %d recorded steps, history has %d", approvals.ErrHistoryDiverged, runID, len(report.Steps), len(cps))
	}
	for i, step := range report.Steps {
		if cps[i].StepName != step {
			return report, fmt.Errorf("%w: run %s step %d is %q, recorded %q", approvals.ErrHistoryDiverged, runID, i, step, cps[i].StepName)
		}
	}
	return report, nil
}
