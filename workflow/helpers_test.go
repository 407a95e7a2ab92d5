package workflow_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/xraph/approvals/store/memory"
	"github.com/xraph/approvals/workflow"
)

// noopEmitter implements workflow.RunEmitter with no-ops.
type noopEmitter struct{}

func (noopEmitter) EmitStepCompleted(_ context.Context, _ *workflow.Run, _ string, _ time.Duration) {
}
func (noopEmitter) EmitStepFailed(_ context.Context, _ *workflow.Run, _ string, _ error) {}
func (noopEmitter) EmitWorkflowStarted(_ context.Context, _ *workflow.Run)               {}
func (noopEmitter) EmitWorkflowCompleted(_ context.Context, _ *workflow.Run, _ time.Duration) {
}
func (noopEmitter) EmitWorkflowFailed(_ context.Context, _ *workflow.Run, _ error) {}

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRunner creates a runner over a fresh memory store. Activities
// run once unless opts override the retry policy.
func newTestRunner(opts ...workflow.RunnerOption) (*workflow.Runner, *workflow.Registry, *memory.Store) {
	s := memory.New()
	runner, reg := newTestRunnerWithStore(s, opts...)
	return runner, reg, s
}

// newTestRunnerWithStore creates a runner using an explicit store.
func newTestRunnerWithStore(s *memory.Store, opts ...workflow.RunnerOption) (*workflow.Runner, *workflow.Registry) {
	reg := workflow.NewRegistry()
	base := []workflow.RunnerOption{
		workflow.WithRetryPolicy(workflow.RetryPolicy{MaxAttempts: 1}),
		workflow.WithPollInterval(time.Millisecond),
	}
	runner := workflow.NewRunner(reg, s, s, noopEmitter{}, testLogger(), append(base, opts...)...)
	return runner, reg
}

// waitForState polls until the run reaches want or the deadline passes.
func waitForState(s *memory.Store, run *workflow.Run, want workflow.RunState) *workflow.Run {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.GetRun(context.Background(), run.ID)
		if err == nil && got.State == want {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	got, _ := s.GetRun(context.Background(), run.ID)
	return got
}
