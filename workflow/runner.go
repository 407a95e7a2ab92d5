package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/clock"
	"github.com/xraph/approvals/event"
	"github.com/xraph/approvals/id"
)

// RunEmitter emits workflow-level lifecycle events.
// This interface is satisfied by ext.Registry (via an adapter in the
// engine package) to break the import cycle between workflow and ext.
type RunEmitter interface {
	StepEmitter
	EmitWorkflowStarted(ctx context.Context, run *Run)
	EmitWorkflowCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitWorkflowFailed(ctx context.Context, run *Run, err error)
}

type nopEmitter struct{}

func (nopEmitter) EmitStepCompleted(context.Context, *Run, string, time.Duration) {}
func (nopEmitter) EmitStepFailed(context.Context, *Run, string, error)            {}
func (nopEmitter) EmitWorkflowStarted(context.Context, *Run)                      {}
func (nopEmitter) EmitWorkflowCompleted(context.Context, *Run, time.Duration)     {}
func (nopEmitter) EmitWorkflowFailed(context.Context, *Run, error)                {}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock sets the clock used for recorded timestamps and event deadlines.
func WithClock(c clock.Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithRetryPolicy sets the activity retry policy.
func WithRetryPolicy(p RetryPolicy) RunnerOption {
	return func(r *Runner) { r.retry = p }
}

// WithInterceptor wraps every activity execution.
func WithInterceptor(i Interceptor) RunnerOption {
	return func(r *Runner) { r.interceptor = i }
}

// WithPollInterval sets how often a waiting run polls the event store.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.pollInterval = d }
}

// Runner orchestrates workflow execution: creating runs, building
// the Workflow context, invoking handlers, and managing state.
type Runner struct {
	registry     *Registry
	store        Store
	bus          *event.Bus
	emitter      RunEmitter
	logger       *slog.Logger
	clock        clock.Clock
	retry        RetryPolicy
	interceptor  Interceptor
	pollInterval time.Duration

	// lifetime bounds spawned runs; Stop cancels it.
	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu     sync.Mutex
	active map[id.RunID]struct{}
}

// NewRunner creates a workflow runner.
func NewRunner(
	registry *Registry,
	store Store,
	eventStore event.Store,
	emitter RunEmitter,
	logger *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		registry:     registry,
		store:        store,
		emitter:      emitter,
		logger:       logger,
		clock:        clock.Real{},
		retry:        DefaultRetryPolicy(),
		pollInterval: event.DefaultPollInterval,
		active:       make(map[id.RunID]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.emitter == nil {
		r.emitter = nopEmitter{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.bus = event.NewBus(eventStore,
		event.WithPollInterval(r.pollInterval),
		event.WithNow(r.clock.Now),
	)
	r.lifetime, r.cancel = context.WithCancel(context.Background())
	return r
}

// Registry returns the workflow registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Bus returns the event bus used for signals.
func (r *Runner) Bus() *event.Bus { return r.bus }

// Start starts a new workflow run with a typed input and executes it
// synchronously. The input is JSON-marshaled and stored on the Run.
func Start[T any](ctx context.Context, runner *Runner, name string, input T) (*Run, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for workflow %q: %w", name, err)
	}
	return runner.StartRaw(ctx, name, data)
}

// Spawn starts a new workflow run with a typed input and returns as soon
// as the run is persisted. The handler executes in the background until
// it finishes or the runner stops.
func Spawn[T any](ctx context.Context, runner *Runner, name string, input T) (*Run, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for workflow %q: %w", name, err)
	}
	return runner.SpawnRaw(ctx, name, data)
}

// StartRaw starts a workflow run with pre-serialized JSON input and
// blocks until the handler returns. The run is stamped with the latest
// registered version.
func (r *Runner) StartRaw(ctx context.Context, name string, input []byte) (*Run, error) {
	run, fn, err := r.createRun(ctx, name, input)
	if err != nil {
		return nil, err
	}
	r.claim(run.ID)
	r.executeRun(ctx, run, fn)
	return run, nil
}

// SpawnRaw is the untyped form of Spawn.
func (r *Runner) SpawnRaw(ctx context.Context, name string, input []byte) (*Run, error) {
	run, fn, err := r.createRun(ctx, name, input)
	if err != nil {
		return nil, err
	}
	r.claim(run.ID)
	snapshot := *run
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.executeRun(r.lifetime, run, fn)
	}()
	return &snapshot, nil
}

func (r *Runner) createRun(ctx context.Context, name string, input []byte) (*Run, RunnerFunc, error) {
	fn, ok := r.registry.Get(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", approvals.ErrWorkflowNotFound, name)
	}

	now := r.clock.Now().UTC()
	run := &Run{
		Entity:    approvals.NewEntity(),
		ID:        id.NewRunID(),
		Name:      name,
		State:     RunStateRunning,
		Input:     input,
		Version:   r.registry.LatestVersion(name),
		StartedAt: now,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("create run for workflow %q: %w", name, err)
	}

	r.emitter.EmitWorkflowStarted(ctx, run)
	return run, fn, nil
}

// claim marks runID as executing in this process. It reports false if
// another goroutine already owns the run.
func (r *Runner) claim(runID id.RunID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[runID]; ok {
		return false
	}
	r.active[runID] = struct{}{}
	return true
}

func (r *Runner) release(runID id.RunID) {
	r.mu.Lock()
	delete(r.active, runID)
	r.mu.Unlock()
}

// Active reports whether runID is executing in this process.
func (r *Runner) Active(runID id.RunID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[runID]
	return ok
}

// executeRun runs the workflow handler and handles completion/failure.
// A handler interrupted by cancellation leaves the run in the running
// state so that Resume can pick it up later.
func (r *Runner) executeRun(ctx context.Context, run *Run, fn RunnerFunc) {
	defer r.release(run.ID)

	start := time.Now()

	cps, err := r.store.ListCheckpoints(ctx, run.ID)
	if err != nil {
		r.logger.Error("failed to load checkpoints",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	wf := &Workflow{
		ctx:         ctx,
		run:         run,
		store:       r.store,
		bus:         r.bus,
		emitter:     r.emitter,
		logger:      r.logger.With(slog.String("run_id", run.ID.String()), slog.String("workflow", run.Name)),
		clock:       r.clock,
		retry:       r.retry,
		interceptor: r.interceptor,
		replaying:   len(cps) > 0,
	}

	err = fn(wf, run.Input)
	elapsed := time.Since(start)

	if err != nil && ctx.Err() != nil && !IsNonRetryable(err) {
		r.logger.Info("workflow run interrupted",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	// A cancelled caller context must not prevent recording the outcome.
	saveCtx := context.WithoutCancel(ctx)
	now := r.clock.Now().UTC()

	if err != nil {
		run.State = RunStateFailed
		run.Error = err.Error()
		run.CompletedAt = &now
		if updateErr := r.store.UpdateRun(saveCtx, run); updateErr != nil {
			r.logger.Error("failed to update run as failed",
				slog.String("run_id", run.ID.String()),
				slog.String("error", updateErr.Error()),
			)
		}
		r.emitter.EmitWorkflowFailed(saveCtx, run, err)
		return
	}

	run.State = RunStateCompleted
	run.CompletedAt = &now
	if updateErr := r.store.UpdateRun(saveCtx, run); updateErr != nil {
		r.logger.Error("failed to update run as completed",
			slog.String("run_id", run.ID.String()),
			slog.String("error", updateErr.Error()),
		)
	}
	r.emitter.EmitWorkflowCompleted(saveCtx, run, elapsed)
}

// Resume re-executes a run that is still in the running state, typically
// after a process restart. Steps with checkpoints are skipped; the run
// continues on its stamped version. Resume blocks until the handler
// returns.
func (r *Runner) Resume(ctx context.Context, runID id.RunID) error {
	run, fn, err := r.prepareResume(ctx, runID)
	if err != nil {
		return err
	}
	r.executeRun(ctx, run, fn)
	return nil
}

// SpawnResume is like Resume but executes the run in the background.
func (r *Runner) SpawnResume(ctx context.Context, runID id.RunID) error {
	run, fn, err := r.prepareResume(ctx, runID)
	if err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.executeRun(r.lifetime, run, fn)
	}()
	return nil
}

func (r *Runner) prepareResume(ctx context.Context, runID id.RunID) (*Run, RunnerFunc, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if run.State != RunStateRunning {
		return nil, nil, fmt.Errorf("%w: run %s is %q", approvals.ErrRunNotRunning, runID, run.State)
	}

	// Use version-aware lookup so existing runs continue on their version.
	fn, ok := r.registry.GetVersion(run.Name, run.Version)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q version %d (run %s)", approvals.ErrWorkflowNotFound, run.Name, run.Version, runID)
	}
	if !r.claim(run.ID) {
		return nil, nil, fmt.Errorf("%w: run %s is already executing", approvals.ErrInvalidState, runID)
	}
	return run, fn, nil
}

// ResumeAll finds all runs in the running state and spawns each one.
// Called at startup for crash recovery. Runs already executing in this
// process are skipped.
func (r *Runner) ResumeAll(ctx context.Context) error {
	runs, err := r.store.ListRuns(ctx, ListOpts{State: RunStateRunning})
	if err != nil {
		return fmt.Errorf("list running workflow runs: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(8)
	for _, run := range runs {
		if r.Active(run.ID) {
			continue
		}
		g.Go(func() error {
			r.logger.Info("resuming workflow run",
				slog.String("run_id", run.ID.String()),
				slog.String("workflow", run.Name),
			)
			if resumeErr := r.SpawnResume(ctx, run.ID); resumeErr != nil && !errors.Is(resumeErr, approvals.ErrInvalidState) {
				r.logger.Error("failed to resume workflow run",
					slog.String("run_id", run.ID.String()),
					slog.String("error", resumeErr.Error()),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

// Signal delivers a named event to a running workflow. Signals sent
// before the workflow waits are retained and consumed by the first
// matching wait.
func (r *Runner) Signal(ctx context.Context, runID id.RunID, name string, payload []byte) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	if run.Terminal() {
		return fmt.Errorf("%w: run %s is %q", approvals.ErrRunNotRunning, runID, run.State)
	}
	if _, err := r.bus.Publish(ctx, runID, name, payload); err != nil {
		return fmt.Errorf("signal %q to run %s: %w", name, runID, err)
	}
	return nil
}

// GetRun returns the persisted state of a run.
func (r *Runner) GetRun(ctx context.Context, runID id.RunID) (*Run, error) {
	return r.store.GetRun(ctx, runID)
}

// Stop cancels spawned runs and waits for them to return or for ctx to
// expire. Interrupted runs stay in the running state.
func (r *Runner) Stop(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
