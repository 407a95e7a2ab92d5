package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/clock"
	"github.com/xraph/approvals/engine"
	"github.com/xraph/approvals/id"
	"github.com/xraph/approvals/store/memory"
	"github.com/xraph/approvals/workflow"
)

// ──────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────

type recordingNotifier struct {
	mu    sync.Mutex
	calls []approval.Notification
}

func (n *recordingNotifier) SendApprovalRequest(_ context.Context, _ approval.Channel, msg approval.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, msg)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type recordingFinalizer struct {
	mu    sync.Mutex
	calls []approval.ResponseMetadata
}

func (f *recordingFinalizer) FinalizeArtifact(_ context.Context, resp approval.ResponseMetadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, resp)
	return resp.ReferenceURL + "?" + string(resp.Status), nil
}

func (f *recordingFinalizer) snapshot() []approval.ResponseMetadata {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]approval.ResponseMetadata(nil), f.calls...)
}

type decisionExt struct {
	mu        sync.Mutex
	decisions []approval.DecisionEvent
	shutdowns int
}

func (e *decisionExt) Name() string { return "decision-recorder" }

func (e *decisionExt) OnApprovalDecided(_ context.Context, evt approval.DecisionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decisions = append(e.decisions, evt)
	return nil
}

func (e *decisionExt) OnShutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdowns++
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

var epoch = time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig() approvals.Config {
	cfg := approvals.DefaultConfig()
	cfg.Workflow.MeansOfApproval = "email"
	cfg.Workflow.TimeoutMinutes = "5"
	cfg.Workflow.MaxAttempts = 1
	return cfg
}

type fixture struct {
	store     *memory.Store
	clock     *clock.Fake
	notifier  *recordingNotifier
	finalizer *recordingFinalizer
	ext       *decisionExt
	eng       *engine.Engine
}

func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.New(),
		clock:     clock.NewFake(epoch),
		notifier:  &recordingNotifier{},
		finalizer: &recordingFinalizer{},
		ext:       &decisionExt{},
	}
	f.eng = f.newEngine(t, f.clock, opts...)
	return f
}

// newEngine builds an engine over the fixture store, as a restarted
// process would.
func (f *fixture) newEngine(t *testing.T, c clock.Clock, opts ...engine.Option) *engine.Engine {
	t.Helper()
	base := []engine.Option{
		engine.WithConfig(testConfig()),
		engine.WithLogger(discard()),
		engine.WithClock(c),
		engine.WithNotifier(f.notifier),
		engine.WithFinalizer(f.finalizer),
		engine.WithExtension(f.ext),
		engine.WithPollInterval(time.Millisecond),
	}
	eng, err := engine.New(f.store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
	return eng
}

func request(applicant string) approval.RequestMetadata {
	return approval.RequestMetadata{
		ApplicantID:     applicant,
		ApplicationName: "portrait.png",
		ReferenceURL:    "file:///tmp/approvals/requests/" + applicant + "_-_portrait.png",
		ApprovalType:    "FurryModel",
	}
}

func waitTerminal(t *testing.T, eng *engine.Engine, runID id.RunID) *workflow.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := eng.GetRun(context.Background(), runID)
		if err == nil && run.Terminal() {
			return run
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for run to finish")
	return nil
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestNew_NilStore(t *testing.T) {
	if _, err := engine.New(nil); !errors.Is(err, approvals.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestEngine_ApproveEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.eng.StartWorkflow(ctx, request("alice"))
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	if run.Name != approval.WorkflowName {
		t.Errorf("run.Name = %q, want %q", run.Name, approval.WorkflowName)
	}

	f.clock.WaitForTimers(1)
	st, err := f.eng.GetStatus(ctx, "alice")
	if err != nil {
		t.Fatalf("GetStatus while waiting: %v", err)
	}
	if st.InstanceID != run.ID.String() || st.RuntimeStatus != "Running" || st.CustomStatus != approval.StatusInReview {
		t.Errorf("status while waiting = %+v", st)
	}

	if err := f.eng.ReceiveApprovalResponse(ctx, run.ID, true); err != nil {
		t.Fatalf("ReceiveApprovalResponse: %v", err)
	}
	final := waitTerminal(t, f.eng, run.ID)
	if final.State != workflow.RunStateCompleted {
		t.Fatalf("state = %s (error %q)", final.State, final.Error)
	}

	res, err := f.eng.Result(ctx, run.ID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if !res.Approved || res.Status != approval.StatusApproved {
		t.Errorf("result = %+v", res)
	}

	st, err = f.eng.GetStatus(ctx, "alice")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.RuntimeStatus != "Completed" || st.CustomStatus != approval.StatusApproved {
		t.Errorf("final status = %+v", st)
	}

	calls := f.finalizer.snapshot()
	if len(calls) != 1 || calls[0].Status != approval.DecisionApproved {
		t.Errorf("finalize calls = %+v", calls)
	}
	if f.notifier.count() != 1 || f.notifier.calls[0].Timeout != 5*time.Minute {
		t.Errorf("notifications = %+v", f.notifier.calls)
	}

	f.ext.mu.Lock()
	decisions := len(f.ext.decisions)
	f.ext.mu.Unlock()
	if decisions != 1 {
		t.Errorf("ApprovalDecided hooks = %d, want 1", decisions)
	}
}

func TestEngine_TimeoutRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.eng.StartWorkflow(ctx, request("bob"))
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	f.clock.WaitForTimers(1)
	f.clock.Advance(5 * time.Minute)

	final := waitTerminal(t, f.eng, run.ID)
	if final.CustomStatus != approval.StatusTimedOut {
		t.Errorf("CustomStatus = %q, want %q", final.CustomStatus, approval.StatusTimedOut)
	}
	calls := f.finalizer.snapshot()
	if len(calls) != 1 || calls[0].Status != approval.DecisionRejected {
		t.Errorf("finalize calls = %+v", calls)
	}

	err = f.eng.ReceiveApprovalResponse(ctx, run.ID, true)
	if !errors.Is(err, approvals.ErrRunNotRunning) {
		t.Errorf("late response err = %v, want ErrRunNotRunning", err)
	}
}

func TestEngine_ResponseForUnknownRun(t *testing.T) {
	f := newFixture(t)
	err := f.eng.ReceiveApprovalResponse(context.Background(), id.NewRunID(), true)
	if !errors.Is(err, approvals.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestEngine_GetStatusErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.eng.GetStatus(ctx, ""); !errors.Is(err, approvals.ErrMissingEntityID) {
		t.Errorf("empty id: got %v", err)
	}
	if _, err := f.eng.GetStatus(ctx, "nobody"); !errors.Is(err, approvals.ErrEntityNotFound) {
		t.Errorf("unknown id: got %v", err)
	}
}

func TestEngine_ResultWhileRunning(t *testing.T) {
	f := newFixture(t)
	run, err := f.eng.StartWorkflow(context.Background(), request("carol"))
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	f.clock.WaitForTimers(1)
	if _, err := f.eng.Result(context.Background(), run.ID); !errors.Is(err, approvals.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestEngine_ResumesAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.eng.StartWorkflow(ctx, request("dana"))
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	f.clock.WaitForTimers(1)

	if err := f.eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	interrupted, err := f.store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if interrupted.State != workflow.RunStateRunning {
		t.Fatalf("state after stop = %s, want running", interrupted.State)
	}

	// A second process picks the run up from history.
	c2 := clock.NewFake(epoch.Add(time.Minute))
	eng2 := f.newEngine(t, c2)
	c2.WaitForTimers(1)

	if err := eng2.ReceiveApprovalResponse(ctx, run.ID, false); err != nil {
		t.Fatalf("ReceiveApprovalResponse: %v", err)
	}
	final := waitTerminal(t, eng2, run.ID)
	if final.CustomStatus != approval.StatusRejected {
		t.Errorf("CustomStatus = %q, want %q", final.CustomStatus, approval.StatusRejected)
	}
	if n := f.notifier.count(); n != 1 {
		t.Errorf("notifications = %d, want 1 (the resumed run must not re-notify)", n)
	}

	f.ext.mu.Lock()
	shutdowns := f.ext.shutdowns
	f.ext.mu.Unlock()
	if shutdowns < 1 {
		t.Error("expected the Shutdown hook on Stop")
	}
}

func TestEngine_MeterProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	f := newFixture(t, engine.WithMeterProvider(mp))
	ctx := context.Background()

	run, err := f.eng.StartWorkflow(ctx, request("erin"))
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	f.clock.WaitForTimers(1)
	if err := f.eng.ReceiveApprovalResponse(ctx, run.ID, true); err != nil {
		t.Fatalf("ReceiveApprovalResponse: %v", err)
	}
	waitTerminal(t, f.eng, run.ID)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := map[string]bool{
		"approvals.workflow.started":    false,
		"approvals.activity.executions": false,
		"approvals.decided":             false,
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if _, ok := want[m.Name]; ok {
				want[m.Name] = true
			}
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %q not recorded", name)
		}
	}
}
