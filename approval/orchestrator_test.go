package approval_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/clock"
	"github.com/xraph/approvals/correlation"
	"github.com/xraph/approvals/store/memory"
	"github.com/xraph/approvals/workflow"
)

// ── Fakes ───────────────────────────────────────────

type fakeNotifier struct {
	mu    sync.Mutex
	calls []approval.Notification
	chans []approval.Channel
	keys  []string
	fail  int
}

func (n *fakeNotifier) SendApprovalRequest(ctx context.Context, ch approval.Channel, msg approval.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keys = append(n.keys, workflow.IdempotencyKey(ctx))
	if n.fail > 0 {
		n.fail--
		return errors.New("smtp unavailable")
	}
	n.calls = append(n.calls, msg)
	n.chans = append(n.chans, ch)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fakeFinalizer struct {
	mu    sync.Mutex
	calls []approval.ResponseMetadata
}

func (f *fakeFinalizer) FinalizeArtifact(_ context.Context, resp approval.ResponseMetadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, resp)
	return resp.ReferenceURL + "#" + string(resp.Status), nil
}

func (f *fakeFinalizer) snapshot() []approval.ResponseMetadata {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]approval.ResponseMetadata(nil), f.calls...)
}

type harness struct {
	store     *memory.Store
	clock     *clock.Fake
	runner    *workflow.Runner
	corr      *correlation.Service
	notifier  *fakeNotifier
	finalizer *fakeFinalizer
	settings  approval.Settings
	decisions chan approval.DecisionEvent
}

func newHarness(t *testing.T, settings approval.Settings) *harness {
	t.Helper()
	h := &harness{
		store:     memory.New(),
		clock:     clock.NewFake(time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)),
		notifier:  &fakeNotifier{},
		finalizer: &fakeFinalizer{},
		settings:  settings,
		decisions: make(chan approval.DecisionEvent, 4),
	}
	h.corr = correlation.NewService(h.store, correlation.WithClock(h.clock), correlation.WithLogger(discard()))
	h.runner = h.newRunner()
	t.Cleanup(func() { _ = h.runner.Stop(context.Background()) })
	return h
}

// newRunner builds a runner over the harness store, as a restarted
// process would.
func (h *harness) newRunner(opts ...workflow.RunnerOption) *workflow.Runner {
	return h.buildRunner(h.store, func(_ context.Context, evt approval.DecisionEvent) { h.decisions <- evt }, opts...)
}

// buildRunner wires an orchestrator with hook over runs persisted in s.
func (h *harness) buildRunner(s workflow.Store, hook approval.DecisionHook, opts ...workflow.RunnerOption) *workflow.Runner {
	reg := workflow.NewRegistry()
	base := []workflow.RunnerOption{
		workflow.WithClock(h.clock),
		workflow.WithRetryPolicy(workflow.RetryPolicy{MaxAttempts: 1}),
		workflow.WithPollInterval(time.Millisecond),
	}
	runner := workflow.NewRunner(reg, s, h.store, nil, discard(), append(base, opts...)...)
	orch := approval.NewOrchestrator(h.corr, h.notifier, h.finalizer,
		func() approval.Settings { return h.settings },
		approval.WithLogger(discard()),
		approval.WithDecisionHook(hook),
	)
	orch.Register(reg)
	return runner
}

func (h *harness) start(t *testing.T, applicant string) *workflow.Run {
	t.Helper()
	run, err := workflow.Spawn(context.Background(), h.runner, approval.WorkflowName, approval.RequestMetadata{
		ApplicantID:     applicant,
		ApplicationName: "portrait.png",
		ReferenceURL:    "mem://localhost/requests/" + applicant + "_-_portrait.png",
		ApprovalType:    "FurryModel",
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return run
}

func (h *harness) waitTerminal(t *testing.T, run *workflow.Run) *workflow.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := h.store.GetRun(context.Background(), run.ID)
		if err == nil && got.Terminal() {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for run to finish")
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fiveMinutes() approval.Settings {
	return approval.Settings{Channel: approval.ChannelEmail, Timeout: 5 * time.Minute}
}

// ── Scenarios ───────────────────────────────────────

func TestOrchestrator_ApprovedBeforeDeadline(t *testing.T) {
	h := newHarness(t, fiveMinutes())
	run := h.start(t, "alice")

	h.clock.WaitForTimers(1)
	h.clock.Advance(2 * time.Minute)
	if err := h.runner.Signal(context.Background(), run.ID, approval.SignalName, []byte("true")); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	final := h.waitTerminal(t, run)
	if final.State != workflow.RunStateCompleted {
		t.Fatalf("state = %s (error %q)", final.State, final.Error)
	}
	if final.CustomStatus != approval.StatusApproved {
		t.Errorf("CustomStatus = %q, want %q", final.CustomStatus, approval.StatusApproved)
	}

	res, err := approval.DecodeResult(final.Output)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if !res.Approved || res.State != approval.StateApproved {
		t.Errorf("result = %+v", res)
	}
	if !res.DecidedAt.Equal(h.clock.Now()) {
		t.Errorf("DecidedAt = %v, want %v", res.DecidedAt, h.clock.Now())
	}

	calls := h.finalizer.snapshot()
	if len(calls) != 1 || calls[0].Status != approval.DecisionApproved {
		t.Errorf("finalize calls = %+v, want one approved", calls)
	}
	if h.notifier.count() != 1 || h.notifier.chans[0] != approval.ChannelEmail {
		t.Errorf("notifier calls = %d chans = %v", h.notifier.count(), h.notifier.chans)
	}

	select {
	case evt := <-h.decisions:
		if evt.State != approval.StateApproved || evt.InstanceID != run.ID.String() {
			t.Errorf("decision event = %+v", evt)
		}
	default:
		t.Error("expected a decision event")
	}

	instance, err := h.corr.Lookup(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if instance != run.ID.String() {
		t.Errorf("correlation = %q, want %q", instance, run.ID.String())
	}
}

func TestOrchestrator_ExplicitRejection(t *testing.T) {
	h := newHarness(t, fiveMinutes())
	run := h.start(t, "dana")

	h.clock.WaitForTimers(1)
	if err := h.runner.Signal(context.Background(), run.ID, approval.SignalName, []byte("false")); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	final := h.waitTerminal(t, run)
	if final.CustomStatus != approval.StatusRejected {
		t.Errorf("CustomStatus = %q, want %q", final.CustomStatus, approval.StatusRejected)
	}
	calls := h.finalizer.snapshot()
	if len(calls) != 1 || calls[0].Status != approval.DecisionRejected {
		t.Errorf("finalize calls = %+v, want one rejected", calls)
	}
}

func TestOrchestrator_TimesOut(t *testing.T) {
	h := newHarness(t, fiveMinutes())
	run := h.start(t, "bob")

	h.clock.WaitForTimers(1)
	h.clock.Advance(5 * time.Minute)

	final := h.waitTerminal(t, run)
	if final.State != workflow.RunStateCompleted {
		t.Fatalf("state = %s (error %q)", final.State, final.Error)
	}
	if final.CustomStatus != approval.StatusTimedOut {
		t.Errorf("CustomStatus = %q, want %q", final.CustomStatus, approval.StatusTimedOut)
	}
	res, _ := approval.DecodeResult(final.Output)
	if res == nil || res.Approved || res.State != approval.StateTimedOut {
		t.Errorf("result = %+v", res)
	}
	calls := h.finalizer.snapshot()
	if len(calls) != 1 || calls[0].Status != approval.DecisionRejected {
		t.Errorf("finalize calls = %+v, want one rejected", calls)
	}

	// The losing signal side is gone; a late response is refused, not fatal.
	err := h.runner.Signal(context.Background(), run.ID, approval.SignalName, []byte("true"))
	if !errors.Is(err, approvals.ErrRunNotRunning) {
		t.Errorf("late Signal err = %v, want ErrRunNotRunning", err)
	}
}

func TestOrchestrator_InvalidSignalFailsRun(t *testing.T) {
	h := newHarness(t, fiveMinutes())
	run := h.start(t, "erin")

	h.clock.WaitForTimers(1)
	if err := h.runner.Signal(context.Background(), run.ID, approval.SignalName, []byte(`"yes"`)); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	final := h.waitTerminal(t, run)
	if final.State != workflow.RunStateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if len(h.finalizer.snapshot()) != 0 {
		t.Error("finalizer must not run for an invalid signal")
	}
}

func TestOrchestrator_SettingsAreRecorded(t *testing.T) {
	h := newHarness(t, approval.Settings{Channel: approval.ChannelSlack, Timeout: time.Minute})
	run := h.start(t, "frank")
	h.clock.WaitForTimers(1)

	// A configuration change mid-flight must not move the deadline.
	h.settings = approval.Settings{Channel: approval.ChannelEmail, Timeout: time.Hour}
	h.clock.Advance(time.Minute)

	final := h.waitTerminal(t, run)
	if final.CustomStatus != approval.StatusTimedOut {
		t.Errorf("CustomStatus = %q, want timed out", final.CustomStatus)
	}
	if h.notifier.chans[0] != approval.ChannelSlack {
		t.Errorf("channel = %q, want slack", h.notifier.chans[0])
	}
}

// ── Durability ──────────────────────────────────────

func TestOrchestrator_ResumeAfterRestartDoesNotRenotify(t *testing.T) {
	h := newHarness(t, fiveMinutes())
	run := h.start(t, "gina")
	h.clock.WaitForTimers(1)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.runner.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	restarted := h.newRunner()
	defer func() { _ = restarted.Stop(context.Background()) }()
	if err := restarted.ResumeAll(context.Background()); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	h.clock.WaitForTimers(1)
	if err := restarted.Signal(context.Background(), run.ID, approval.SignalName, []byte("true")); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	final := h.waitTerminal(t, run)
	if final.CustomStatus != approval.StatusApproved {
		t.Errorf("CustomStatus = %q, want approved", final.CustomStatus)
	}
	if n := h.notifier.count(); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
	history, _ := h.corr.History(context.Background(), "gina")
	if len(history) != 1 {
		t.Errorf("correlation records = %d, want 1", len(history))
	}
}

func TestOrchestrator_SignalAfterDeadlineWhileDownTimesOut(t *testing.T) {
	h := newHarness(t, fiveMinutes())
	run := h.start(t, "gail")
	h.clock.WaitForTimers(1)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.runner.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The deadline passes while no process is running; the approver
	// answers at t=10m and only then does the run resume.
	h.clock.Advance(10 * time.Minute)
	restarted := h.newRunner()
	defer func() { _ = restarted.Stop(context.Background()) }()
	if err := restarted.Signal(context.Background(), run.ID, approval.SignalName, []byte("true")); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if err := restarted.ResumeAll(context.Background()); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}

	final := h.waitTerminal(t, run)
	if final.CustomStatus != approval.StatusTimedOut {
		t.Errorf("CustomStatus = %q, want %q", final.CustomStatus, approval.StatusTimedOut)
	}
	res, _ := approval.DecodeResult(final.Output)
	if res == nil || res.Approved {
		t.Errorf("result = %+v, want not approved", res)
	}
	calls := h.finalizer.snapshot()
	if len(calls) != 1 || calls[0].Status != approval.DecisionRejected {
		t.Errorf("finalize calls = %+v, want one rejected", calls)
	}
}

func TestOrchestrator_InterruptedDecisionHookIsRedelivered(t *testing.T) {
	h := newHarness(t, fiveMinutes())

	// The first process is stopped while delivering the decision.
	_ = h.runner.Stop(context.Background())
	inHook := make(chan struct{})
	h.runner = h.buildRunner(h.store, func(ctx context.Context, _ approval.DecisionEvent) {
		close(inHook)
		<-ctx.Done()
	})
	run := h.start(t, "hugo")
	h.clock.WaitForTimers(1)
	if err := h.runner.Signal(context.Background(), run.ID, approval.SignalName, []byte("true")); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	select {
	case <-inHook:
	case <-time.After(5 * time.Second):
		t.Fatal("decision hook not called")
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.runner.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got, _ := h.store.GetRun(context.Background(), run.ID); got.Terminal() {
		t.Fatalf("run finished despite interrupted hook: %s", got.State)
	}

	restarted := h.newRunner()
	defer func() { _ = restarted.Stop(context.Background()) }()
	if err := restarted.ResumeAll(context.Background()); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	h.waitTerminal(t, run)

	select {
	case evt := <-h.decisions:
		if evt.InstanceID != run.ID.String() || evt.State != approval.StateApproved {
			t.Errorf("decision = %+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("decision not redelivered after restart")
	}
	if n := len(h.finalizer.snapshot()); n != 1 {
		t.Errorf("finalize calls = %d, want 1", n)
	}
}

// statusRecorder captures every custom status written to the store.
type statusRecorder struct {
	*memory.Store
	mu       sync.Mutex
	statuses []string
}

func (s *statusRecorder) UpdateRun(ctx context.Context, run *workflow.Run) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, run.CustomStatus)
	s.mu.Unlock()
	return s.Store.UpdateRun(ctx, run)
}

func (s *statusRecorder) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statuses...)
}

func TestOrchestrator_ResumeKeepsLatestCustomStatus(t *testing.T) {
	h := newHarness(t, fiveMinutes())
	run := h.start(t, "iris")
	h.clock.WaitForTimers(1)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.runner.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	rec := &statusRecorder{Store: h.store}
	restarted := h.buildRunner(rec, func(context.Context, approval.DecisionEvent) {})
	defer func() { _ = restarted.Stop(context.Background()) }()
	if err := restarted.ResumeAll(context.Background()); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	h.clock.WaitForTimers(1)

	for _, st := range rec.written() {
		if st != approval.StatusInReview {
			t.Errorf("resume wrote custom status %q, want only %q", st, approval.StatusInReview)
		}
	}
	got, err := h.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.CustomStatus != approval.StatusInReview {
		t.Errorf("CustomStatus = %q, want %q", got.CustomStatus, approval.StatusInReview)
	}
}

func TestOrchestrator_ReplayIsDeterministic(t *testing.T) {
	h := newHarness(t, fiveMinutes())
	run := h.start(t, "hank")
	h.clock.WaitForTimers(1)
	if err := h.runner.Signal(context.Background(), run.ID, approval.SignalName, []byte("true")); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	final := h.waitTerminal(t, run)
	<-h.decisions

	// Re-running a finished history reproduces it without side effects.
	report, err := h.runner.Replay(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !report.Complete {
		t.Errorf("replay incomplete: %+v", report)
	}
	want := []string{
		"side-effect:settings",
		"persist-correlation",
		"send-approval-request:email",
		"side-effect:now:deadline",
		"wait:" + approval.SignalName,
		"side-effect:now:decided",
		"publish-decision",
		"finalize-artifact",
	}
	if len(report.Steps) != len(want) {
		t.Fatalf("steps = %v, want %v", report.Steps, want)
	}
	for i := range want {
		if report.Steps[i] != want[i] {
			t.Errorf("step %d = %q, want %q", i, report.Steps[i], want[i])
		}
	}

	// A full resume of the same history issues nothing new either.
	final.State = workflow.RunStateRunning
	final.CompletedAt = nil
	if err := h.store.UpdateRun(context.Background(), final); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if err := h.runner.Resume(context.Background(), run.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if h.notifier.count() != 1 || len(h.finalizer.snapshot()) != 1 {
		t.Errorf("notify=%d finalize=%d, want 1 each", h.notifier.count(), len(h.finalizer.snapshot()))
	}
	select {
	case evt := <-h.decisions:
		t.Errorf("decision hook fired again on replay: %+v", evt)
	default:
	}
}

func TestOrchestrator_NotifierRetriedWithSameKey(t *testing.T) {
	h := newHarness(t, fiveMinutes())
	h.notifier.fail = 1
	h.runner = h.newRunner(workflow.WithRetryPolicy(workflow.RetryPolicy{MaxAttempts: 2}))

	run := h.start(t, "ivy")
	h.clock.WaitForTimers(1)
	h.clock.Advance(5 * time.Minute)
	h.waitTerminal(t, run)

	if len(h.notifier.keys) != 2 || h.notifier.keys[0] != h.notifier.keys[1] || h.notifier.keys[0] == "" {
		t.Errorf("idempotency keys = %v, want two identical keys", h.notifier.keys)
	}
	if h.notifier.count() != 1 {
		t.Errorf("delivered = %d, want 1", h.notifier.count())
	}
}
