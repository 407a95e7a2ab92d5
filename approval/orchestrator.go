package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/workflow"
)

// Correlator records which instance serves an entity.
type Correlator interface {
	Persist(ctx context.Context, entityID, instanceID string) (string, error)
}

// Notifier dispatches the approval request to a human.
type Notifier interface {
	SendApprovalRequest(ctx context.Context, channel Channel, n Notification) error
}

// Finalizer relocates the artifact according to the decision and returns
// its final location.
type Finalizer interface {
	FinalizeArtifact(ctx context.Context, resp ResponseMetadata) (string, error)
}

// SettingsFunc reads the current configuration.
type SettingsFunc func() Settings

// DecisionHook observes resolved races.
type DecisionHook func(ctx context.Context, evt DecisionEvent)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithDecisionHook registers fn to observe decisions.
func WithDecisionHook(fn DecisionHook) Option { return func(o *Orchestrator) { o.onDecision = fn } }

// Orchestrator drives one approval instance from receipt to finalization
// on top of the workflow host.
type Orchestrator struct {
	correlator Correlator
	notifier   Notifier
	finalizer  Finalizer
	settings   SettingsFunc
	logger     *slog.Logger
	onDecision DecisionHook
}

// NewOrchestrator wires the collaborators. settings is consulted once per
// instance.
func NewOrchestrator(c Correlator, n Notifier, f Finalizer, settings SettingsFunc, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		correlator: c,
		notifier:   n,
		finalizer:  f,
		settings:   settings,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SettingsFromConfig adapts the workflow section of cfg.
func SettingsFromConfig(cfg approvals.WorkflowConfig) Settings {
	return Settings{
		Channel: ParseChannel(cfg.MeansOfApproval),
		Timeout: cfg.TimeoutDuration(),
	}
}

// Definition returns the workflow definition for the orchestrator.
func (o *Orchestrator) Definition() *workflow.Definition[RequestMetadata] {
	return workflow.NewWorkflow(WorkflowName, func(wf *workflow.Workflow, req RequestMetadata) error {
		_, err := o.Run(wf, req)
		return err
	})
}

// Register adds the orchestrator to reg.
func (o *Orchestrator) Register(reg *workflow.Registry) {
	workflow.RegisterDefinition(reg, o.Definition())
}

// Run executes the approval state machine and reports whether the
// request was approved. Every external interaction goes through a
// recorded host primitive, so Run is safe to re-execute after a restart.
func (o *Orchestrator) Run(wf *workflow.Workflow, req RequestMetadata) (bool, error) {
	instanceID := wf.RunID().String()
	log := o.logger.With(
		slog.String("instance_id", instanceID),
		slog.String("applicant_id", req.ApplicantID),
	)

	m := NewMachine()
	if err := wf.SetCustomStatus(StatusReceived); err != nil {
		return false, err
	}

	settings, err := workflow.SideEffect(wf, "settings", func() (Settings, error) {
		return o.settings(), nil
	})
	if err != nil {
		return false, err
	}

	key, err := workflow.StepWithResult(wf, "persist-correlation", func(ctx context.Context) (string, error) {
		return o.correlator.Persist(ctx, req.ApplicantID, instanceID)
	})
	if err != nil {
		return false, err
	}
	if !wf.IsReplaying() {
		log.Info("approval request received", slog.String("correlation_key", key))
	}

	if err := o.enter(wf, m, StateInReview); err != nil {
		return false, err
	}
	err = wf.Step("send-approval-request:"+string(settings.Channel), func(ctx context.Context) error {
		return o.notifier.SendApprovalRequest(ctx, settings.Channel, Notification{
			InstanceID: instanceID,
			Request:    req,
			Timeout:    settings.Timeout,
		})
	})
	if err != nil {
		return false, err
	}

	if err := m.Transition(StateAwaitingResponse); err != nil {
		return false, err
	}
	start, err := wf.Now("deadline")
	if err != nil {
		return false, err
	}
	deadline := start.Add(settings.Timeout)
	if !wf.IsReplaying() {
		log.Info("awaiting approval response",
			slog.String("channel", string(settings.Channel)),
			slog.Time("deadline", deadline),
		)
	}

	evt, err := wf.AwaitEvent(SignalName, deadline)
	if err != nil {
		return false, err
	}

	outcome := StateTimedOut
	if evt != nil {
		var approved bool
		if decErr := json.Unmarshal(evt.Payload, &approved); decErr != nil {
			return false, workflow.NonRetryable(fmt.Errorf("%w: %s", approvals.ErrInvalidSignal, decErr))
		}
		outcome = StateRejected
		if approved {
			outcome = StateApproved
		}
	}
	if err := o.enter(wf, m, outcome); err != nil {
		return false, err
	}

	decidedAt, err := wf.Now("decided")
	if err != nil {
		return false, err
	}
	if !wf.IsReplaying() {
		log.Info("approval decided", slog.String("state", string(outcome)))
	}

	// Recorded so a decision whose hook was interrupted is delivered on
	// resume. Delivery is at least once.
	decision := DecisionEvent{
		InstanceID: instanceID,
		Request:    req,
		State:      outcome,
		Status:     outcome.CustomStatus(),
		DecidedAt:  decidedAt,
	}
	err = wf.Step("publish-decision", func(ctx context.Context) error {
		if o.onDecision != nil {
			o.onDecision(ctx, decision)
		}
		return ctx.Err()
	})
	if err != nil {
		return false, err
	}

	resp := ResponseMetadata{ReferenceURL: req.ReferenceURL, Status: outcome.Decision()}
	dest, err := workflow.StepWithResult(wf, "finalize-artifact", func(ctx context.Context) (string, error) {
		return o.finalizer.FinalizeArtifact(ctx, resp)
	})
	if err != nil {
		return false, err
	}
	if err := m.Transition(StateFinalized); err != nil {
		return false, err
	}
	if !wf.IsReplaying() {
		log.Info("artifact finalized", slog.String("destination", dest))
	}

	approved := outcome == StateApproved
	if err := wf.SetOutput(Result{
		Approved:  approved,
		State:     outcome,
		Status:    outcome.CustomStatus(),
		DecidedAt: decidedAt,
	}); err != nil {
		return false, err
	}
	return approved, nil
}

// enter transitions m and writes the state's custom status.
func (o *Orchestrator) enter(wf *workflow.Workflow, m *Machine, to State) error {
	if err := m.Transition(to); err != nil {
		return err
	}
	return wf.SetCustomStatus(to.CustomStatus())
}

// DecodeResult parses the output of a finished approval run.
func DecodeResult(output []byte) (*Result, error) {
	if len(output) == 0 {
		return nil, errors.New("approvals: run has no output")
	}
	var r Result
	if err := json.Unmarshal(output, &r); err != nil {
		return nil, fmt.Errorf("approvals: decode result: %w", err)
	}
	return &r, nil
}
