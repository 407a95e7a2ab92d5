// Package engine wires the approval subsystems together. It creates the
// extension registry, the activity middleware chain, the workflow runner,
// the correlation and status services, and registers the approval
// orchestrator.
//
// This package exists to break the import cycle: the root approvals
// package defines Entity and the sentinel errors (imported by workflow,
// correlation, etc.) and so cannot import those packages back. The engine
// package sits above all subsystem packages and below the application
// layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/backoff"
	"github.com/xraph/approvals/clock"
	"github.com/xraph/approvals/correlation"
	"github.com/xraph/approvals/ext"
	"github.com/xraph/approvals/finalize"
	"github.com/xraph/approvals/id"
	mw "github.com/xraph/approvals/middleware"
	"github.com/xraph/approvals/notify"
	"github.com/xraph/approvals/observability"
	"github.com/xraph/approvals/status"
	"github.com/xraph/approvals/store"
	"github.com/xraph/approvals/stream"
	"github.com/xraph/approvals/workflow"
)

const instrumentationName = "github.com/xraph/approvals"

// extRunEmitter adapts *ext.Registry to satisfy workflow.RunEmitter.
// workflow defines the interface, ext.Registry provides the
// implementation, and the engine plugs them together.
type extRunEmitter struct {
	r *ext.Registry
}

func (a *extRunEmitter) EmitStepCompleted(ctx context.Context, run *workflow.Run, stepName string, elapsed time.Duration) {
	a.r.EmitWorkflowStepCompleted(ctx, run, stepName, elapsed)
}

func (a *extRunEmitter) EmitStepFailed(ctx context.Context, run *workflow.Run, stepName string, err error) {
	a.r.EmitWorkflowStepFailed(ctx, run, stepName, err)
}

func (a *extRunEmitter) EmitWorkflowStarted(ctx context.Context, run *workflow.Run) {
	a.r.EmitWorkflowStarted(ctx, run)
}

func (a *extRunEmitter) EmitWorkflowCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	a.r.EmitWorkflowCompleted(ctx, run, elapsed)
}

func (a *extRunEmitter) EmitWorkflowFailed(ctx context.Context, run *workflow.Run, err error) {
	a.r.EmitWorkflowFailed(ctx, run, err)
}

// Engine hosts approval instances over a single store.
type Engine struct {
	store  store.Store
	cfg    approvals.Config
	logger *slog.Logger
	clock  clock.Clock

	exts      []ext.Extension
	mws       []mw.Middleware
	notifier  approval.Notifier
	finalizer approval.Finalizer
	pollEvery time.Duration

	extensions   *ext.Registry
	registry     *workflow.Registry
	runner       *workflow.Runner
	correlations *correlation.Service
	orchestrator *approval.Orchestrator
	status       *status.Service
	broker       *stream.Broker

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the deployment configuration. DefaultConfig is used
// otherwise.
func WithConfig(cfg approvals.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithClock sets the clock used for deadlines, recorded timestamps and
// correlation keys.
func WithClock(c clock.Clock) Option {
	return func(eng *Engine) { eng.clock = c }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware adds middleware to the activity chain, after the
// built-in recover, tracing, metrics and logging middleware.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithNotifier sets how approval requests reach the approver. If not
// set, requests are only logged.
func WithNotifier(n approval.Notifier) Option {
	return func(eng *Engine) { eng.notifier = n }
}

// WithFinalizer sets how artifacts are relocated once decided. If not
// set, a finalize.Mover over the artifact configuration is used.
func WithFinalizer(f approval.Finalizer) Option {
	return func(eng *Engine) { eng.finalizer = f }
}

// WithPollInterval sets how often a waiting run polls the event store.
func WithPollInterval(d time.Duration) Option {
	return func(eng *Engine) { eng.pollEvery = d }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for both the metrics
// middleware and the observability extension. If not set, the global
// otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New builds an Engine over s.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, approvals.ErrNoStore
	}

	eng := &Engine{
		store:  s,
		cfg:    approvals.DefaultConfig(),
		logger: slog.Default(),
		clock:  clock.Real{},
	}
	for _, opt := range opts {
		opt(eng)
	}
	logger := eng.logger

	eng.extensions = ext.NewRegistry(logger)
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)
	eng.broker = stream.NewBroker(logger, stream.WithNow(eng.clock.Now))
	eng.extensions.Register(eng.broker)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	if eng.notifier == nil {
		logNotifier := &notify.Log{Logger: logger, Links: notify.NoLinks{}}
		eng.notifier = notify.NewMux().
			Handle(approval.ChannelEmail, logNotifier).
			Handle(approval.ChannelSlack, logNotifier)
	}
	if eng.finalizer == nil {
		eng.finalizer = finalize.NewMover(eng.cfg.Artifacts, finalize.WithLogger(logger))
	}

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: recover → tracing → metrics → logging → user middleware.
	allMws := make([]mw.Middleware, 0, 4+len(eng.mws))
	allMws = append(allMws, mw.Recover(logger), tracingMw, metricsMw, mw.Logging(logger))
	allMws = append(allMws, eng.mws...)

	runnerOpts := []workflow.RunnerOption{
		workflow.WithClock(eng.clock),
		workflow.WithRetryPolicy(retryPolicy(eng.cfg.Workflow, eng.logger)),
		workflow.WithInterceptor(mw.Interceptor(allMws...)),
	}
	if eng.pollEvery > 0 {
		runnerOpts = append(runnerOpts, workflow.WithPollInterval(eng.pollEvery))
	}

	eng.registry = workflow.NewRegistry()
	eng.runner = workflow.NewRunner(eng.registry, s, s, &extRunEmitter{r: eng.extensions}, logger, runnerOpts...)
	eng.correlations = correlation.NewService(s, correlation.WithClock(eng.clock), correlation.WithLogger(logger))

	workflowCfg := eng.cfg.Workflow
	eng.orchestrator = approval.NewOrchestrator(eng.correlations, eng.notifier, eng.finalizer,
		func() approval.Settings { return approval.SettingsFromConfig(workflowCfg) },
		approval.WithLogger(logger),
		approval.WithDecisionHook(eng.extensions.EmitApprovalDecided),
	)
	eng.orchestrator.Register(eng.registry)
	eng.status = status.NewService(eng.correlations, eng.runner)

	return eng, nil
}

// retryPolicy derives the activity retry policy from cfg. An unknown
// backoff name is logged and replaced by the jittered default.
func retryPolicy(cfg approvals.WorkflowConfig, logger *slog.Logger) workflow.RetryPolicy {
	kind, ok := backoff.ParseKind(cfg.Backoff)
	if !ok {
		logger.Warn("unknown retry backoff, using jitter", slog.String("backoff", cfg.Backoff))
		kind = backoff.KindJitter
	}
	return workflow.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     backoff.New(kind, cfg.RetryInitial, cfg.RetryMax),
	}
}

// StartWorkflow creates an approval instance for req and returns once it
// is persisted. The instance id is the run id.
func (eng *Engine) StartWorkflow(ctx context.Context, req approval.RequestMetadata) (*workflow.Run, error) {
	run, err := workflow.Spawn(ctx, eng.runner, approval.WorkflowName, req)
	if err != nil {
		return nil, err
	}
	eng.logger.Info("approval workflow started",
		slog.String("run_id", run.ID.String()),
		slog.String("applicant_id", req.ApplicantID),
	)
	return run, nil
}

// StartInstance is StartWorkflow reporting only the instance id.
func (eng *Engine) StartInstance(ctx context.Context, req approval.RequestMetadata) (string, error) {
	run, err := eng.StartWorkflow(ctx, req)
	if err != nil {
		return "", err
	}
	return run.ID.String(), nil
}

// ReceiveApprovalResponse delivers an approver's decision to a running
// instance. A decision for a finished instance fails with
// approvals.ErrRunNotRunning; only the first decision delivered before
// the deadline is acted upon.
func (eng *Engine) ReceiveApprovalResponse(ctx context.Context, runID id.RunID, approved bool) error {
	payload, err := json.Marshal(approved)
	if err != nil {
		return fmt.Errorf("encode approval response: %w", err)
	}
	if err := eng.runner.Signal(ctx, runID, approval.SignalName, payload); err != nil {
		return err
	}
	eng.logger.Info("approval response received",
		slog.String("run_id", runID.String()),
		slog.Bool("approved", approved),
	)
	return nil
}

// GetStatus reports the status of the instance serving entityID.
func (eng *Engine) GetStatus(ctx context.Context, entityID string) (*status.Status, error) {
	return eng.status.GetStatus(ctx, entityID)
}

// GetRun returns the persisted state of an instance.
func (eng *Engine) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	return eng.runner.GetRun(ctx, runID)
}

// Result returns the decision recorded on a finished instance.
func (eng *Engine) Result(ctx context.Context, runID id.RunID) (*approval.Result, error) {
	run, err := eng.runner.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.Terminal() {
		return nil, fmt.Errorf("%w: run %s is %q", approvals.ErrInvalidState, runID, run.State)
	}
	return approval.DecodeResult(run.Output)
}

// Ping checks the store.
func (eng *Engine) Ping(ctx context.Context) error { return eng.store.Ping(ctx) }

// Start resumes every instance left running by a previous process. A
// failure to list runs is logged, not returned, so the process can still
// accept new work.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	if resumeErr := eng.runner.ResumeAll(ctx); resumeErr != nil {
		eng.logger.Warn("failed to resume workflow runs",
			slog.String("error", resumeErr.Error()),
		)
	}
	return nil
}

// Stop interrupts in-flight instances at their next suspension point and
// notifies extensions. Interrupted instances stay running and are picked
// up by the next Start. The wait is bounded by the configured shutdown
// timeout.
func (eng *Engine) Stop(ctx context.Context) error {
	if d := eng.cfg.Workflow.ShutdownTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	err := eng.runner.Stop(ctx)
	eng.extensions.EmitShutdown(ctx)
	if err != nil {
		return fmt.Errorf("stop workflow runner: %w", err)
	}
	return nil
}

// Config returns the engine configuration.
func (eng *Engine) Config() approvals.Config { return eng.cfg }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// WorkflowRunner returns the workflow runner.
func (eng *Engine) WorkflowRunner() *workflow.Runner { return eng.runner }

// Stream returns the live event broker fed by the lifecycle hooks.
func (eng *Engine) Stream() *stream.Broker { return eng.broker }

// Correlations returns the correlation service.
func (eng *Engine) Correlations() *correlation.Service { return eng.correlations }
