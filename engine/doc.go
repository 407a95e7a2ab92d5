// Package engine is the composition root of an approvals deployment and
// the primary application-level API for starting approval instances,
// delivering decisions, and querying status.
//
// The engine package exists to break a fundamental import cycle: the root
// approvals package defines Entity and the sentinel errors (imported by
// workflow, correlation, approval, etc.) and therefore cannot import those
// packages back. Engine sits above all subsystem packages and below the
// application layer (api, cmd/approvald).
//
// # Building an Engine
//
//	cfg, err := approvals.LoadConfig("approvals.yaml")
//
//	eng, err := engine.New(pgStore,
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	    engine.WithNotifier(notify.NewMux().
//	        Handle(approval.ChannelSlack, notify.NewSlack(cfg.Notify.Slack.WebhookURL, links))),
//	    engine.WithExtension(myExtension),
//	)
//
//	if err := eng.Start(ctx); err != nil { ... } // migrate + resume interrupted runs
//	defer eng.Stop(context.Background())
//
// # Driving Instances
//
//	run, err := eng.StartWorkflow(ctx, approval.RequestMetadata{...})
//	err = eng.ReceiveApprovalResponse(ctx, run.ID, true)
//	st, err := eng.GetStatus(ctx, "alice")
//
// # Options
//
//   - [WithConfig]: deployment configuration (timeout, channel, retries)
//   - [WithLogger]: structured logger shared by every subsystem
//   - [WithClock]: time source for deadlines and correlation keys
//   - [WithNotifier]: how approval requests reach the approver
//   - [WithFinalizer]: how decided artifacts are relocated
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the activity chain
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
//   - [WithPollInterval]: how often a waiting run polls for signals
//
// Every engine also registers a [stream.Broker], reachable via
// [Engine.Stream], so callers can follow a run's lifecycle live.
package engine
