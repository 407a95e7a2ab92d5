// Package approvals implements a durable human-in-the-loop approval
// workflow. An artifact is submitted, a decision request is sent to a human
// approver over email or Slack, and the workflow waits, across process
// restarts if need be, for either an explicit approve/reject signal or a
// configured deadline. The artifact is then moved to its final disposition.
//
// Callers query progress by business entity id (the applicant) rather than
// by workflow instance id; a correlation store maps one to the other.
//
// # Quick Start
//
//	cfg, err := approvals.LoadConfig("approvals.yaml")
//	eng, err := engine.New(memory.New(), engine.WithConfig(cfg))
//	run, err := eng.StartWorkflow(ctx, approval.RequestMetadata{
//	    ApplicantID:     "alice",
//	    ApplicationName: "model.bin",
//	    ReferenceURL:    "file:///data/incoming/alice_-_model.bin",
//	    ApprovalType:    "FurryModel",
//	})
//	err = eng.ReceiveApprovalResponse(ctx, run.ID, true)
//
// # Architecture
//
// The workflow package is a checkpoint-replay host: every side-effecting
// step, timer and signal wait is recorded before the orchestration proceeds,
// so a resumed run replays history and never re-issues a completed activity.
// Each subsystem (workflow, event, correlation) defines its own store
// interface and a single backend (memory, redis, postgres, sqlite)
// implements all of them.
//
// All run, checkpoint and event IDs use TypeID: type-prefixed, K-sortable,
// UUIDv7-based identifiers.
package approvals
