// Package workflow is a durable execution host: typed workflow
// definitions, runs, step checkpointing, and the workflow store interface.
//
// Workflows are durable, multi-step functions. Every primitive that
// touches the outside world records its outcome as a checkpoint before
// the handler proceeds. After a restart the handler is re-run from the
// top; recorded steps return their recorded results and only the
// pending step executes.
//
// # Defining a Workflow
//
//	var Review = workflow.NewWorkflow("review",
//	    func(wf *workflow.Workflow, input ReviewInput) error {
//	        if err := wf.Step("notify", func(ctx context.Context) error {
//	            return notifier.Send(ctx, input.Reviewer)
//	        }); err != nil {
//	            return err
//	        }
//
//	        start, err := wf.Now("start")
//	        if err != nil {
//	            return err
//	        }
//
//	        evt, err := wf.AwaitEvent("decision", start.Add(time.Hour))
//	        if err != nil {
//	            return err
//	        }
//	        if evt == nil {
//	            return wf.SetCustomStatus("timed out")
//	        }
//	        return wf.SetOutput(evt.Payload)
//	    },
//	)
//
// # Determinism
//
// Handlers must reach the same steps in the same order on every
// execution. Read the clock through [Workflow.Now], capture configuration
// through [SideEffect], and do I/O only inside [Workflow.Step] or
// [StepWithResult]. [Runner.Replay] re-runs a handler against its history
// and reports divergence.
//
// # State Machine
//
// A [Run] moves through these states:
//
//	running → completed
//	running → failed
//
// # Key Types
//
//   - [Definition]: typed workflow descriptor with Name and Handler
//   - [Run]: a single workflow execution record
//   - [RunState]: running, completed, or failed
//   - [Registry]: maps workflow names to versioned runner functions
//   - [Runner]: starts, spawns, resumes and signals runs
package workflow
