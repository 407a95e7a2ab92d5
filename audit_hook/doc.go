// Package audithook is an approvals extension that bridges lifecycle
// events to an audit trail backend.
//
// Every workflow lifecycle hook and every approval decision emits a
// structured audit event through the [Recorder] interface. The extension
// assigns severity levels (info for normal operations and grants, warning
// for rejections, timeouts and step failures, critical for failed runs)
// and metadata such as the applicant, the approval type and errors.
//
// # Writing to a logger
//
//	audithook.New(audithook.LogRecorder(logger.With("component", "audit")))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(audithook.DecisionActions()...),
//	)
package audithook
