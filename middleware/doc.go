// Package middleware provides composable middleware for activity execution.
//
// A [Middleware] wraps one attempt of a workflow activity. Middleware are
// composed into a chain using [Chain] and installed on the workflow host
// with [Interceptor]. They are applied right-to-left: the first middleware
// in the slice is the outermost wrapper.
//
//	// logging → recover → activity
//	runner := workflow.NewRunner(reg, s, s, emitter, logger,
//	    workflow.WithInterceptor(middleware.Interceptor(
//	        middleware.Logging(logger), middleware.Recover(logger),
//	    )),
//	)
//
// # Built-in Middleware
//
//   - [Logging]: logs workflow, step, attempt, duration, and outcome
//   - [Recover]: catches panics and converts them to errors
//   - [Timeout]: cancels the activity context after a fixed duration
//   - [Tracing]: wraps each attempt in an OpenTelemetry span
//   - [Metrics]: records per-activity duration and outcome counters
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
