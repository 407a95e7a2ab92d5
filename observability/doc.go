// Package observability provides an OpenTelemetry metrics extension for
// the approval engine. The MetricsExtension implements lifecycle hooks to
// record counters for workflow runs, activity outcomes, and approval
// decisions.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
