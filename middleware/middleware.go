package middleware

import (
	"context"

	"github.com/xraph/approvals/workflow"
)

// Handler is the terminal function that executes an activity.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the activity being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, info workflow.StepInfo, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, tracing) executes as:
//
//	logging → recover → tracing → activity
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, info workflow.StepInfo, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, info, prev)
			}
		}
		return h(ctx)
	}
}

// Interceptor adapts mws to the workflow host's activity hook.
func Interceptor(mws ...Middleware) workflow.Interceptor {
	chain := Chain(mws...)
	return func(ctx context.Context, info workflow.StepInfo, next func(context.Context) error) error {
		return chain(ctx, info, next)
	}
}
