package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/approvals/workflow"
)

// Recover returns middleware that recovers from panics in the activity.
// Panics are converted to errors and logged with a stack trace; the host
// then applies its retry policy as for any other failure.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, info workflow.StepInfo, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("activity panicked",
					slog.String("workflow", info.Workflow),
					slog.String("run_id", info.RunID.String()),
					slog.String("step", info.Step),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in step %s: %v", info.Step, r)
			}
		}()
		return next(ctx)
	}
}
