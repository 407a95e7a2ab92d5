package middleware

import (
	"context"
	"time"

	"github.com/xraph/approvals/workflow"
)

// Timeout returns middleware that bounds each activity attempt to d. A
// non-positive d disables the bound. The activity should return
// context.DeadlineExceeded when the deadline passes.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ workflow.StepInfo, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
