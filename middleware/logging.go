package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/approvals/workflow"
)

// Logging returns middleware that logs activity start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, info workflow.StepInfo, next Handler) error {
		logger.Debug("activity started",
			slog.String("workflow", info.Workflow),
			slog.String("run_id", info.RunID.String()),
			slog.String("step", info.Step),
			slog.Int("attempt", info.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("activity failed",
				slog.String("workflow", info.Workflow),
				slog.String("run_id", info.RunID.String()),
				slog.String("step", info.Step),
				slog.Int("attempt", info.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("activity completed",
				slog.String("workflow", info.Workflow),
				slog.String("run_id", info.RunID.String()),
				slog.String("step", info.Step),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
