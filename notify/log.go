package notify

import (
	"context"
	"log/slog"

	"github.com/xraph/approvals/approval"
)

// Log writes requests to a logger instead of a human channel. It is the
// development default.
type Log struct {
	Logger *slog.Logger
	Links  Linker
}

// Send implements Sender.
func (l *Log) Send(_ context.Context, n approval.Notification) error {
	links, err := l.Links.Links(n.InstanceID, n.Timeout)
	if err != nil {
		return err
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("approval requested",
		slog.String("instance_id", n.InstanceID),
		slog.String("applicant_id", n.Request.ApplicantID),
		slog.String("application", n.Request.ApplicationName),
		slog.Duration("timeout", n.Timeout),
		slog.String("approve_link", links.Approve),
		slog.String("reject_link", links.Reject),
	)
	return nil
}
