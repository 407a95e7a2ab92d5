// Package notify delivers approval requests to humans. Each notifier is a
// thin adapter; delivery is at-least-once because the workflow host
// re-issues a failed send with the same idempotency key.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/callback"
	"github.com/xraph/approvals/id"
	"github.com/xraph/approvals/workflow"
)

// Links are the approve/reject URLs included in a message.
type Links struct {
	Approve string
	Reject  string
}

// Linker builds Links for an instance.
type Linker interface {
	Links(instanceID string, timeout time.Duration) (Links, error)
}

// SignedLinks mints links carrying callback tokens.
type SignedLinks struct {
	Signer  *callback.Signer
	BaseURL string
	// TTL overrides the link lifetime. Zero ties it to the workflow timeout.
	TTL time.Duration
}

// Links implements Linker.
func (l SignedLinks) Links(instanceID string, timeout time.Duration) (Links, error) {
	runID, err := id.ParseRunID(instanceID)
	if err != nil {
		return Links{}, workflow.NonRetryable(fmt.Errorf("notify: instance id: %w", err))
	}
	ttl := l.TTL
	if ttl <= 0 {
		ttl = timeout
	}
	approve, err := l.Signer.Link(l.BaseURL, runID, true, ttl)
	if err != nil {
		return Links{}, err
	}
	reject, err := l.Signer.Link(l.BaseURL, runID, false, ttl)
	if err != nil {
		return Links{}, err
	}
	return Links{Approve: approve, Reject: reject}, nil
}

// NoLinks yields empty links, for deployments without a callback endpoint.
type NoLinks struct{}

// Links implements Linker.
func (NoLinks) Links(string, time.Duration) (Links, error) { return Links{}, nil }

// Subject is the one-line summary of a request.
func Subject(n approval.Notification) string {
	return fmt.Sprintf("Approval requested: %s (%s)", n.Request.ApplicationName, n.Request.ApprovalType)
}

// Body renders the plain-text message shared by every channel.
func Body(n approval.Notification, links Links) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Applicant %s submitted %q for %s approval.\n",
		n.Request.ApplicantID, n.Request.ApplicationName, n.Request.ApprovalType)
	if n.Request.ReferenceURL != "" {
		fmt.Fprintf(&b, "Artifact: %s\n", n.Request.ReferenceURL)
	}
	fmt.Fprintf(&b, "Please respond within %s or the request is rejected.\n", n.Timeout)
	if links.Approve != "" {
		fmt.Fprintf(&b, "\nApprove: %s\nReject: %s\n", links.Approve, links.Reject)
	}
	fmt.Fprintf(&b, "\nInstance: %s\n", n.InstanceID)
	return b.String()
}

// Sender is a single-channel notifier.
type Sender interface {
	Send(ctx context.Context, n approval.Notification) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n approval.Notification) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, n approval.Notification) error { return f(ctx, n) }

var _ approval.Notifier = (*Mux)(nil)

// Mux routes a request to the Sender registered for its channel.
type Mux struct {
	senders map[approval.Channel]Sender
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{senders: make(map[approval.Channel]Sender)}
}

// Handle registers s for ch, replacing any earlier registration.
func (m *Mux) Handle(ch approval.Channel, s Sender) *Mux {
	m.senders[ch] = s
	return m
}

// SendApprovalRequest implements approval.Notifier. A channel with no
// sender is a configuration error and is not retried.
func (m *Mux) SendApprovalRequest(ctx context.Context, ch approval.Channel, n approval.Notification) error {
	s, ok := m.senders[ch]
	if !ok {
		return workflow.NonRetryable(fmt.Errorf("notify: no sender for channel %q", ch))
	}
	return s.Send(ctx, n)
}
