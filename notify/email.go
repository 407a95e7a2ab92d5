package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/workflow"
)

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends requests through an SMTP relay.
type Email struct {
	Addr     string
	Username string
	Password string
	From     string
	To       []string
	Links    Linker

	// SendMail defaults to smtp.SendMail.
	SendMail SendMailFunc
	now      func() time.Time
}

// NewEmail returns an Email sender.
func NewEmail(addr, username, password, from string, to []string, links Linker) *Email {
	return &Email{
		Addr:     addr,
		Username: username,
		Password: password,
		From:     from,
		To:       to,
		Links:    links,
		SendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// Send implements Sender.
func (e *Email) Send(ctx context.Context, n approval.Notification) error {
	if len(e.To) == 0 {
		return workflow.NonRetryable(fmt.Errorf("notify/email: no recipients configured"))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	links, err := e.Links.Links(n.InstanceID, n.Timeout)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if e.Username != "" {
		host, _, splitErr := net.SplitHostPort(e.Addr)
		if splitErr != nil {
			return workflow.NonRetryable(fmt.Errorf("notify/email: addr: %w", splitErr))
		}
		auth = smtp.PlainAuth("", e.Username, e.Password, host)
	}

	if err := e.SendMail(e.Addr, auth, e.From, e.To, e.message(n, links)); err != nil {
		return fmt.Errorf("notify/email: send: %w", err)
	}
	return nil
}

func (e *Email) message(n approval.Notification, links Links) []byte {
	now := time.Now
	if e.now != nil {
		now = e.now
	}
	domain := "approvals.local"
	if i := strings.LastIndex(e.From, "@"); i >= 0 {
		domain = e.From[i+1:]
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", e.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", Subject(n))
	fmt.Fprintf(&b, "Date: %s\r\n", now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domain)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(Body(n, links), "\n", "\r\n"))
	return b.Bytes()
}
