package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/workflow"
)

// Slack posts requests to an incoming webhook.
type Slack struct {
	WebhookURL string
	Links      Linker
	Client     *http.Client
}

// NewSlack returns a Slack sender for webhookURL.
func NewSlack(webhookURL string, links Linker) *Slack {
	return &Slack{
		WebhookURL: webhookURL,
		Links:      links,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

type slackBlock struct {
	Type     string        `json:"type"`
	Text     *slackText    `json:"text,omitempty"`
	Elements []slackButton `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackButton struct {
	Type  string    `json:"type"`
	Text  slackText `json:"text"`
	URL   string    `json:"url"`
	Style string    `json:"style,omitempty"`
}

// Send implements Sender. Client errors other than 429 are permanent.
func (s *Slack) Send(ctx context.Context, n approval.Notification) error {
	links, err := s.Links.Links(n.InstanceID, n.Timeout)
	if err != nil {
		return err
	}

	msg := slackMessage{
		Text: Subject(n),
		Blocks: []slackBlock{{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: Body(n, Links{})},
		}},
	}
	if links.Approve != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "actions",
			Elements: []slackButton{
				{Type: "button", Text: slackText{Type: "plain_text", Text: "Approve"}, URL: links.Approve, Style: "primary"},
				{Type: "button", Text: slackText{Type: "plain_text", Text: "Reject"}, URL: links.Reject, Style: "danger"},
			},
		})
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return workflow.NonRetryable(fmt.Errorf("notify/slack: encode: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return workflow.NonRetryable(fmt.Errorf("notify/slack: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify/slack: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // detail is best-effort
	err = fmt.Errorf("notify/slack: webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
		return workflow.NonRetryable(err)
	}
	return err
}
