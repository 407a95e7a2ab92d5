// Package ingest turns newly stored artifacts into approval requests,
// either from a bare blob name or from storage events.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/approval"
)

// UnknownApplicant is used when a blob name carries no applicant.
const UnknownApplicant = "unknown"

// nameSeparator splits "<applicant>_-_<application>".
const nameSeparator = "_-_"

// ParseBlobName splits name at the last separator. The applicant part is
// URL-unescaped. Names without a separator belong to UnknownApplicant.
func ParseBlobName(name string) (applicantID, applicationName string) {
	i := strings.LastIndex(name, nameSeparator)
	if i < 0 {
		return UnknownApplicant, name
	}
	applicantID = name[:i]
	if unescaped, err := url.PathUnescape(applicantID); err == nil {
		applicantID = unescaped
	}
	return applicantID, name[i+len(nameSeparator):]
}

// StartFunc starts an approval instance and returns its id.
type StartFunc func(ctx context.Context, req approval.RequestMetadata) (string, error)

// StorageEvent is a blob-created notification.
type StorageEvent struct {
	ID        string           `json:"id,omitempty"`
	Subject   string           `json:"subject"`
	EventType string           `json:"eventType,omitempty"`
	Data      StorageEventData `json:"data"`
}

// StorageEventData is the payload of a StorageEvent. ContentLength may be
// sent as a number or a numeric string.
type StorageEventData struct {
	URL           string       `json:"url,omitempty"`
	ContentLength *json.Number `json:"contentLength,omitempty"`
}

// Length returns the declared content length, or 0 when it is missing or
// not an integer.
func (d StorageEventData) Length() int64 {
	if d.ContentLength == nil {
		return 0
	}
	n, err := d.ContentLength.Int64()
	if err != nil {
		return 0
	}
	return n
}

const storageEventsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["subject", "data"],
    "properties": {
      "id": { "type": "string" },
      "subject": { "type": "string", "minLength": 1 },
      "eventType": { "type": "string" },
      "data": {
        "type": "object",
        "properties": {
          "url": { "type": "string" },
          "contentLength": { "type": ["integer", "string"] }
        }
      }
    }
  }
}`

var storageEventsLoader = gojsonschema.NewStringLoader(storageEventsSchema)

// ValidateJSON checks body against schema and joins every violation into
// one error wrapping approvals.ErrInvalidRequest.
func ValidateJSON(schema gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", approvals.ErrInvalidRequest, err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for i, e := range result.Errors() {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(e.String())
		}
		return fmt.Errorf("%w: %s", approvals.ErrInvalidRequest, sb.String())
	}
	return nil
}

// Started reports an instance created from an event.
type Started struct {
	Subject    string `json:"subject"`
	InstanceID string `json:"instanceId"`
}

// Discarded reports an event that was not admitted.
type Discarded struct {
	Subject       string `json:"subject"`
	ContentLength int64  `json:"contentLength"`
	Reason        string `json:"reason"`
}

// Result summarizes a batch of storage events.
type Result struct {
	Started   []Started   `json:"started"`
	Discarded []Discarded `json:"discarded"`
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(i *Ingestor) { i.logger = l } }

// Ingestor builds requests from artifacts and starts them.
type Ingestor struct {
	cfg       approvals.IngestConfig
	artifacts approvals.ArtifactConfig
	start     StartFunc
	logger    *slog.Logger
}

// New returns an Ingestor that starts instances with start.
func New(cfg approvals.IngestConfig, artifacts approvals.ArtifactConfig, start StartFunc, opts ...Option) *Ingestor {
	if artifacts.BasePath != "" && !strings.HasSuffix(artifacts.BasePath, "/") {
		artifacts.BasePath += "/"
	}
	i := &Ingestor{cfg: cfg, artifacts: artifacts, start: start, logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Admit reports whether n lies strictly between the configured bounds.
func (i *Ingestor) Admit(n int64) bool {
	return n > i.cfg.MinContentLength && n < i.cfg.MaxContentLength
}

// Request builds the request for an artifact named name at referenceURL.
func (i *Ingestor) Request(name, referenceURL string) approval.RequestMetadata {
	applicant, application := ParseBlobName(name)
	return approval.RequestMetadata{
		ApplicantID:     applicant,
		ApplicationName: application,
		ReferenceURL:    referenceURL,
		ApprovalType:    i.cfg.ApprovalType,
	}
}

// FromBlob starts an instance for a blob already in the input container.
func (i *Ingestor) FromBlob(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: blob name is required", approvals.ErrInvalidRequest)
	}
	ref := i.artifacts.BasePath + i.artifacts.InputContainer + "/" + name
	req := i.Request(name, ref)
	instanceID, err := i.start(ctx, req)
	if err != nil {
		return "", err
	}
	i.logger.Info("approval started from blob",
		slog.String("applicant_id", req.ApplicantID),
		slog.String("application", req.ApplicationName),
		slog.String("instance_id", instanceID),
	)
	return instanceID, nil
}

// HandleEvents validates a JSON array of storage events and starts an
// instance for each admitted one. A start failure aborts the batch and is
// returned together with the partial result.
func (i *Ingestor) HandleEvents(ctx context.Context, body []byte) (Result, error) {
	res := Result{Started: []Started{}, Discarded: []Discarded{}}
	if err := ValidateJSON(storageEventsLoader, body); err != nil {
		return res, err
	}
	var events []StorageEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return res, fmt.Errorf("%w: %v", approvals.ErrInvalidRequest, err)
	}

	for _, evt := range events {
		name := strings.TrimPrefix(evt.Subject, i.cfg.SubjectPrefix)
		n := evt.Data.Length()
		if !i.Admit(n) {
			i.logger.Error("storage event discarded",
				slog.String("subject", evt.Subject),
				slog.Int64("content_length", n),
			)
			res.Discarded = append(res.Discarded, Discarded{
				Subject:       evt.Subject,
				ContentLength: n,
				Reason:        fmt.Sprintf("content length must be between %d and %d", i.cfg.MinContentLength, i.cfg.MaxContentLength),
			})
			continue
		}

		req := i.Request(name, evt.Data.URL)
		instanceID, err := i.start(ctx, req)
		if err != nil {
			return res, fmt.Errorf("ingest: start %q: %w", evt.Subject, err)
		}
		i.logger.Info("approval started from storage event",
			slog.String("applicant_id", req.ApplicantID),
			slog.String("application", req.ApplicationName),
			slog.String("instance_id", instanceID),
		)
		res.Started = append(res.Started, Started{Subject: evt.Subject, InstanceID: instanceID})
	}
	return res, nil
}
