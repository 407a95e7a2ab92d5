// Package status answers "what happened to this entity's approval?" by
// resolving the entity through the correlation store and reading the run
// from the workflow host.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/id"
	"github.com/xraph/approvals/workflow"
)

// Resolver maps an entity id to an instance id.
type Resolver interface {
	Lookup(ctx context.Context, entityID string) (string, error)
}

// RunReader reads workflow runs.
type RunReader interface {
	GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error)
}

// Status is the externally visible state of one instance.
type Status struct {
	InstanceID      string          `json:"instanceId"`
	RuntimeStatus   string          `json:"runtimeStatus"`
	CustomStatus    string          `json:"customStatus"`
	CreatedTime     time.Time       `json:"createdTime"`
	LastUpdatedTime time.Time       `json:"lastUpdatedTime"`
	Output          json.RawMessage `json:"output,omitempty"`
}

// Service implements the status query.
type Service struct {
	resolver Resolver
	runs     RunReader
}

// NewService creates a status service.
func NewService(resolver Resolver, runs RunReader) *Service {
	return &Service{resolver: resolver, runs: runs}
}

// GetStatus reports the current status of the instance serving entityID.
// It returns approvals.ErrMissingEntityID for an empty id and
// approvals.ErrEntityNotFound when no instance is recorded for it. Any
// other error is a server fault.
func (s *Service) GetStatus(ctx context.Context, entityID string) (*Status, error) {
	if entityID == "" {
		return nil, approvals.ErrMissingEntityID
	}

	instanceID, err := s.resolver.Lookup(ctx, entityID)
	switch {
	case errors.Is(err, approvals.ErrCorrelationNotFound):
		return nil, fmt.Errorf("%w: %q", approvals.ErrEntityNotFound, entityID)
	case err != nil:
		return nil, fmt.Errorf("status: resolve %q: %w", entityID, err)
	}

	runID, err := id.ParseRunID(instanceID)
	if err != nil {
		return nil, fmt.Errorf("status: instance id %q for entity %q: %w", instanceID, entityID, err)
	}

	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		// A correlation without a run means the run record was lost,
		// which is not the caller's fault.
		return nil, fmt.Errorf("status: get run %s: %w", instanceID, err)
	}

	return &Status{
		InstanceID:      instanceID,
		RuntimeStatus:   run.State.RuntimeStatus(),
		CustomStatus:    run.CustomStatus,
		CreatedTime:     run.CreatedAt,
		LastUpdatedTime: run.UpdatedAt,
		Output:          json.RawMessage(run.Output),
	}, nil
}

// IsClientError reports whether err from GetStatus should be reported as
// the caller's mistake rather than a server fault.
func IsClientError(err error) bool {
	return errors.Is(err, approvals.ErrMissingEntityID) || errors.Is(err, approvals.ErrEntityNotFound)
}
