// Package correlation maps business entity ids to workflow instance ids.
//
// A key, once written, is never overwritten. A second mapping for the same
// entity is stored under a disambiguated key, entityID + "_" + a
// millisecond timestamp, so earlier mappings stay retrievable.
package correlation

import (
	"context"
	"time"
)

// DefaultNamespace is the namespace used for approval workflow records.
const DefaultNamespace = "ApprovalWorkflow"

// Record is a durable mapping from an entity key to a workflow instance.
type Record struct {
	Namespace  string    `json:"namespace"`
	Key        string    `json:"key"`
	EntityID   string    `json:"entity_id"`
	InstanceID string    `json:"instance_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store defines the persistence contract for correlation records.
type Store interface {
	// InsertCorrelation writes rec if its (namespace, key) is free and
	// returns approvals.ErrCorrelationExists otherwise. Existing records
	// are never modified.
	InsertCorrelation(ctx context.Context, rec *Record) error

	// GetCorrelation returns the record stored under (namespace, key) or
	// approvals.ErrCorrelationNotFound.
	GetCorrelation(ctx context.Context, namespace, key string) (*Record, error)

	// GetCorrelationByInstance returns the record that maps to instanceID
	// or approvals.ErrCorrelationNotFound.
	GetCorrelationByInstance(ctx context.Context, namespace, instanceID string) (*Record, error)

	// ListCorrelations returns every record written for entityID, exact
	// and disambiguated, oldest first.
	ListCorrelations(ctx context.Context, namespace, entityID string) ([]*Record, error)
}
