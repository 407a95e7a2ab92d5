// Package store defines the aggregate persistence interface. Each subsystem
// (workflow, event, correlation) defines its own store interface. The
// composite Store composes them all. Backends: Postgres, SQLite, Redis,
// and Memory.
package store

import (
	"context"

	"github.com/xraph/approvals/correlation"
	"github.com/xraph/approvals/event"
	"github.com/xraph/approvals/workflow"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, sqlite, redis, memory) implements all of them.
type Store interface {
	workflow.Store
	event.Store
	correlation.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
