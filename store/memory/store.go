// Package memory provides an in-memory implementation of store.Store for
// development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/correlation"
	"github.com/xraph/approvals/event"
	"github.com/xraph/approvals/id"
	"github.com/xraph/approvals/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ workflow.Store    = (*Store)(nil)
	_ event.Store       = (*Store)(nil)
	_ correlation.Store = (*Store)(nil)
)

type checkpointEntry struct {
	cp  *workflow.Checkpoint
	seq int64
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Records are copied on the way in and out so
// callers never share mutable state with the store.
type Store struct {
	mu sync.RWMutex

	runs         map[string]*workflow.Run
	checkpoints  map[string]checkpointEntry // key: "runID:stepName"
	events       []*event.Event
	correlations map[string]*correlation.Record // key: "namespace/key"
	seq          int64

	closed atomic.Bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:         make(map[string]*workflow.Run),
		checkpoints:  make(map[string]checkpointEntry),
		correlations: make(map[string]*correlation.Record),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping succeeds until Close is called.
func (m *Store) Ping(_ context.Context) error {
	if m.closed.Load() {
		return approvals.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data stays readable.
func (m *Store) Close() error {
	m.closed.Store(true)
	return nil
}

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

func cloneRun(r *workflow.Run) *workflow.Run {
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// CreateRun persists a new workflow run.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return approvals.ErrInvalidState
	}
	m.runs[key] = cloneRun(run)
	return nil
}

// GetRun retrieves a workflow run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, approvals.ErrRunNotFound
	}
	return cloneRun(r), nil
}

// UpdateRun persists changes to an existing workflow run.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, ok := m.runs[key]; !ok {
		return approvals.ErrRunNotFound
	}
	run.UpdatedAt = time.Now().UTC()
	m.runs[key] = cloneRun(run)
	return nil
}

// ListRuns returns workflow runs matching the given options.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.Name != "" && r.Name != opts.Name {
			continue
		}
		result = append(result, cloneRun(r))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// checkpointKey builds a composite map key for a checkpoint.
func checkpointKey(runID id.RunID, stepName string) string {
	return runID.String() + ":" + stepName
}

// SaveCheckpoint persists checkpoint data for a workflow step.
func (m *Store) SaveCheckpoint(_ context.Context, runID id.RunID, stepName string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.checkpoints[checkpointKey(runID, stepName)] = checkpointEntry{
		cp: &workflow.Checkpoint{
			ID:        id.NewCheckpointID(),
			RunID:     runID,
			StepName:  stepName,
			Data:      append([]byte{}, data...),
			CreatedAt: time.Now().UTC(),
		},
		seq: m.seq,
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
func (m *Store) GetCheckpoint(_ context.Context, runID id.RunID, stepName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.checkpoints[checkpointKey(runID, stepName)]
	if !ok {
		return nil, nil // no checkpoint is not an error
	}
	return append([]byte{}, e.cp.Data...), nil
}

func (m *Store) runCheckpoints(runID id.RunID) []checkpointEntry {
	var result []checkpointEntry
	for _, e := range m.checkpoints {
		if e.cp.RunID == runID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].seq < result[k].seq })
	return result
}

// ListCheckpoints returns all checkpoints for a workflow run in the order
// they were written.
func (m *Store) ListCheckpoints(_ context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.runCheckpoints(runID)
	result := make([]*workflow.Checkpoint, len(entries))
	for i, e := range entries {
		cp := *e.cp
		result[i] = &cp
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// PublishEvent persists a new event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *evt
	m.events = append(m.events, &c)
	return nil
}

// PeekEvent returns the oldest unacked event for runID and name.
func (m *Store) PeekEvent(_ context.Context, runID id.RunID, name string) (*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, evt := range m.events {
		if evt.RunID == runID && evt.Name == name && !evt.Acked {
			c := *evt
			return &c, nil
		}
	}
	return nil, nil
}

// AckEvent acknowledges an event, marking it as consumed.
func (m *Store) AckEvent(_ context.Context, eventID id.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, evt := range m.events {
		if evt.ID == eventID {
			evt.Acked = true
			return nil
		}
	}
	return approvals.ErrEventNotFound
}

// ──────────────────────────────────────────────────
// Correlation Store
// ──────────────────────────────────────────────────

func correlationKey(namespace, key string) string { return namespace + "/" + key }

// InsertCorrelation writes rec if its key is free.
func (m *Store) InsertCorrelation(_ context.Context, rec *correlation.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := correlationKey(rec.Namespace, rec.Key)
	if _, exists := m.correlations[k]; exists {
		return approvals.ErrCorrelationExists
	}
	c := *rec
	m.correlations[k] = &c
	return nil
}

// GetCorrelation returns the record stored under (namespace, key).
func (m *Store) GetCorrelation(_ context.Context, namespace, key string) (*correlation.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.correlations[correlationKey(namespace, key)]
	if !ok {
		return nil, approvals.ErrCorrelationNotFound
	}
	c := *rec
	return &c, nil
}

// GetCorrelationByInstance returns the record that maps to instanceID.
func (m *Store) GetCorrelationByInstance(_ context.Context, namespace, instanceID string) (*correlation.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.correlations {
		if rec.Namespace == namespace && rec.InstanceID == instanceID {
			c := *rec
			return &c, nil
		}
	}
	return nil, approvals.ErrCorrelationNotFound
}

// ListCorrelations returns every record for entityID, oldest first.
func (m *Store) ListCorrelations(_ context.Context, namespace, entityID string) ([]*correlation.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*correlation.Record
	for _, rec := range m.correlations {
		if rec.Namespace == namespace && rec.EntityID == entityID {
			c := *rec
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].Key < result[k].Key
		}
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}
