// Package storetest is a conformance suite for store.Store backends. Each
// backend's tests call Run with a constructor that yields an empty,
// migrated store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/correlation"
	"github.com/xraph/approvals/event"
	"github.com/xraph/approvals/id"
	"github.com/xraph/approvals/store"
	"github.com/xraph/approvals/workflow"
)

// Run executes the suite. newStore is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Ping(context.Background()))
	})
	t.Run("MigrateIdempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Migrate(context.Background()))
	})
	t.Run("RunLifecycle", func(t *testing.T) { testRunLifecycle(t, newStore(t)) })
	t.Run("ListRuns", func(t *testing.T) { testListRuns(t, newStore(t)) })
	t.Run("Checkpoints", func(t *testing.T) { testCheckpoints(t, newStore(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("Correlations", func(t *testing.T) { testCorrelations(t, newStore(t)) })
}

func newRun(name string, state workflow.RunState) *workflow.Run {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &workflow.Run{
		Entity:    approvals.Entity{CreatedAt: now, UpdatedAt: now},
		ID:        id.NewRunID(),
		Name:      name,
		Version:   1,
		State:     state,
		Input:     []byte(`{"applicantId":"a-1"}`),
		StartedAt: now,
	}
}

func testRunLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	run := newRun("request-approval", workflow.RunStateRunning)
	require.NoError(t, s.CreateRun(ctx, run))

	err := s.CreateRun(ctx, run)
	assert.Error(t, err, "duplicate run id must be rejected")

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "request-approval", got.Name)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, workflow.RunStateRunning, got.State)
	assert.Equal(t, run.Input, got.Input)
	assert.Nil(t, got.CompletedAt)

	done := time.Now().UTC().Truncate(time.Millisecond)
	got.State = workflow.RunStateCompleted
	got.CustomStatus = "approved"
	got.Output = []byte(`{"approved":true}`)
	got.CompletedAt = &done
	require.NoError(t, s.UpdateRun(ctx, got))

	again, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStateCompleted, again.State)
	assert.Equal(t, "approved", again.CustomStatus)
	assert.JSONEq(t, `{"approved":true}`, string(again.Output))
	require.NotNil(t, again.CompletedAt)
	assert.True(t, again.CompletedAt.Equal(done), "completed_at = %v, want %v", again.CompletedAt, done)

	_, err = s.GetRun(ctx, id.NewRunID())
	assert.True(t, errors.Is(err, approvals.ErrRunNotFound), "got %v", err)

	err = s.UpdateRun(ctx, newRun("missing", workflow.RunStateRunning))
	assert.True(t, errors.Is(err, approvals.ErrRunNotFound), "got %v", err)
}

func testListRuns(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := newRun("request-approval", workflow.RunStateRunning)
	b := newRun("request-approval", workflow.RunStateCompleted)
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	c := newRun("other", workflow.RunStateRunning)
	c.CreatedAt = a.CreatedAt.Add(2 * time.Second)
	for _, r := range []*workflow.Run{a, b, c} {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	running, err := s.ListRuns(ctx, workflow.ListOpts{State: workflow.RunStateRunning})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	named, err := s.ListRuns(ctx, workflow.ListOpts{Name: "request-approval"})
	require.NoError(t, err)
	require.Len(t, named, 2)
	assert.Equal(t, a.ID, named[0].ID)
	assert.Equal(t, b.ID, named[1].ID)

	page, err := s.ListRuns(ctx, workflow.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, b.ID, page[0].ID)
}

func testCheckpoints(t *testing.T, s store.Store) {
	ctx := context.Background()
	run := newRun("request-approval", workflow.RunStateRunning)
	require.NoError(t, s.CreateRun(ctx, run))

	data, err := s.GetCheckpoint(ctx, run.ID, "settings")
	require.NoError(t, err)
	assert.Nil(t, data, "missing checkpoint returns nil data")

	require.NoError(t, s.SaveCheckpoint(ctx, run.ID, "side-effect:settings", []byte(`{"channel":"email"}`)))
	require.NoError(t, s.SaveCheckpoint(ctx, run.ID, "persist-correlation", []byte("key")))
	require.NoError(t, s.SaveCheckpoint(ctx, run.ID, "send-approval-request:email", []byte{}))

	data, err = s.GetCheckpoint(ctx, run.ID, "send-approval-request:email")
	require.NoError(t, err)
	assert.NotNil(t, data, "empty checkpoint must be distinguishable from a missing one")
	assert.Empty(t, data)

	cps, err := s.ListCheckpoints(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, cps, 3)
	want := []string{"side-effect:settings", "persist-correlation", "send-approval-request:email"}
	for i, cp := range cps {
		assert.Equal(t, want[i], cp.StepName)
		assert.Equal(t, run.ID, cp.RunID)
		assert.False(t, cp.ID.IsNil())
	}
	assert.JSONEq(t, `{"channel":"email"}`, string(cps[0].Data))

	other, err := s.ListCheckpoints(ctx, id.NewRunID())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testEvents(t *testing.T, s store.Store) {
	ctx := context.Background()
	runID := id.NewRunID()

	evt, err := s.PeekEvent(ctx, runID, "ReceiveApprovalResponse")
	require.NoError(t, err)
	assert.Nil(t, evt)

	first := &event.Event{
		ID: id.NewEventID(), RunID: runID, Name: "ReceiveApprovalResponse",
		Payload: []byte("true"), CreatedAt: time.Now().UTC(),
	}
	second := &event.Event{
		ID: id.NewEventID(), RunID: runID, Name: "ReceiveApprovalResponse",
		Payload: []byte("false"), CreatedAt: time.Now().UTC().Add(time.Millisecond),
	}
	elsewhere := &event.Event{
		ID: id.NewEventID(), RunID: id.NewRunID(), Name: "ReceiveApprovalResponse",
		Payload: []byte("true"), CreatedAt: time.Now().UTC(),
	}
	for _, e := range []*event.Event{first, second, elsewhere} {
		require.NoError(t, s.PublishEvent(ctx, e))
	}

	evt, err = s.PeekEvent(ctx, runID, "ReceiveApprovalResponse")
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, first.ID, evt.ID)
	assert.Equal(t, runID, evt.RunID)
	assert.Equal(t, []byte("true"), evt.Payload)

	other, err := s.PeekEvent(ctx, runID, "SomethingElse")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, s.AckEvent(ctx, first.ID))
	evt, err = s.PeekEvent(ctx, runID, "ReceiveApprovalResponse")
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, second.ID, evt.ID)

	err = s.AckEvent(ctx, id.NewEventID())
	assert.True(t, errors.Is(err, approvals.ErrEventNotFound), "got %v", err)
}

func testCorrelations(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	first := &correlation.Record{
		Namespace: correlation.DefaultNamespace, Key: "entity-1",
		EntityID: "entity-1", InstanceID: "inst-1", CreatedAt: base,
	}
	second := &correlation.Record{
		Namespace: correlation.DefaultNamespace, Key: "entity-1_20250102T030405006",
		EntityID: "entity-1", InstanceID: "inst-2", CreatedAt: base.Add(time.Second),
	}
	require.NoError(t, s.InsertCorrelation(ctx, first))
	require.NoError(t, s.InsertCorrelation(ctx, second))

	dup := *first
	dup.InstanceID = "inst-3"
	err := s.InsertCorrelation(ctx, &dup)
	assert.True(t, errors.Is(err, approvals.ErrCorrelationExists), "got %v", err)

	got, err := s.GetCorrelation(ctx, correlation.DefaultNamespace, "entity-1")
	require.NoError(t, err)
	assert.Equal(t, "inst-1", got.InstanceID, "existing key must not be overwritten")

	byInst, err := s.GetCorrelationByInstance(ctx, correlation.DefaultNamespace, "inst-2")
	require.NoError(t, err)
	assert.Equal(t, second.Key, byInst.Key)

	list, err := s.ListCorrelations(ctx, correlation.DefaultNamespace, "entity-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.Key, list[0].Key)
	assert.Equal(t, second.Key, list[1].Key)

	_, err = s.GetCorrelation(ctx, "OtherNamespace", "entity-1")
	assert.True(t, errors.Is(err, approvals.ErrCorrelationNotFound), "got %v", err)
	_, err = s.GetCorrelationByInstance(ctx, correlation.DefaultNamespace, "inst-404")
	assert.True(t, errors.Is(err, approvals.ErrCorrelationNotFound), "got %v", err)
}
