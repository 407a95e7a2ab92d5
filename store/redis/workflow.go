package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/id"
	"github.com/xraph/approvals/workflow"
)

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	key := s.keys.run(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("approvals/redis: create run exists: %w", err)
	}
	if exists > 0 {
		return approvals.ErrInvalidState
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, runToMap(run))
	pipe.SAdd(ctx, s.keys.runIDs(), rID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("approvals/redis: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.run(runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("approvals/redis: get run: %w", err)
	}
	if len(vals) == 0 {
		return nil, approvals.ErrRunNotFound
	}
	return mapToRun(vals)
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	key := s.keys.run(run.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("approvals/redis: update run exists: %w", err)
	}
	if exists == 0 {
		return approvals.ErrRunNotFound
	}

	run.UpdatedAt = time.Now().UTC()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, runToMap(run))
	if run.CompletedAt == nil {
		pipe.HDel(ctx, key, "completed_at")
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("approvals/redis: update run: %w", err)
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	ids, err := s.client.SMembers(ctx, s.keys.runIDs()).Result()
	if err != nil {
		return nil, fmt.Errorf("approvals/redis: list runs smembers: %w", err)
	}

	var runs []*workflow.Run
	for _, rID := range ids {
		vals, getErr := s.client.HGetAll(ctx, s.keys.run(rID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		r, convErr := mapToRun(vals)
		if convErr != nil {
			s.logger.Warn("skipping unreadable run", "run_id", rID, "error", convErr)
			continue
		}
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.Name != "" && r.Name != opts.Name {
			continue
		}
		runs = append(runs, r)
	}

	sort.Slice(runs, func(i, k int) bool {
		return runs[i].CreatedAt.Before(runs[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(runs) {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// SaveCheckpoint persists checkpoint data for a workflow step. A rewrite
// moves the step to the end of the run's write order.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	rID := runID.String()

	seq, err := s.client.Incr(ctx, s.keys.checkpointSeq()).Result()
	if err != nil {
		return fmt.Errorf("approvals/redis: checkpoint seq: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keys.checkpoint(rID, stepName),
		"id", id.NewCheckpointID().String(),
		"run_id", rID,
		"step_name", stepName,
		"data", string(data),
		"created_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, s.keys.checkpointIndex(rID), goredis.Z{Score: float64(seq), Member: stepName})
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("approvals/redis: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	data, err := s.client.HGet(ctx, s.keys.checkpoint(runID.String(), stepName), "data").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil // no checkpoint is not an error
		}
		return nil, fmt.Errorf("approvals/redis: get checkpoint: %w", err)
	}
	return []byte(data), nil
}

// ListCheckpoints returns all checkpoints for a workflow run in write order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rID := runID.String()
	steps, err := s.client.ZRange(ctx, s.keys.checkpointIndex(rID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("approvals/redis: list checkpoints: %w", err)
	}

	checkpoints := make([]*workflow.Checkpoint, 0, len(steps))
	for _, step := range steps {
		vals, getErr := s.client.HGetAll(ctx, s.keys.checkpoint(rID, step)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}

		cpID, _ := id.ParseCheckpointID(vals["id"]) //nolint:errcheck // written by SaveCheckpoint
		createdAt, _ := time.Parse(time.RFC3339Nano, vals["created_at"]) //nolint:errcheck // written by SaveCheckpoint

		checkpoints = append(checkpoints, &workflow.Checkpoint{
			ID:        cpID,
			RunID:     runID,
			StepName:  vals["step_name"],
			Data:      []byte(vals["data"]),
			CreatedAt: createdAt,
		})
	}
	return checkpoints, nil
}

// ── helpers ──

func runToMap(r *workflow.Run) map[string]interface{} {
	m := map[string]interface{}{
		"id":            r.ID.String(),
		"name":          r.Name,
		"version":       strconv.Itoa(r.Version),
		"state":         string(r.State),
		"input":         string(r.Input),
		"output":        string(r.Output),
		"error":         r.Error,
		"custom_status": r.CustomStatus,
		"started_at":    r.StartedAt.Format(time.RFC3339Nano),
		"created_at":    r.Entity.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    r.Entity.UpdatedAt.Format(time.RFC3339Nano),
	}
	if r.CompletedAt != nil {
		m["completed_at"] = r.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToRun(m map[string]string) (*workflow.Run, error) {
	rID, err := id.ParseRunID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("approvals/redis: parse run id: %w", err)
	}
	version, err := strconv.Atoi(m["version"])
	if err != nil {
		return nil, fmt.Errorf("approvals/redis: parse run version: %w", err)
	}

	startedAt, _ := time.Parse(time.RFC3339Nano, m["started_at"]) //nolint:errcheck // written by runToMap
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // written by runToMap
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // written by runToMap

	r := &workflow.Run{
		Entity: approvals.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:           rID,
		Name:         m["name"],
		Version:      version,
		State:        workflow.RunState(m["state"]),
		Input:        []byte(m["input"]),
		Output:       []byte(m["output"]),
		Error:        m["error"],
		CustomStatus: m["custom_status"],
		StartedAt:    startedAt,
	}
	if len(r.Input) == 0 {
		r.Input = nil
	}
	if len(r.Output) == 0 {
		r.Output = nil
	}

	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // written by runToMap
		r.CompletedAt = &t
	}
	return r, nil
}
