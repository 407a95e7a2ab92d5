package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/id"
	"github.com/xraph/approvals/workflow"
)

const runColumns = `id, name, version, state, input, output, error, custom_status,
	started_at, completed_at, created_at, updated_at`

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO approvals_workflow_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID.String(), run.Name, run.Version, string(run.State),
		run.Input, run.Output, run.Error, run.CustomStatus,
		run.StartedAt, run.CompletedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return approvals.ErrInvalidState
		}
		return fmt.Errorf("approvals/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM approvals_workflow_runs WHERE id = $1`,
		runID.String(),
	)
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, approvals.ErrRunNotFound
		}
		return nil, fmt.Errorf("approvals/postgres: get run: %w", err)
	}
	return r, nil
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	run.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE approvals_workflow_runs SET
			state = $2, output = $3, error = $4, custom_status = $5,
			completed_at = $6, updated_at = $7
		WHERE id = $1`,
		run.ID.String(), string(run.State), run.Output, run.Error,
		run.CustomStatus, run.CompletedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("approvals/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return approvals.ErrRunNotFound
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	var (
		where []string
		args  []any
	)
	if opts.State != "" {
		args = append(args, string(opts.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if opts.Name != "" {
		args = append(args, opts.Name)
		where = append(where, fmt.Sprintf("name = $%d", len(args)))
	}

	q := `SELECT ` + runColumns + ` FROM approvals_workflow_runs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at ASC, id ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("approvals/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		r, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("approvals/postgres: list runs scan: %w", scanErr)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approvals/postgres: list runs rows: %w", err)
	}
	return runs, nil
}

// SaveCheckpoint persists checkpoint data for a workflow step.
// If a checkpoint already exists for the same run/step, it is replaced and
// moves to the end of the run's write order.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO approvals_checkpoints (id, run_id, step_name, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, step_name) DO UPDATE SET
			data = EXCLUDED.data,
			seq = EXCLUDED.seq,
			created_at = EXCLUDED.created_at`,
		id.NewCheckpointID().String(), runID.String(), stepName, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("approvals/postgres: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
// Returns nil data if no checkpoint exists.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM approvals_checkpoints WHERE run_id = $1 AND step_name = $2`,
		runID.String(), stepName,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil // no checkpoint is not an error
		}
		return nil, fmt.Errorf("approvals/postgres: get checkpoint: %w", err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// ListCheckpoints returns all checkpoints for a workflow run in write order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, step_name, data, created_at
		FROM approvals_checkpoints
		WHERE run_id = $1
		ORDER BY seq ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("approvals/postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*workflow.Checkpoint
	for rows.Next() {
		var (
			cpID string
			cp   = &workflow.Checkpoint{RunID: runID}
		)
		if err := rows.Scan(&cpID, &cp.StepName, &cp.Data, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("approvals/postgres: list checkpoints scan: %w", err)
		}
		if cp.ID, err = id.ParseCheckpointID(cpID); err != nil {
			return nil, fmt.Errorf("approvals/postgres: parse checkpoint id: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

func scanRun(row pgx.Row) (*workflow.Run, error) {
	var (
		rID   string
		state string
		r     workflow.Run
	)
	err := row.Scan(
		&rID, &r.Name, &r.Version, &state, &r.Input, &r.Output, &r.Error,
		&r.CustomStatus, &r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.ID, err = id.ParseRunID(rID); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	r.State = workflow.RunState(state)
	return &r, nil
}
