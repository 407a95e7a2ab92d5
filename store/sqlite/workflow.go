package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/id"
	"github.com/xraph/approvals/workflow"
)

const runColumns = `id, name, version, state, input, output, error, custom_status,
	started_at, completed_at, created_at, updated_at`

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals_workflow_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.Name, run.Version, string(run.State),
		run.Input, run.Output, run.Error, run.CustomStatus,
		formatTime(run.StartedAt), nullTime(run.CompletedAt),
		formatTime(run.CreatedAt), formatTime(run.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return approvals.ErrInvalidState
		}
		return fmt.Errorf("approvals/sqlite: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM approvals_workflow_runs WHERE id = ?`,
		runID.String(),
	)
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, approvals.ErrRunNotFound
		}
		return nil, fmt.Errorf("approvals/sqlite: get run: %w", err)
	}
	return r, nil
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	run.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals_workflow_runs SET
			state = ?, output = ?, error = ?, custom_status = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(run.State), run.Output, run.Error, run.CustomStatus,
		nullTime(run.CompletedAt), formatTime(run.UpdatedAt), run.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("approvals/sqlite: update run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite always reports affected rows
	if rows == 0 {
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
		where = append(where, "state = ?")
		args = append(args, string(opts.State))
	}
	if opts.Name != "" {
		where = append(where, "name = ?")
		args = append(args, opts.Name)
	}

	q := `SELECT ` + runColumns + ` FROM approvals_workflow_runs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at ASC, id ASC`
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("approvals/sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		r, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("approvals/sqlite: list runs scan: %w", scanErr)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SaveCheckpoint persists checkpoint data for a workflow step. A rewrite
// replaces the row so the step moves to the end of the write order.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO approvals_checkpoints (id, run_id, step_name, data, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id.NewCheckpointID().String(), runID.String(), stepName, data, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("approvals/sqlite: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
// Returns nil data if no checkpoint exists.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM approvals_checkpoints WHERE run_id = ? AND step_name = ?`,
		runID.String(), stepName,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil // no checkpoint is not an error
		}
		return nil, fmt.Errorf("approvals/sqlite: get checkpoint: %w", err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// ListCheckpoints returns all checkpoints for a workflow run in write order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, step_name, data, created_at
		FROM approvals_checkpoints
		WHERE run_id = ?
		ORDER BY seq ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("approvals/sqlite: list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*workflow.Checkpoint
	for rows.Next() {
		var (
			cpID, createdAt string
			cp              = &workflow.Checkpoint{RunID: runID}
		)
		if err := rows.Scan(&cpID, &cp.StepName, &cp.Data, &createdAt); err != nil {
			return nil, fmt.Errorf("approvals/sqlite: list checkpoints scan: %w", err)
		}
		if cp.ID, err = id.ParseCheckpointID(cpID); err != nil {
			return nil, fmt.Errorf("approvals/sqlite: parse checkpoint id: %w", err)
		}
		if cp.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("approvals/sqlite: parse checkpoint time: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*workflow.Run, error) {
	var (
		rID, state                      string
		startedAt, createdAt, updatedAt string
		completedAt                     sql.NullString
		r                               workflow.Run
	)
	err := row.Scan(
		&rID, &r.Name, &r.Version, &state, &r.Input, &r.Output, &r.Error,
		&r.CustomStatus, &startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.ID, err = id.ParseRunID(rID); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	r.State = workflow.RunState(state)
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if completedAt.Valid {
		t, parseErr := parseTime(completedAt.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parse completed_at: %w", parseErr)
		}
		r.CompletedAt = &t
	}
	return &r, nil
}
