package sqlite

import (
	"context"
	"fmt"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/correlation"
)

const correlationColumns = `namespace, key, entity_id, instance_id, created_at`

// InsertCorrelation writes rec unless its key is taken, in which case it
// returns approvals.ErrCorrelationExists and leaves the stored row alone.
func (s *Store) InsertCorrelation(ctx context.Context, rec *correlation.Record) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals_correlations (`+correlationColumns+`)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO NOTHING`,
		rec.Namespace, rec.Key, rec.EntityID, rec.InstanceID, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("approvals/sqlite: insert correlation: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite always reports affected rows
	if rows == 0 {
		return approvals.ErrCorrelationExists
	}
	return nil
}

// GetCorrelation returns the record stored under (namespace, key).
func (s *Store) GetCorrelation(ctx context.Context, namespace, key string) (*correlation.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+correlationColumns+` FROM approvals_correlations WHERE namespace = ? AND key = ?`,
		namespace, key,
	)
	return scanCorrelation(row, "get correlation")
}

// GetCorrelationByInstance returns the record that maps to instanceID.
func (s *Store) GetCorrelationByInstance(ctx context.Context, namespace, instanceID string) (*correlation.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+correlationColumns+` FROM approvals_correlations
		WHERE namespace = ? AND instance_id = ?
		ORDER BY created_at ASC
		LIMIT 1`,
		namespace, instanceID,
	)
	return scanCorrelation(row, "get correlation by instance")
}

// ListCorrelations returns every record for entityID, oldest first.
func (s *Store) ListCorrelations(ctx context.Context, namespace, entityID string) ([]*correlation.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+correlationColumns+` FROM approvals_correlations
		WHERE namespace = ? AND entity_id = ?
		ORDER BY created_at ASC, key ASC`,
		namespace, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("approvals/sqlite: list correlations: %w", err)
	}
	defer rows.Close()

	var result []*correlation.Record
	for rows.Next() {
		rec, scanErr := scanCorrelation(rows, "list correlations")
		if scanErr != nil {
			return nil, scanErr
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanCorrelation(row scanner, op string) (*correlation.Record, error) {
	var (
		rec       correlation.Record
		createdAt string
	)
	err := row.Scan(&rec.Namespace, &rec.Key, &rec.EntityID, &rec.InstanceID, &createdAt)
	if err != nil {
		if isNoRows(err) {
			return nil, approvals.ErrCorrelationNotFound
		}
		return nil, fmt.Errorf("approvals/sqlite: %s: %w", op, err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("approvals/sqlite: %s: parse time: %w", op, err)
	}
	return &rec, nil
}
