package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/correlation"
)

const correlationColumns = `namespace, key, entity_id, instance_id, created_at`

// InsertCorrelation writes rec unless its key is taken, in which case it
// returns approvals.ErrCorrelationExists and leaves the stored row alone.
func (s *Store) InsertCorrelation(ctx context.Context, rec *correlation.Record) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO approvals_correlations (`+correlationColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, key) DO NOTHING`,
		rec.Namespace, rec.Key, rec.EntityID, rec.InstanceID, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("approvals/postgres: insert correlation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return approvals.ErrCorrelationExists
	}
	return nil
}

// GetCorrelation returns the record stored under (namespace, key).
func (s *Store) GetCorrelation(ctx context.Context, namespace, key string) (*correlation.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+correlationColumns+` FROM approvals_correlations WHERE namespace = $1 AND key = $2`,
		namespace, key,
	)
	return scanCorrelation(row, "get correlation")
}

// GetCorrelationByInstance returns the record that maps to instanceID.
func (s *Store) GetCorrelationByInstance(ctx context.Context, namespace, instanceID string) (*correlation.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+correlationColumns+` FROM approvals_correlations
		WHERE namespace = $1 AND instance_id = $2
		ORDER BY created_at ASC
		LIMIT 1`,
		namespace, instanceID,
	)
	return scanCorrelation(row, "get correlation by instance")
}

// ListCorrelations returns every record for entityID, oldest first.
func (s *Store) ListCorrelations(ctx context.Context, namespace, entityID string) ([]*correlation.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+correlationColumns+` FROM approvals_correlations
		WHERE namespace = $1 AND entity_id = $2
		ORDER BY created_at ASC, key ASC`,
		namespace, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("approvals/postgres: list correlations: %w", err)
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

func scanCorrelation(row pgx.Row, op string) (*correlation.Record, error) {
	var rec correlation.Record
	err := row.Scan(&rec.Namespace, &rec.Key, &rec.EntityID, &rec.InstanceID, &rec.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, approvals.ErrCorrelationNotFound
		}
		return nil, fmt.Errorf("approvals/postgres: %s: %w", op, err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
