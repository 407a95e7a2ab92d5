package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/correlation"
)

// InsertCorrelation writes rec with SETNX; an existing key is left alone
// and reported as approvals.ErrCorrelationExists.
func (s *Store) InsertCorrelation(ctx context.Context, rec *correlation.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("approvals/redis: encode correlation: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.keys.correlation(rec.Namespace, rec.Key), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("approvals/redis: insert correlation: %w", err)
	}
	if !ok {
		return approvals.ErrCorrelationExists
	}

	pipe := s.client.TxPipeline()
	pipe.SetNX(ctx, s.keys.correlationByInstance(rec.Namespace, rec.InstanceID), rec.Key, 0)
	pipe.ZAdd(ctx, s.keys.correlationsByEntity(rec.Namespace, rec.EntityID), goredis.Z{
		Score:  float64(rec.CreatedAt.UnixMilli()),
		Member: rec.Key,
	})
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("approvals/redis: index correlation: %w", err)
	}
	return nil
}

// GetCorrelation returns the record stored under (namespace, key).
func (s *Store) GetCorrelation(ctx context.Context, namespace, key string) (*correlation.Record, error) {
	raw, err := s.client.Get(ctx, s.keys.correlation(namespace, key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, approvals.ErrCorrelationNotFound
		}
		return nil, fmt.Errorf("approvals/redis: get correlation: %w", err)
	}
	var rec correlation.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("approvals/redis: decode correlation: %w", err)
	}
	return &rec, nil
}

// GetCorrelationByInstance returns the record that maps to instanceID.
func (s *Store) GetCorrelationByInstance(ctx context.Context, namespace, instanceID string) (*correlation.Record, error) {
	key, err := s.client.Get(ctx, s.keys.correlationByInstance(namespace, instanceID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, approvals.ErrCorrelationNotFound
		}
		return nil, fmt.Errorf("approvals/redis: get correlation by instance: %w", err)
	}
	return s.GetCorrelation(ctx, namespace, key)
}

// ListCorrelations returns every record for entityID, oldest first.
func (s *Store) ListCorrelations(ctx context.Context, namespace, entityID string) ([]*correlation.Record, error) {
	keys, err := s.client.ZRange(ctx, s.keys.correlationsByEntity(namespace, entityID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("approvals/redis: list correlations: %w", err)
	}

	result := make([]*correlation.Record, 0, len(keys))
	for _, key := range keys {
		rec, getErr := s.GetCorrelation(ctx, namespace, key)
		if getErr != nil {
			return nil, getErr
		}
		result = append(result, rec)
	}
	return result, nil
}
