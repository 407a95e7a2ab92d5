package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/clock"
)

// keyTimeLayout renders the disambiguation suffix as yyyyMMddTHHmmss; the
// milliseconds are appended as three digits.
const keyTimeLayout = "20060102T150405"

// Service persists and resolves correlation records.
type Service struct {
	store     Store
	namespace string
	clock     clock.Clock
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) Option { return func(s *Service) { s.namespace = ns } }

// WithClock sets the clock used for disambiguation timestamps.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService creates a correlation service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		namespace: DefaultNamespace,
		clock:     clock.Real{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Namespace returns the namespace used by Persist and Lookup.
func (s *Service) Namespace() string { return s.namespace }

// Persist maps entityID to instanceID under the service namespace and
// returns the key it was written under.
func (s *Service) Persist(ctx context.Context, entityID, instanceID string) (string, error) {
	return s.PersistWithDisambiguation(ctx, s.namespace, entityID, instanceID)
}

// PersistWithDisambiguation writes (namespace, key) -> value. When key is
// taken, the record goes to key + "_" + timestamp instead and the existing
// record is left untouched. Re-issuing the call for a value that was
// already written returns the original key, so a retried activity never
// creates a second record.
//
// Two writers disambiguating the same key in the same millisecond collide;
// the loser gets approvals.ErrCorrelationExists and a retry picks a fresh
// timestamp.
func (s *Service) PersistWithDisambiguation(ctx context.Context, namespace, key, value string) (string, error) {
	if key == "" {
		return "", approvals.ErrMissingEntityID
	}

	prior, err := s.store.GetCorrelationByInstance(ctx, namespace, value)
	switch {
	case err == nil:
		return prior.Key, nil
	case !errors.Is(err, approvals.ErrCorrelationNotFound):
		return "", fmt.Errorf("correlation: lookup instance %q: %w", value, err)
	}

	now := s.clock.Now().UTC()
	rec := &Record{
		Namespace:  namespace,
		Key:        key,
		EntityID:   key,
		InstanceID: value,
		CreatedAt:  now,
	}

	_, err = s.store.GetCorrelation(ctx, namespace, key)
	switch {
	case errors.Is(err, approvals.ErrCorrelationNotFound):
		insertErr := s.store.InsertCorrelation(ctx, rec)
		if insertErr == nil {
			return rec.Key, nil
		}
		if !errors.Is(insertErr, approvals.ErrCorrelationExists) {
			return "", fmt.Errorf("correlation: insert %q: %w", key, insertErr)
		}
		// Lost a concurrent first write; fall through to disambiguate.
	case err != nil:
		return "", fmt.Errorf("correlation: lookup %q: %w", key, err)
	}

	rec.Key = DisambiguatedKey(key, now)
	if err := s.store.InsertCorrelation(ctx, rec); err != nil {
		return "", fmt.Errorf("correlation: insert %q: %w", rec.Key, err)
	}

	s.logger.Info("correlation key disambiguated",
		slog.String("namespace", namespace),
		slog.String("entity_id", key),
		slog.String("key", rec.Key),
		slog.String("instance_id", value),
	)
	return rec.Key, nil
}

// Lookup resolves entityID under the service namespace. Only the exact key
// is consulted; disambiguated records are not searched.
func (s *Service) Lookup(ctx context.Context, entityID string) (string, error) {
	return s.LookupIn(ctx, s.namespace, entityID)
}

// LookupIn resolves key under namespace.
func (s *Service) LookupIn(ctx context.Context, namespace, key string) (string, error) {
	if key == "" {
		return "", approvals.ErrMissingEntityID
	}
	rec, err := s.store.GetCorrelation(ctx, namespace, key)
	if err != nil {
		return "", err
	}
	return rec.InstanceID, nil
}

// History lists every record written for entityID, oldest first.
func (s *Service) History(ctx context.Context, entityID string) ([]*Record, error) {
	return s.store.ListCorrelations(ctx, s.namespace, entityID)
}

// DisambiguatedKey returns key + "_" + t formatted as yyyyMMddTHHmmssfff.
func DisambiguatedKey(key string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s_%s%03d", key, t.Format(keyTimeLayout), t.Nanosecond()/int(time.Millisecond))
}
