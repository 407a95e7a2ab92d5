package workflow

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/xraph/approvals/backoff"
	"github.com/xraph/approvals/id"
)

// RetryPolicy controls how the host re-runs a failing activity. Handlers
// never retry on their own; activities must be safe to re-issue.
type RetryPolicy struct {
	// MaxAttempts is the total number of executions, including the first.
	// Values below 1 mean 1.
	MaxAttempts int
	// Backoff computes the delay before each retry. Nil means no delay.
	Backoff backoff.Strategy
}

// DefaultRetryPolicy makes three attempts with the default backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: backoff.DefaultStrategy()}
}

type nonRetryable struct{ err error }

func (e nonRetryable) Error() string { return e.err.Error() }
func (e nonRetryable) Unwrap() error { return e.err }

// NonRetryable marks err so the host fails the step without retrying.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return nonRetryable{err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var nr nonRetryable
	return errors.As(err, &nr)
}

// StepInfo describes one activity execution.
type StepInfo struct {
	RunID    id.RunID
	Workflow string
	Step     string
	Attempt  int
	// IdempotencyKey is stable across attempts and process restarts.
	IdempotencyKey string
}

// Interceptor wraps activity execution. It must call next to run the
// activity unless it deliberately short-circuits.
type Interceptor func(ctx context.Context, info StepInfo, next func(ctx context.Context) error) error

type idempotencyKeyCtx struct{}

// stepNamespace seeds deterministic activity keys.
var stepNamespace = uuid.MustParse("5c7c6d0e-3b9a-4f8e-9f6e-6b1d2a4c8e10")

// NewIdempotencyKey derives the key for step within runID. The same pair
// always yields the same key.
func NewIdempotencyKey(runID id.RunID, step string) string {
	return uuid.NewSHA1(stepNamespace, []byte(runID.String()+"/"+step)).String()
}

// IdempotencyKey returns the key of the activity executing under ctx, or
// "" outside an activity. Collaborators use it to deduplicate re-issued
// calls.
func IdempotencyKey(ctx context.Context) string {
	k, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return k
}

// WithIdempotencyKey attaches key to ctx.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}
