package workflow

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/event"
	"github.com/xraph/approvals/race"
)

// Step executes a named activity. If a checkpoint exists for this step
// name, the activity is skipped. Otherwise it runs under the retry policy
// and a checkpoint is saved on success.
func (w *Workflow) Step(name string, fn func(ctx context.Context) error) error {
	data, err := w.lookup(name)
	if err != nil {
		return err
	}
	if data != nil {
		return nil
	}

	start := time.Now()
	if stepErr := w.execute(name, fn); stepErr != nil {
		w.emitter.EmitStepFailed(w.ctx, w.run, name, stepErr)
		return fmt.Errorf("workflow %s step %q: %w", w.run.Name, name, stepErr)
	}

	if err := w.save(name, []byte{}); err != nil {
		return err
	}
	w.emitter.EmitStepCompleted(w.ctx, w.run, name, time.Since(start))
	return nil
}

// StepWithResult executes a named activity that returns a typed value.
// The result is serialized via encoding/gob and saved as a checkpoint.
// On replay, the cached result is returned without re-executing fn.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func StepWithResult[T any](w *Workflow, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	data, err := w.lookup(name)
	if err != nil {
		return zero, err
	}
	if data != nil {
		var result T
		if decErr := gob.NewDecoder(bytes.NewReader(data)).Decode(&result); decErr != nil {
			return zero, fmt.Errorf("workflow %s: decode checkpoint %q: %w", w.run.Name, name, decErr)
		}
		return result, nil
	}

	var result T
	start := time.Now()
	stepErr := w.execute(name, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	if stepErr != nil {
		w.emitter.EmitStepFailed(w.ctx, w.run, name, stepErr)
		return zero, fmt.Errorf("workflow %s step %q: %w", w.run.Name, name, stepErr)
	}

	var buf bytes.Buffer
	if encErr := gob.NewEncoder(&buf).Encode(result); encErr != nil {
		return zero, fmt.Errorf("workflow %s: encode checkpoint %q: %w", w.run.Name, name, encErr)
	}
	if err := w.save(name, buf.Bytes()); err != nil {
		return zero, err
	}

	w.emitter.EmitStepCompleted(w.ctx, w.run, name, time.Since(start))
	return result, nil
}

// SideEffect records a non-deterministic value, such as a configuration
// snapshot, the first time it is evaluated. Replays return the recorded
// value and never call fn again. fn must not have external side effects.
func SideEffect[T any](w *Workflow, name string, fn func() (T, error)) (T, error) {
	var zero T
	step := "side-effect:" + name

	data, err := w.lookup(step)
	if err != nil {
		return zero, err
	}
	if data != nil {
		var v T
		if decErr := json.Unmarshal(data, &v); decErr != nil {
			return zero, fmt.Errorf("workflow %s: decode side effect %q: %w", w.run.Name, name, decErr)
		}
		return v, nil
	}

	v, err := fn()
	if err != nil {
		return zero, fmt.Errorf("workflow %s side effect %q: %w", w.run.Name, name, err)
	}
	enc, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: encode side effect %q: %w", w.run.Name, name, err)
	}
	if err := w.save(step, enc); err != nil {
		return zero, err
	}
	return v, nil
}

// Now returns the current time, recorded under name on first evaluation.
func (w *Workflow) Now(name string) (time.Time, error) {
	return SideEffect(w, "now:"+name, func() (time.Time, error) {
		return w.clock.Now().UTC(), nil
	})
}

// AwaitEvent suspends until an event named name is published for this run
// or deadline passes, whichever happens first. It returns the event, or
// nil if the deadline won. The outcome is checkpointed before the event is
// acknowledged. An event published after the deadline never wins, even
// when the run only resumes after it arrived; it stays unacked.
//
// If the workflow context is cancelled while waiting, the error is
// returned and nothing is recorded, so a resumed run waits again for the
// remainder of the same deadline.
func (w *Workflow) AwaitEvent(name string, deadline time.Time) (*event.Event, error) {
	step := "wait:" + name

	data, err := w.lookup(step)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if len(data) == 0 {
			return nil, nil
		}
		// JSON because event.Event carries typeid fields, which gob cannot encode.
		var evt event.Event
		if decErr := json.Unmarshal(data, &evt); decErr != nil {
			return nil, fmt.Errorf("workflow %s: decode wait checkpoint %q: %w", w.run.Name, name, decErr)
		}
		return &evt, nil
	}

	out, err := race.Race[*event.Event](w.ctx, w.bus.Source(w.run.ID, name, deadline), deadline, race.WithClock(w.clock))
	if err != nil {
		return nil, fmt.Errorf("workflow %s wait %q: %w", w.run.Name, name, err)
	}

	if out.TimedOut() {
		if err := w.save(step, []byte{}); err != nil {
			return nil, err
		}
		return nil, nil
	}

	evt := out.Value
	evtData, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: encode wait result %q: %w", w.run.Name, name, err)
	}
	if err := w.save(step, evtData); err != nil {
		return nil, err
	}
	if ackErr := w.bus.Ack(w.ctx, evt.ID); ackErr != nil {
		w.logger.Warn("failed to ack event",
			slog.String("event_id", evt.ID.String()),
			slog.String("error", ackErr.Error()),
		)
	}
	return evt, nil
}

// execute runs fn through the interceptor chain under the retry policy.
func (w *Workflow) execute(name string, fn func(ctx context.Context) error) error {
	attempts := w.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	key := NewIdempotencyKey(w.run.ID, name)
	ctx := WithIdempotencyKey(w.ctx, key)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		info := StepInfo{
			RunID:          w.run.ID,
			Workflow:       w.run.Name,
			Step:           name,
			Attempt:        attempt,
			IdempotencyKey: key,
		}
		if w.interceptor != nil {
			err = w.interceptor(ctx, info, fn)
		} else {
			err = fn(ctx)
		}
		if err == nil || IsNonRetryable(err) || w.ctx.Err() != nil {
			return err
		}
		if attempt == attempts {
			break
		}

		var delay time.Duration
		if w.retry.Backoff != nil {
			delay = w.retry.Backoff.Delay(attempt)
		}
		w.logger.Warn("activity failed, retrying",
			slog.String("run_id", w.run.ID.String()),
			slog.String("step", name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-w.ctx.Done():
			t.Stop()
			return w.ctx.Err()
		}
	}

	if attempts > 1 {
		return fmt.Errorf("%w (%d attempts): %w", approvals.ErrMaxRetriesExceeded, attempts, err)
	}
	return err
}
