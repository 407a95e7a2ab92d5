// Package race resolves an awaited signal against a deadline timer.
//
// Race returns whichever side completes first and tears down the other:
// a resolved signal cancels the timer, and a fired timer stops listening
// for the signal. A signal that is already available when the race begins,
// or that becomes ready in the same instant the timer fires, wins. Sources
// that outlive a process must only report signals delivered by the
// deadline, so a run resumed late still times out.
//
//	out, err := race.Race(ctx, src, deadline, race.WithClock(clk))
//	if out.TimedOut() {
//	    // no signal before the deadline
//	}
package race

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/approvals/clock"
)

// Source delivers a signal value. Receive blocks until a value is
// available or ctx is done.
type Source[T any] interface {
	Receive(ctx context.Context) (T, error)
}

// Poller is implemented by sources that can report an already delivered
// signal without blocking.
type Poller[T any] interface {
	Poll(ctx context.Context) (T, bool, error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc[T any] func(ctx context.Context) (T, error)

// Receive calls f.
func (f SourceFunc[T]) Receive(ctx context.Context) (T, error) { return f(ctx) }

// Outcome is the result of a race.
type Outcome[T any] struct {
	// Signaled is true when the signal won.
	Signaled bool
	// Value is the signal value. It is the zero value on timeout.
	Value T
}

// TimedOut reports whether the deadline won.
func (o Outcome[T]) TimedOut() bool { return !o.Signaled }

// Signal returns a signalled outcome carrying v.
func Signal[T any](v T) Outcome[T] { return Outcome[T]{Signaled: true, Value: v} }

// Timeout returns a timed-out outcome.
func Timeout[T any]() Outcome[T] { return Outcome[T]{} }

// ── Timer ─────────────────────────────────────────

// Timer is a deadline timer whose cancellation is idempotent. Cancelling a
// timer that already fired is a no-op.
type Timer struct {
	t     clock.Timer
	once  sync.Once
	fired atomic.Bool
}

// NewTimer arms a timer for deadline on c. A deadline in the past fires
// immediately.
func NewTimer(c clock.Clock, deadline time.Time) *Timer {
	return &Timer{t: c.NewTimer(deadline.Sub(c.Now()))}
}

// C is the channel on which the deadline is delivered.
func (t *Timer) C() <-chan time.Time { return t.t.C() }

// Cancel stops the timer. It may be called any number of times, before or
// after the timer fired.
func (t *Timer) Cancel() {
	t.once.Do(func() { t.t.Stop() })
}

// Fired reports whether the race observed the deadline.
func (t *Timer) Fired() bool { return t.fired.Load() }

func (t *Timer) markFired() { t.fired.Store(true) }

// ── Race ──────────────────────────────────────────

type options struct {
	clock clock.Clock
	timer func(*Timer)
}

// Option configures a race.
type Option func(*options)

// WithClock sets the clock that drives the deadline. Defaults to clock.Real.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithTimerHook is called with the armed timer before the race waits.
// Tests use it to observe cancellation.
func WithTimerHook(fn func(*Timer)) Option {
	return func(o *options) { o.timer = fn }
}

type received[T any] struct {
	v   T
	err error
}

// Race waits for src to deliver a value or for deadline to pass, whichever
// happens first. The losing side is cancelled before Race returns. An
// error is returned only when src fails or ctx is done before either side
// resolves.
func Race[T any](ctx context.Context, src Source[T], deadline time.Time, opts ...Option) (Outcome[T], error) {
	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}

	poller, canPoll := src.(Poller[T])
	if canPoll {
		v, ok, err := poller.Poll(ctx)
		if err != nil {
			return Timeout[T](), err
		}
		if ok {
			return Signal(v), nil
		}
	}

	timer := NewTimer(o.clock, deadline)
	defer timer.Cancel()
	if o.timer != nil {
		o.timer(timer)
	}

	sctx, stopListening := context.WithCancel(ctx)
	defer stopListening()

	ch := make(chan received[T], 1)
	go func() {
		v, err := src.Receive(sctx)
		ch <- received[T]{v: v, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if ctx.Err() != nil {
				return Timeout[T](), ctx.Err()
			}
			return Timeout[T](), r.err
		}
		timer.Cancel()
		return Signal(r.v), nil

	case <-timer.C():
		timer.markFired()

		select {
		case r := <-ch:
			if r.err == nil {
				return Signal(r.v), nil
			}
		default:
		}
		// A signal delivered by the deadline but not yet read still wins.
		if canPoll {
			if v, ok, err := poller.Poll(ctx); err == nil && ok {
				return Signal(v), nil
			}
		}
		stopListening()
		return Timeout[T](), nil

	case <-ctx.Done():
		return Timeout[T](), ctx.Err()
	}
}
