// Package backoff spaces out retries of approval activities such as
// notification sends and artifact finalization.
//
// The strategy is chosen by name from the workflow configuration
// (workflow.backoff) and shaped by workflow.retryInitial and
// workflow.retryMax. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Kind names a retry delay strategy in configuration.
type Kind string

const (
	// KindConstant waits Initial before every retry.
	KindConstant Kind = "constant"
	// KindLinear waits Initial times the retry number.
	KindLinear Kind = "linear"
	// KindExponential doubles the wait on every retry.
	KindExponential Kind = "exponential"
	// KindJitter picks a random wait below the exponential one.
	KindJitter Kind = "jitter"
)

// Default initial and maximum delays for activity retries.
const (
	DefaultInitial = time.Second
	DefaultMax     = time.Minute
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry n. Retry 1 follows the
	// first failed attempt.
	Delay(retry int) time.Duration
}

// ParseKind resolves a configured strategy name. Matching ignores case
// and surrounding space; "" resolves to KindJitter.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindJitter, true
	case KindConstant, KindLinear, KindExponential, KindJitter:
		return k, true
	default:
		return "", false
	}
}

// New returns the strategy named by kind. Non-positive delays fall back
// to DefaultInitial and DefaultMax, and an unknown kind falls back to
// KindJitter.
func New(kind Kind, initial, maxDelay time.Duration) Strategy {
	if initial <= 0 {
		initial = DefaultInitial
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMax
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	switch kind {
	case KindConstant:
		return Constant(initial)
	case KindLinear:
		return Linear{Initial: initial, Max: maxDelay}
	case KindExponential:
		return Exponential{Initial: initial, Max: maxDelay}
	default:
		return Jitter{Initial: initial, Max: maxDelay}
	}
}

// DefaultStrategy is the jittered exponential backoff with the default
// delays.
func DefaultStrategy() Strategy {
	return New(KindJitter, DefaultInitial, DefaultMax)
}

// Constant waits the same time before every retry.
type Constant time.Duration

// Delay returns c.
func (c Constant) Delay(int) time.Duration { return time.Duration(c) }

// Linear waits Initial*retry, capped at Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial*retry, capped at Max.
func (l Linear) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if l.Initial <= 0 {
		return 0
	}
	if l.Max > 0 && time.Duration(retry) > l.Max/l.Initial {
		return l.Max
	}
	return l.Initial * time.Duration(retry)
}

// Exponential waits Initial*2^(retry-1), capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial*2^(retry-1), capped at Max.
func (e Exponential) Delay(retry int) time.Duration {
	return doubled(e.Initial, e.Max, retry)
}

// Jitter waits a random time in [0, Initial*2^(retry-1)], capped at Max.
// Approvers resuming many runs at once do not retry in lockstep.
type Jitter struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns a random duration up to the exponential delay.
func (j Jitter) Delay(retry int) time.Duration {
	ceil := int64(doubled(j.Initial, j.Max, retry))
	if ceil <= 0 {
		return 0
	}
	if ceil < math.MaxInt64 {
		ceil++
	}
	return time.Duration(rand.Int64N(ceil)) //nolint:gosec // jitter does not need crypto rand
}

// doubled returns initial doubled retry-1 times without exceeding limit.
func doubled(initial, limit time.Duration, retry int) time.Duration {
	d := initial
	for i := 1; i < retry && d > 0; i++ {
		if limit > 0 && d > limit/2 {
			return limit
		}
		if d > math.MaxInt64/2 {
			return math.MaxInt64
		}
		d *= 2
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
