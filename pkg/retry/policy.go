// Package retry computes backoff schedules for venue submissions and
// classifies errors into retry decisions.
package retry

import (
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mExOms/execution-gateway/pkg/types"
)

// Decision is the classifier verdict for a failed attempt.
type Decision int

const (
	// Immediate retries without delay. Nothing classifies here today;
	// the value exists so adapters reporting structured hints can use
	// it without a contract change.
	Immediate Decision = iota
	// Backoff retries after the exponential delay.
	Backoff
	// NoRetry surfaces the error to the caller.
	NoRetry
)

// Policy holds the retry schedule. MaxRetries counts retries after the
// initial attempt, so a submission makes at most MaxRetries+1 venue
// calls.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NewPolicy builds a policy from the millisecond config values.
func NewPolicy(maxRetries int, baseDelayMs, maxDelayMs int64) Policy {
	return Policy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Duration(baseDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(maxDelayMs) * time.Millisecond,
	}
}

// ShouldRetry reports whether another attempt is allowed after attempt
// (zero-based) failed.
func (p Policy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxRetries
}

// NewBackOff returns the delay source for one submission. The
// ExponentialBackOff parameters encode the schedule exactly: nominal
// delay base·2^(k−1) capped at MaxDelay, with each draw jittered
// uniformly over ±25%.
func (p Policy) NewBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.RandomizationFactor = 0.25
	bo.Multiplier = 2
	bo.MaxInterval = p.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Nominal is the un-jittered delay before retry attempt k (k ≥ 1).
// Exposed for bound checks in tests and for operator math.
func (p Policy) Nominal(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Transient venue messages worth another attempt, and terminal ones
// that will not improve with time. Both sets are extension points;
// structured error kinds win over the vocabulary when present.
var (
	transientVocabulary = []string{"timeout", "rate limit", "temporary", "service unavailable"}
	terminalVocabulary  = []string{"insufficient funds", "invalid order", "market closed"}
)

// Classify maps a failed attempt's error onto a retry decision.
func Classify(err error) Decision {
	e := types.AsError(err)
	switch e.Kind {
	case types.ErrKindNetwork, types.ErrKindData:
		return Backoff
	case types.ErrKindRiskLimit, types.ErrKindValidation, types.ErrKindSerialization:
		return NoRetry
	}

	msg := strings.ToLower(e.Error())
	for _, s := range terminalVocabulary {
		if strings.Contains(msg, s) {
			return NoRetry
		}
	}
	for _, s := range transientVocabulary {
		if strings.Contains(msg, s) {
			return Backoff
		}
	}
	// Unrecognized venue errors are treated as possibly transient.
	return Backoff
}
