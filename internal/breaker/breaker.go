// Package breaker suspends traffic to a failing venue and probes for
// recovery after a timeout.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// State of a breaker.
type State int32

const (
	// Closed admits traffic; consecutive failures are counted.
	Closed State = iota
	// Open rejects traffic until the recovery timeout elapses.
	Open
	// HalfOpen admits probes; the next outcome decides the mode.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker is a per-venue circuit breaker. The failure counter and the
// last-failure timestamp live on atomics so the closed-mode fast path
// never takes the lock.
type Breaker struct {
	failureThreshold int32
	recoveryTimeout  time.Duration

	failures    atomic.Int32
	lastFailure atomic.Int64 // unix nanos

	mu    sync.Mutex
	state atomic.Int32
}

// New creates a closed breaker.
func New(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: int32(failureThreshold),
		recoveryTimeout:  recoveryTimeout,
	}
}

// Allow reports whether a request may go to the venue. An open breaker
// whose recovery timeout has elapsed transitions to half-open and
// admits the caller; concurrent callers during half-open all see true.
func (b *Breaker) Allow() bool {
	if State(b.state.Load()) == Closed {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch State(b.state.Load()) {
	case Open:
		last := time.Unix(0, b.lastFailure.Load())
		if time.Since(last) >= b.recoveryTimeout {
			b.state.Store(int32(HalfOpen))
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.Store(int32(Closed))
	b.failures.Store(0)
}

// RecordFailure counts a venue failure; reaching the threshold while
// closed, or any failure while half-open, opens the breaker.
func (b *Breaker) RecordFailure() {
	count := b.failures.Add(1)
	b.lastFailure.Store(time.Now().UnixNano())

	b.mu.Lock()
	defer b.mu.Unlock()

	switch State(b.state.Load()) {
	case Closed:
		if count >= b.failureThreshold {
			b.state.Store(int32(Open))
		}
	case HalfOpen:
		b.state.Store(int32(Open))
	}
}

// State returns the current mode.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// FailureCount returns the consecutive failure count.
func (b *Breaker) FailureCount() int {
	return int(b.failures.Load())
}

// ForceOpen trips the breaker, stamping the failure time so the
// recovery timeout starts now. Operational/testing hook.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.Store(int32(Open))
	b.lastFailure.Store(time.Now().UnixNano())
}

// ForceClose resets the breaker. Operational/testing hook.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.Store(int32(Closed))
	b.failures.Store(0)
}
