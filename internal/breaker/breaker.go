// Package breaker implements the persistence circuit breaker: once BoltDB
// writes fail continuously for FailureThreshold, the breaker opens and
// every admission decision fails fast with occerr.ErrPersistenceUnavailable
// instead of hanging on a disk that is not coming back soon.
//
// The shape — a mutex-guarded counter plus atomic lifetime totals for
// metrics — is carried over from the token bucket rate limiter the teacher
// used to gate containment actions; here the "cost" being metered is
// consecutive wall-clock time of failure, not a per-action token price.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// Breaker tracks consecutive persistence failures and trips open once they
// span FailureThreshold of continuous failure.
type Breaker struct {
	mu               sync.Mutex
	failureThreshold time.Duration
	firstFailureAt   time.Time
	failing          bool
	open             bool

	tripCount   atomic.Uint64
	successes   atomic.Uint64
	failures    atomic.Uint64

	nowFn func() time.Time
}

// New constructs a Breaker that trips after failureThreshold of continuous
// persistence failure.
func New(failureThreshold time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 30 * time.Second
	}
	return &Breaker{failureThreshold: failureThreshold, nowFn: time.Now}
}

// Allow reports whether persistence operations should be attempted. Once
// tripped, the breaker stays open until the next RecordSuccess.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.open
}

// RecordFailure marks one persistence failure. If failures have been
// continuous for at least failureThreshold, the breaker trips open.
func (b *Breaker) RecordFailure() {
	b.failures.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFn()
	if !b.failing {
		b.failing = true
		b.firstFailureAt = now
	}
	if !b.open && now.Sub(b.firstFailureAt) >= b.failureThreshold {
		b.open = true
		b.tripCount.Add(1)
	}
}

// RecordSuccess marks one persistence success, resetting the failure streak
// and closing the breaker if it was open.
func (b *Breaker) RecordSuccess() {
	b.successes.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = false
	b.open = false
}

// IsOpen reports whether the breaker is currently tripped.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// TripCount returns the lifetime number of times the breaker has tripped.
func (b *Breaker) TripCount() uint64 { return b.tripCount.Load() }

// Successes returns the lifetime count of recorded successes.
func (b *Breaker) Successes() uint64 { return b.successes.Load() }

// Failures returns the lifetime count of recorded failures.
func (b *Breaker) Failures() uint64 { return b.failures.Load() }
