package sharding

import (
	"sync"
	"time"
)

// BreakerPhase is one of the three circuit-breaker states (spec.md §3
// Breaker State, §4.2).
type BreakerPhase int

const (
	BreakerClosed BreakerPhase = iota
	BreakerOpen
	BreakerHalfOpen
)

func (p BreakerPhase) String() string {
	switch p {
	case BreakerOpen:
		return "Open"
	case BreakerHalfOpen:
		return "HalfOpen"
	default:
		return "Closed"
	}
}

// breakerState is the per-Connection-Manager circuit breaker. All
// mutation goes through a single mutex; the teacher's
// pkg/failover/controller.go guards similar phase/counter state the same
// way.
type breakerState struct {
	mu                  sync.Mutex
	phase               BreakerPhase
	consecutiveFailures int
	openSince           time.Time
	failureCount        int
	testInterval        time.Duration
	now                 func() time.Time
}

func newBreakerState(failureCount int, testInterval time.Duration) *breakerState {
	return &breakerState{
		phase:        BreakerClosed,
		failureCount: failureCount,
		testInterval: testInterval,
		now:          time.Now,
	}
}

// admit decides whether an attempt may proceed. When the breaker is Open
// and the test interval has not elapsed, the attempt is refused. When
// Open and the interval has elapsed, the breaker transitions to HalfOpen
// and the attempt is admitted. admit does not limit HalfOpen to a single
// probe: every caller that arrives while the phase is HalfOpen is
// admitted, and the phase moves again only when one of those attempts
// records a success or a failure. This keeps admit non-blocking and lock-scoped, matching the
// engine's "no pooling beyond the driver's own pool" resource model
// (spec.md §5).
func (b *breakerState) admit() (phase BreakerPhase, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase == BreakerOpen {
		if b.now().Sub(b.openSince) < b.testInterval {
			return BreakerOpen, false
		}
		b.phase = BreakerHalfOpen
	}
	return b.phase, true
}

// recordSuccess closes the breaker (from HalfOpen) and zeroes the
// consecutive-failure counter.
func (b *breakerState) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.phase = BreakerClosed
	b.consecutiveFailures = 0
}

// recordFailure increments the consecutive-failure counter and opens the
// breaker once it reaches failureCount. A failureCount of 0 disables the
// breaker (spec.md §3 default: counts >= 0, 0 meaning "never trips").
func (b *breakerState) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failureCount <= 0 {
		return
	}
	b.consecutiveFailures++
	if b.consecutiveFailures >= b.failureCount {
		b.phase = BreakerOpen
		b.openSince = b.now()
	}
}

func (b *breakerState) snapshot() (phase BreakerPhase, consecutiveFailures int, openSince time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase, b.consecutiveFailures, b.openSince
}
