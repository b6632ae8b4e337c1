package sharding

import "time"

// Lengthening selects the back-off delay family applied between retry
// attempts. Values and formulas are spec.md §4.1 verbatim.
type Lengthening int

const (
	// LengtheningFibonacci is the default. Despite the name, the
	// formula is the arithmetic progression (2n-1)*interval, not the
	// Fibonacci sequence — this is the engine's historical contract
	// (spec.md §9) and must not be "corrected" without coordinating
	// with consumers that depend on the exact delays.
	LengtheningFibonacci Lengthening = iota
	LengtheningLinear
	LengtheningHalfSquare
	LengtheningSquaring
)

// Policy carries the retry and circuit-breaker parameters for one
// Connection Manager. Zero value is not usable; use DefaultPolicy or set
// every field explicitly.
type Policy struct {
	RetryCount                int
	RetryInterval             time.Duration
	Lengthening               Lengthening
	BreakerFailureCount       int
	BreakerTestInterval       time.Duration
}

// DefaultPolicy returns the spec.md §3 defaults: interval=250ms,
// lengthening=Fibonacci, no retries, breaker effectively disabled until
// the caller sets BreakerFailureCount > 0.
func DefaultPolicy() Policy {
	return Policy{
		RetryCount:          0,
		RetryInterval:       250 * time.Millisecond,
		Lengthening:         LengtheningFibonacci,
		BreakerFailureCount: 0,
		BreakerTestInterval: 0,
	}
}

// Delay computes the back-off for 1-based attempt n under this policy's
// interval and lengthening kind. See spec.md §4.1 and the S1/S2 worked
// examples in §8.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	i := p.RetryInterval
	switch p.Lengthening {
	case LengtheningLinear:
		return time.Duration(n) * i
	case LengtheningHalfSquare:
		return time.Duration((n*n)/2) * i
	case LengtheningSquaring:
		return i * time.Duration(1<<uint(n-1))
	case LengtheningFibonacci:
		fallthrough
	default:
		return time.Duration(n+(n-1)) * i
	}
}
