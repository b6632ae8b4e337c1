package sharding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterFailureCount(t *testing.T) {
	b := newBreakerState(3, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		phase, ok := b.admit()
		require.True(t, ok)
		assert.Equal(t, BreakerClosed, phase)
		b.recordFailure()
	}
	phase, _, _ := b.snapshot()
	assert.Equal(t, BreakerClosed, phase)

	b.recordFailure()
	phase, _, _ = b.snapshot()
	assert.Equal(t, BreakerOpen, phase)

	_, ok := b.admit()
	assert.False(t, ok)
}

func TestBreakerHalfOpenAfterTestInterval(t *testing.T) {
	clock := time.Now()
	b := newBreakerState(1, 10*time.Millisecond)
	b.now = func() time.Time { return clock }

	b.recordFailure()
	phase, _, _ := b.snapshot()
	require.Equal(t, BreakerOpen, phase)

	_, ok := b.admit()
	require.False(t, ok)

	clock = clock.Add(11 * time.Millisecond)
	phase, ok = b.admit()
	require.True(t, ok)
	assert.Equal(t, BreakerHalfOpen, phase)
}

func TestBreakerRecordSuccessCloses(t *testing.T) {
	clock := time.Now()
	b := newBreakerState(1, 10*time.Millisecond)
	b.now = func() time.Time { return clock }

	b.recordFailure()
	clock = clock.Add(11 * time.Millisecond)
	_, _ = b.admit()

	b.recordSuccess()
	phase, failures, _ := b.snapshot()
	assert.Equal(t, BreakerClosed, phase)
	assert.Equal(t, 0, failures)
}

func TestBreakerDisabledWhenFailureCountZero(t *testing.T) {
	b := newBreakerState(0, time.Second)
	for i := 0; i < 10; i++ {
		b.recordFailure()
	}
	phase, _, _ := b.snapshot()
	assert.Equal(t, BreakerClosed, phase)
}
