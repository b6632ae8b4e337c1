package sharding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyDelayFibonacci(t *testing.T) {
	p := DefaultPolicy()
	p.RetryInterval = 100 * time.Millisecond

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 300*time.Millisecond, p.Delay(2))
	assert.Equal(t, 500*time.Millisecond, p.Delay(3))
}

func TestPolicyDelayLinear(t *testing.T) {
	p := DefaultPolicy()
	p.RetryInterval = 100 * time.Millisecond
	p.Lengthening = LengtheningLinear

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3))
}

func TestPolicyDelayHalfSquare(t *testing.T) {
	p := DefaultPolicy()
	p.RetryInterval = 100 * time.Millisecond
	p.Lengthening = LengtheningHalfSquare

	assert.Equal(t, time.Duration(0), p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
}

func TestPolicyDelaySquaring(t *testing.T) {
	p := DefaultPolicy()
	p.RetryInterval = 100 * time.Millisecond
	p.Lengthening = LengtheningSquaring

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4))
}

func TestPolicyDelayClampsBelowOne(t *testing.T) {
	p := DefaultPolicy()
	p.RetryInterval = 100 * time.Millisecond

	assert.Equal(t, p.Delay(1), p.Delay(0))
	assert.Equal(t, p.Delay(1), p.Delay(-3))
}
