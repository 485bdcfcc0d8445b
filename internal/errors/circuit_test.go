package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker that opens after two failures
	cb := NewCircuitBreaker("reranker", WithMaxFailures(2), WithResetTimeout(time.Hour))
	fail := func() error { return errors.New("down") }

	// When: two calls fail
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)

	// Then: the circuit is open and rejects calls without running them
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenProbeCloses(t *testing.T) {
	// Given: an open breaker whose reset timeout has elapsed
	now := time.Now()
	cb := NewCircuitBreaker("reranker", WithMaxFailures(1), WithResetTimeout(time.Second))
	cb.now = func() time.Time { return now }
	_ = cb.Execute(func() error { return errors.New("down") })
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	// When: the probe succeeds
	err := cb.Execute(func() error { return nil })

	// Then: the circuit closes
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("reranker", WithMaxFailures(3), WithResetTimeout(time.Second))
	cb.now = func() time.Time { return now }
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("down") })
	}
	now = now.Add(2 * time.Second)

	_ = cb.Execute(func() error { return errors.New("still down") })

	assert.Equal(t, StateOpen, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
