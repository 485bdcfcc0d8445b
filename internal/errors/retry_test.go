package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	// Given: a function failing twice then succeeding
	calls := 0
	fn := func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}

	// When: retrying with three retries
	err := Retry(context.Background(), fastRetry(3), fn)

	// Then: it succeeds on the third attempt
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAndWrapsLastError(t *testing.T) {
	sentinel := errors.New("still down")
	calls := 0

	err := Retry(context.Background(), fastRetry(2), func() error {
		calls++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestRetry_ShouldRetryStopsEarly(t *testing.T) {
	cfg := fastRetry(5)
	cfg.ShouldRetry = func(error) bool { return false }
	calls := 0

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("permanent")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(3), func() error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := RetryWithResult(context.Background(), fastRetry(2), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("once")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
