package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
		MaxRetries:      retries,
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := ExponentialBackoff(BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
	})

	assert.Equal(t, 100*time.Millisecond, backoff(0))
	assert.Equal(t, 100*time.Millisecond, backoff(1))
	assert.Equal(t, 200*time.Millisecond, backoff(2))
	assert.Equal(t, 400*time.Millisecond, backoff(3))
	assert.Equal(t, time.Second, backoff(10), "capped at MaxInterval")
}

func TestExponentialBackoffJitter(t *testing.T) {
	backoff := ExponentialBackoff(BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
		Jitter:          true,
	})

	for i := 0; i < 50; i++ {
		d := backoff(2)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 200*time.Millisecond)
	}
}

func TestWithRetryAdvancedSucceeds(t *testing.T) {
	calls := 0
	err := WithRetryAdvanced(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastConfig(3))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryAdvancedExhausted(t *testing.T) {
	transient := errors.New("transient")
	calls := 0
	err := WithRetryAdvanced(context.Background(), func() error {
		calls++
		return transient
	}, fastConfig(2))

	assert.ErrorIs(t, err, transient)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestWithRetryAdvancedStop(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := WithRetryAdvanced(context.Background(), func() error {
		calls++
		return Stop(permanent)
	}, fastConfig(5))

	assert.Equal(t, permanent, err, "StopError is unwrapped")
	assert.False(t, IsStopError(err))
	assert.Equal(t, 1, calls)
}

func TestWithRetryAdvancedContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetryAdvanced(ctx, func() error {
		calls++
		cancel()
		return errors.New("transient")
	}, BackoffConfig{InitialInterval: time.Hour, MaxInterval: time.Hour, Multiplier: 1, MaxRetries: 3})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestStopError(t *testing.T) {
	inner := errors.New("inner")
	err := Stop(inner)
	assert.True(t, IsStopError(err))
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "inner", err.Error())
	assert.False(t, IsStopError(inner))
}
