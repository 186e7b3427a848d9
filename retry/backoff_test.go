package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	r := NewBackoffRetryer(&Policy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}, nil)

	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhausted(t *testing.T) {
	r := NewBackoffRetryer(&Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil)

	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		return errors.New("permanent")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial + 2 retries
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	sentinel := errors.New("do-not-retry")
	r := NewBackoffRetryer(&Policy{
		MaxRetries:      5,
		InitialDelay:    time.Millisecond,
		RetryableErrors: []error{errors.New("transient-marker")},
	}, nil)

	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		return sentinel
	})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestRetryCancelledByContext(t *testing.T) {
	r := NewBackoffRetryer(&Policy{MaxRetries: 5, InitialDelay: 50 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := r.Do(ctx, func() error {
		attempts++
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
