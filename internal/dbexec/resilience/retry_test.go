package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-systems/dbexec/internal/dbexec"
)

func alwaysTransient(error) bool { return true }
func neverTransient(error) bool  { return false }

func TestRetrier_Execute_SucceedsWithoutRetry(t *testing.T) {
	r := NewRetrier(dbexec.RetryOptions{MaxAttempts: 3, BaseDelay: time.Millisecond, BackoffExponent: 2}, TransientClassifierFunc(alwaysTransient), nil)

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_Execute_RetriesTransientErrorsUntilSuccess(t *testing.T) {
	r := NewRetrier(dbexec.RetryOptions{MaxAttempts: 5, BaseDelay: time.Millisecond, BackoffExponent: 1}, TransientClassifierFunc(alwaysTransient), nil)

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient boom")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_Execute_StopsAtMaxAttempts(t *testing.T) {
	r := NewRetrier(dbexec.RetryOptions{MaxAttempts: 2, BaseDelay: time.Millisecond, BackoffExponent: 1}, TransientClassifierFunc(alwaysTransient), nil)

	calls := 0
	wantErr := errors.New("permanent boom")
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 2, calls, "MaxAttempts counts every attempt, the first included")
}

func TestRetrier_Execute_DoesNotRetryNonTransientErrors(t *testing.T) {
	r := NewRetrier(dbexec.RetryOptions{MaxAttempts: 5, BaseDelay: time.Millisecond, BackoffExponent: 1}, TransientClassifierFunc(neverTransient), nil)

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New("permanent boom")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_Execute_ZeroMaxAttemptsRunsOnce(t *testing.T) {
	r := NewRetrier(dbexec.RetryOptions{MaxAttempts: 0}, TransientClassifierFunc(alwaysTransient), nil)

	calls := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_Execute_ReturnsCancelledOnContextCancelDuringWait(t *testing.T) {
	r := NewRetrier(dbexec.RetryOptions{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, BackoffExponent: 2}, TransientClassifierFunc(alwaysTransient), nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := r.Execute(ctx, func(context.Context) error {
		calls++
		return errors.New("transient boom")
	})

	var cancelled *dbexec.CancelledError
	require.ErrorAs(t, err, &cancelled)
}
