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

func TestTimeoutGuard_Disabled_RunsWithoutDeadline(t *testing.T) {
	guard := NewTimeoutGuard(dbexec.TimeoutOptions{Enabled: false, PerAttempt: time.Millisecond})

	err := guard.Execute(context.Background(), "query", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		return nil
	})
	require.NoError(t, err)
}

func TestTimeoutGuard_Enabled_PassesThroughSuccess(t *testing.T) {
	guard := NewTimeoutGuard(dbexec.TimeoutOptions{Enabled: true, PerAttempt: time.Second})

	err := guard.Execute(context.Background(), "query", func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestTimeoutGuard_Enabled_TranslatesDeadlineExceeded(t *testing.T) {
	guard := NewTimeoutGuard(dbexec.TimeoutOptions{Enabled: true, PerAttempt: 10 * time.Millisecond})

	err := guard.Execute(context.Background(), "query", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	var timeoutErr *dbexec.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestTimeoutGuard_Enabled_ParentCancellationWinsOverDeadline(t *testing.T) {
	guard := NewTimeoutGuard(dbexec.TimeoutOptions{Enabled: true, PerAttempt: 10 * time.Millisecond})

	parent, cancel := context.WithCancel(context.Background())
	cancel()

	err := guard.Execute(parent, "query", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	var cancelledErr *dbexec.CancelledError
	require.ErrorAs(t, err, &cancelledErr)
}

func TestTimeoutGuard_Enabled_PassesThroughOperationError(t *testing.T) {
	guard := NewTimeoutGuard(dbexec.TimeoutOptions{Enabled: true, PerAttempt: time.Second})

	wantErr := errors.New("driver failure")
	err := guard.Execute(context.Background(), "query", func(context.Context) error {
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
}

func TestTimeoutGuard_ZeroPerAttemptDisablesDeadline(t *testing.T) {
	guard := NewTimeoutGuard(dbexec.TimeoutOptions{Enabled: true, PerAttempt: 0})

	err := guard.Execute(context.Background(), "query", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		return nil
	})
	require.NoError(t, err)
}
