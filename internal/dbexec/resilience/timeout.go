package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/corvid-systems/dbexec/internal/dbexec"
)

// TimeoutGuard enforces a per-attempt deadline around an operation,
// translating context.DeadlineExceeded into dbexec.TimeoutError so upstream
// middleware (retry, circuit breaker) can classify it without reaching into
// the standard library's sentinel directly. Generalizes the per-call
// context.WithTimeout usage in postgres.PostgresPool's Exec/Query methods
// into its own middleware stage.
type TimeoutGuard struct {
	enabled    bool
	perAttempt time.Duration
}

// NewTimeoutGuard creates a TimeoutGuard from policy options.
func NewTimeoutGuard(opts dbexec.TimeoutOptions) *TimeoutGuard {
	return &TimeoutGuard{enabled: opts.Enabled, perAttempt: opts.PerAttempt}
}

// Execute runs operation under a derived context bounded by PerAttempt, when
// enabled. A deadline exceeded on the derived (not the parent) context is
// reported as a TimeoutError; a cancellation on the parent context is
// reported as a CancelledError so callers can tell the two apart.
func (g *TimeoutGuard) Execute(ctx context.Context, op string, operation func(ctx context.Context) error) error {
	if !g.enabled || g.perAttempt <= 0 {
		return operation(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, g.perAttempt)
	defer cancel()

	err := operation(attemptCtx)
	if err == nil {
		return nil
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return dbexec.NewTimeoutError(op)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return dbexec.NewCancelledError(ctx.Err())
	}
	return err
}
