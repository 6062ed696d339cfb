package resilience

import (
	"context"
	"math/rand"
	"time"

	"log/slog"

	"github.com/corvid-systems/dbexec/internal/dbexec"
)

// Retrier executes an operation with exponential backoff and jitter,
// grounded on postgres.RetryExecutor generalized to the engine's own
// error taxonomy via a TransientClassifier instead of a hard-coded
// driver-specific predicate.
type Retrier struct {
	opts       dbexec.RetryOptions
	classifier TransientClassifier
	logger     *slog.Logger
}

// NewRetrier creates a Retrier. A nil classifier falls back to
// DefaultTransientClassifier.
func NewRetrier(opts dbexec.RetryOptions, classifier TransientClassifier, logger *slog.Logger) *Retrier {
	if classifier == nil {
		classifier = DefaultTransientClassifier
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{opts: opts, classifier: classifier, logger: logger}
}

// Execute runs operation, retrying while the classifier deems the error
// transient, up to MaxAttempts total attempts (the first attempt plus at
// most MaxAttempts-1 retries). MaxAttempts <= 0 runs operation once.
func (r *Retrier) Execute(ctx context.Context, operation func(ctx context.Context) error) error {
	if r.opts.MaxAttempts <= 0 {
		return operation(ctx)
	}

	var lastErr error
	delay := r.opts.BaseDelay

	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err

		if attempt < r.opts.MaxAttempts-1 && r.classifier.IsTransient(err) {
			r.logger.Warn("operation failed, retrying",
				"attempt", attempt+1,
				"max_attempts", r.opts.MaxAttempts,
				"delay", delay,
				"error", err,
			)
			if !r.wait(ctx, delay) {
				return dbexec.NewCancelledError(ctx.Err())
			}
			delay = r.nextDelay(delay)
			continue
		}
		break
	}

	return lastErr
}

func (r *Retrier) wait(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Retrier) nextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * r.opts.BackoffExponent)
	if r.opts.UseJitter {
		jitter := time.Duration(rand.Float64() * float64(next) * 0.25)
		next += jitter
	}
	return next
}
