// Package resilience implements the per-connection resilience pipeline
// (retry, timeout, circuit breaker, bulkhead, rate limiter) composed as a
// middleware chain, grounded on postgres.RetryExecutor, llm.CircuitBreaker
// and middleware.RateLimiter, generalized from HTTP/LLM-specific call
// shapes to the engine's own func(context.Context) error operation
// signature.
package resilience

import (
	"context"
	"errors"

	"github.com/corvid-systems/dbexec/internal/dbexec"
)

// TransientClassifier decides whether an error observed by the pipeline
// should count as a candidate for retry and as a circuit-breaker failure.
// Pluggable: the default implementation below only trusts the engine's own
// typed errors, but a driver-aware classifier (e.g. one that inspects a
// *pgconn.PgError's SQLSTATE) can be substituted per connection.
type TransientClassifier interface {
	// IsTransient reports whether err is worth retrying.
	IsTransient(err error) bool
}

// TransientClassifierFunc adapts a function to TransientClassifier.
type TransientClassifierFunc func(err error) bool

func (f TransientClassifierFunc) IsTransient(err error) bool { return f(err) }

// DefaultTransientClassifier treats dbexec.TransientError and
// dbexec.TimeoutError as retryable, and nothing else — grounded on
// postgres.IsRetryable's layered predicate, narrowed to the engine's own
// error taxonomy since the driver-specific connection/SQLSTATE inspection
// those predicates perform belongs in a driver-aware classifier, not the
// engine-wide default.
var DefaultTransientClassifier TransientClassifier = TransientClassifierFunc(func(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return dbexec.IsRetryable(err)
})
