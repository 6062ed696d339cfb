package resilience

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/corvid-systems/dbexec/internal/dbexec"
)

// RateLimiter enforces a token-bucket permit rate per connection, grounded on middleware.RateLimiter's golang.org/x/time/rate usage,
// generalized from per-HTTP-client buckets to a single bucket per
// connection name pipeline.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a RateLimiter from policy options. PermitLimit
// permits are replenished every ReplenishmentPeriod; burst equals
// PermitLimit, mirroring middleware.NewRateLimiter's requests-per-window to
// requests-per-second conversion.
func NewRateLimiter(opts dbexec.RateLimiterOptions) *RateLimiter {
	perSecond := float64(opts.PermitLimit) / opts.ReplenishmentPeriod.Seconds()
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), opts.PermitLimit)}
}

// Call runs operation immediately if a token is available, otherwise
// rejects with dbexec.OverloadedError without invoking operation or waiting
// for a future token — mirroring Bulkhead.Call's immediate-reject
// semantics rather than queuing callers behind a reservation.
func (rl *RateLimiter) Call(ctx context.Context, operation func(ctx context.Context) error) error {
	if ctx.Err() != nil {
		return dbexec.NewCancelledError(ctx.Err())
	}
	if !rl.limiter.Allow() {
		return dbexec.NewOverloadedError("rate limiter token budget exhausted")
	}
	return operation(ctx)
}
