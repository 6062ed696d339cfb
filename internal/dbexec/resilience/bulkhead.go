package resilience

import (
	"context"

	"github.com/corvid-systems/dbexec/internal/dbexec"
)

// Bulkhead bounds concurrent in-flight operations, queuing a limited number
// of callers beyond that bound and rejecting the rest. No existing
// concurrency guard applies this at the middleware level directly (existing
// guards are pool-level); it follows the same
// config-struct-plus-constructor-plus-Call shape as CircuitBreaker above,
// built on buffered channels as semaphores in the idiomatic Go style used
// elsewhere for worker-pool bounding.
type Bulkhead struct {
	active chan struct{}
	queue  chan struct{}
}

// NewBulkhead creates a Bulkhead. MaxConcurrent bounds concurrently
// executing operations; MaxQueued bounds additional callers waiting for a
// slot before new callers are rejected outright.
func NewBulkhead(opts dbexec.BulkheadOptions) *Bulkhead {
	return &Bulkhead{
		active: make(chan struct{}, opts.MaxConcurrent),
		queue:  make(chan struct{}, opts.MaxConcurrent+opts.MaxQueued),
	}
}

// Call runs operation once a concurrency slot is available, rejecting
// immediately with an OverloadedError when the queue itself is full.
func (b *Bulkhead) Call(ctx context.Context, operation func(ctx context.Context) error) error {
	select {
	case b.queue <- struct{}{}:
	default:
		return dbexec.NewOverloadedError("bulkhead queue is full")
	}
	defer func() { <-b.queue }()

	select {
	case b.active <- struct{}{}:
	case <-ctx.Done():
		return dbexec.NewCancelledError(ctx.Err())
	}
	defer func() { <-b.active }()

	return operation(ctx)
}
