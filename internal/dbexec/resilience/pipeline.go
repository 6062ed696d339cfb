package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/corvid-systems/dbexec/internal/dbexec"
)

// Operation is the unit of work the pipeline wraps: one attempt at
// executing a database command.
type Operation func(ctx context.Context) error

// Pipeline composes the enabled policies into a single middleware chain,
// outermost-first: retry, timeout, circuit breaker, bulkhead, rate limiter
// — matching publishing.middleware's chain-building idiom
// (NewMiddlewareChain wrapping handlers from the outside in) generalized
// from HTTP handlers to database operations. Retry is outermost so every
// retried attempt re-enters timeout, the circuit breaker, the bulkhead, and
// the rate limiter fresh, rather than holding a bulkhead slot or rate-limit
// token across the whole retry loop.
type Pipeline struct {
	connectionName string
	run            func(ctx context.Context, op string, operation Operation) error
	metrics        *PipelineMetrics
}

// PipelineDeps bundles everything needed to construct one connection's
// Pipeline.
type PipelineDeps struct {
	ConnectionName string
	Options        dbexec.DbResilienceOptions
	Classifier     TransientClassifier
	Logger         *slog.Logger
	CBMetrics      *CircuitBreakerMetrics
	Metrics        *PipelineMetrics
}

// NewPipeline builds a Pipeline from policy options. Disabled policies are
// skipped entirely rather than constructed as no-ops, so a disabled bulkhead
// costs nothing at call time.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retrier := NewRetrier(deps.Options.Retry, deps.Classifier, logger)
	timeoutGuard := NewTimeoutGuard(deps.Options.Timeout)

	var breaker *CircuitBreaker
	if deps.Options.CircuitBreaker.Enabled {
		breaker = NewCircuitBreaker(deps.ConnectionName, deps.Options.CircuitBreaker, deps.Classifier, logger, deps.CBMetrics)
	}
	var bulkhead *Bulkhead
	if deps.Options.Bulkhead.Enabled {
		bulkhead = NewBulkhead(deps.Options.Bulkhead)
	}
	var limiter *RateLimiter
	if deps.Options.RateLimiter.Enabled {
		limiter = NewRateLimiter(deps.Options.RateLimiter)
	}

	run := func(ctx context.Context, op string, operation Operation) error {
		// Innermost: the rate limiter sits closest to the operation itself.
		withRateLimit := operation
		if limiter != nil {
			withRateLimit = func(ctx context.Context) error {
				return limiter.Call(ctx, operation)
			}
		}

		withBulkhead := withRateLimit
		if bulkhead != nil {
			withBulkhead = func(ctx context.Context) error {
				return bulkhead.Call(ctx, withRateLimit)
			}
		}

		withBreaker := withBulkhead
		if breaker != nil {
			withBreaker = func(ctx context.Context) error {
				return breaker.Call(ctx, withBulkhead)
			}
		}

		attempts := 0
		withTimeout := func(ctx context.Context) error {
			attempts++
			return timeoutGuard.Execute(ctx, op, withBreaker)
		}

		// Outermost: retry re-enters timeout, circuit breaker, bulkhead, and
		// rate limiter on every attempt.
		var err error
		if !deps.Options.Enabled {
			err = withTimeout(ctx)
		} else {
			err = retrier.Execute(ctx, withTimeout)
		}
		if deps.Metrics != nil {
			deps.Metrics.Attempts.WithLabelValues(deps.ConnectionName).Add(float64(attempts))
			if attempts > 1 {
				deps.Metrics.Retries.WithLabelValues(deps.ConnectionName).Add(float64(attempts - 1))
			}
		}
		return err
	}

	return &Pipeline{connectionName: deps.ConnectionName, run: run, metrics: deps.Metrics}
}

// Execute runs operation through the pipeline. op labels the TimeoutError an
// attempt reports when its deadline expires; metrics are labelled by
// connection name only.
func (p *Pipeline) Execute(ctx context.Context, op string, operation Operation) error {
	start := time.Now()
	err := p.run(ctx, op, operation)
	if p.metrics != nil {
		p.metrics.Duration.WithLabelValues(p.connectionName).Observe(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		p.metrics.Outcomes.WithLabelValues(p.connectionName, outcome).Inc()
	}
	return err
}

// Cache is a per-connection-name cache of resilience
// pipelines, created lazily, invalidated wholesale on reconfiguration.
// Mirrors datasource.Cache's single-flight shape exactly (same grounding:
// PostgresPool's guarded one-time creation, generalized per-name).
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *pipelineEntry]
	build   func(connectionName string) (*Pipeline, error)
}

type pipelineEntry struct {
	pipeline *Pipeline
	ready    chan struct{}
	err      error
}

// NewCache creates a pipeline Cache. build constructs one Pipeline per
// connection name on first use, typically reading per-connection resilience
// options off the current DbResilienceOptions snapshot.
func NewCache(maxNames int, build func(connectionName string) (*Pipeline, error)) (*Cache, error) {
	if maxNames <= 0 {
		maxNames = 128
	}
	c := &Cache{build: build}
	l, err := lru.New[string, *pipelineEntry](maxNames)
	if err != nil {
		return nil, fmt.Errorf("resilience: failed to create pipeline cache: %w", err)
	}
	c.entries = l
	return c, nil
}

// Get returns the cached Pipeline for connectionName, building it on first
// use. Concurrent first-time callers collapse into a single build.
func (c *Cache) Get(connectionName string) (*Pipeline, error) {
	c.mu.Lock()
	if e, found := c.entries.Get(connectionName); found {
		c.mu.Unlock()
		<-e.ready
		return e.pipeline, e.err
	}

	e := &pipelineEntry{ready: make(chan struct{})}
	c.entries.Add(connectionName, e)
	c.mu.Unlock()

	pipeline, err := c.build(connectionName)
	e.pipeline, e.err = pipeline, err
	close(e.ready)

	if err != nil {
		c.mu.Lock()
		if cur, found := c.entries.Peek(connectionName); found && cur == e {
			c.entries.Remove(connectionName)
		}
		c.mu.Unlock()
		return nil, err
	}
	return pipeline, nil
}

// Invalidate evicts every cached pipeline. In-flight executions hold their own
// *Pipeline reference and are unaffected; only future Get calls rebuild.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}
