package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/corvid-systems/dbexec/internal/dbexec"
)

// CircuitBreakerState is the state of a CircuitBreaker.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type callResult struct {
	timestamp time.Time
	success   bool
}

// CircuitBreaker implements the closed/open/half-open state machine: a
// sliding window of recent call outcomes drives an absolute-failure-count
// trip (not a ratio), an open circuit fails fast until BreakDuration
// elapses, and half-open admits a bounded number of probe calls. Grounded
// directly on llm.CircuitBreaker, generalized from an LLM-call-specific
// "slow call" concept (not part of this engine's resilience contract) to a
// plain success/failure classification driven by TransientClassifier.
type CircuitBreaker struct {
	connectionName   string
	failureThreshold int
	samplingWindow   time.Duration
	breakDuration    time.Duration
	halfOpenMaxCalls int
	classifier       TransientClassifier

	mu              sync.Mutex
	state           CircuitBreakerState
	lastStateChange time.Time
	halfOpenCalls   int
	results         []callResult

	logger  *slog.Logger
	metrics *CircuitBreakerMetrics
}

// NewCircuitBreaker creates a CircuitBreaker for one connection name.
func NewCircuitBreaker(connectionName string, opts dbexec.CircuitBreakerOptions, classifier TransientClassifier, logger *slog.Logger, metrics *CircuitBreakerMetrics) *CircuitBreaker {
	if classifier == nil {
		classifier = DefaultTransientClassifier
	}
	if logger == nil {
		logger = slog.Default()
	}
	cb := &CircuitBreaker{
		connectionName:   connectionName,
		failureThreshold: opts.FailureThreshold,
		samplingWindow:   opts.SamplingWindow,
		breakDuration:    opts.BreakDuration,
		halfOpenMaxCalls: opts.HalfOpenMaxCalls,
		classifier:       classifier,
		state:            StateClosed,
		lastStateChange:  time.Now(),
		results:          make([]callResult, 0, 64),
		logger:           logger,
		metrics:          metrics,
	}
	if metrics != nil {
		metrics.State.WithLabelValues(connectionName).Set(float64(StateClosed))
	}
	return cb
}

// Call runs operation through the circuit breaker, returning
// dbexec.CircuitOpenError without invoking operation when the circuit is
// open (or the half-open probe budget is exhausted).
func (cb *CircuitBreaker) Call(ctx context.Context, operation func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := operation(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.breakDuration {
			cb.transitionToUnsafe(StateHalfOpen)
			cb.halfOpenCalls++ // this call is the first probe
			return nil
		}
		if cb.metrics != nil {
			cb.metrics.RequestsBlocked.WithLabelValues(cb.connectionName).Inc()
		}
		return dbexec.NewCircuitOpenError(cb.connectionName)

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			if cb.metrics != nil {
				cb.metrics.RequestsBlocked.WithLabelValues(cb.connectionName).Inc()
			}
			return dbexec.NewCircuitOpenError(cb.connectionName)
		}
		cb.halfOpenCalls++
		return nil

	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	isFailure := err != nil && cb.classifier.IsTransient(err)
	now := time.Now()
	cb.results = append(cb.results, callResult{timestamp: now, success: !isFailure})
	cb.cleanOldResultsUnsafe(now)

	if cb.metrics != nil {
		if isFailure {
			cb.metrics.Failures.WithLabelValues(cb.connectionName).Inc()
		} else {
			cb.metrics.Successes.WithLabelValues(cb.connectionName).Inc()
		}
	}

	switch cb.state {
	case StateClosed:
		if isFailure && cb.shouldOpenUnsafe() {
			cb.transitionToUnsafe(StateOpen)
		}
	case StateHalfOpen:
		if isFailure {
			cb.transitionToUnsafe(StateOpen)
		} else {
			cb.transitionToUnsafe(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) shouldOpenUnsafe() bool {
	failures := 0
	for _, r := range cb.results {
		if !r.success {
			failures++
		}
	}
	return failures >= cb.failureThreshold
}

func (cb *CircuitBreaker) cleanOldResultsUnsafe(now time.Time) {
	cutoff := now.Add(-cb.samplingWindow)
	firstValid := 0
	for i, r := range cb.results {
		if r.timestamp.After(cutoff) {
			firstValid = i
			break
		}
		firstValid = i + 1
	}
	if firstValid > 0 {
		cb.results = cb.results[firstValid:]
	}
}

func (cb *CircuitBreaker) transitionToUnsafe(to CircuitBreakerState) {
	from := cb.state
	cb.state = to
	cb.lastStateChange = time.Now()
	cb.halfOpenCalls = 0
	if to == StateClosed {
		cb.results = cb.results[:0]
	}

	cb.logger.Info("circuit breaker state transition",
		"connection_name", cb.connectionName,
		"from", from.String(),
		"to", to.String(),
	)
	if cb.metrics != nil {
		cb.metrics.StateChanges.WithLabelValues(cb.connectionName, from.String(), to.String()).Inc()
		cb.metrics.State.WithLabelValues(cb.connectionName).Set(float64(to))
	}
}

// State returns the current state (thread-safe).
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
