package dbexec

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DbOptions is the hot-reloadable snapshot of engine-wide settings. Mirrors
// the shape of DatabaseConfig in internal/config/config.go, generalized
// from one hard-coded database to a named map of connection strings.
type DbOptions struct {
	DefaultConnectionName    string            `mapstructure:"default_connection_name" validate:"required"`
	CommandTimeout           time.Duration     `mapstructure:"command_timeout" validate:"gt=0"`
	DefaultIsolationName     string            `mapstructure:"default_isolation"`
	DefaultIsolation         IsolationLevel    `mapstructure:"-"`
	PreferReadOnlyConnection bool              `mapstructure:"prefer_read_only_connection"`
	ConnectionStrings        map[string]string `mapstructure:"connection_strings"`
}

// resolveDefaultIsolation parses DefaultIsolationName into DefaultIsolation.
// Called by Validate before the struct-tag pass, since IsolationLevel has
// no mapstructure decode hook registered.
func (o *DbOptions) resolveDefaultIsolation() {
	if o.DefaultIsolationName == "" {
		if o.DefaultIsolation == IsolationUnspecified {
			o.DefaultIsolation = IsolationReadCommitted
		}
		return
	}
	switch strings.ToLower(o.DefaultIsolationName) {
	case "readuncommitted", "read_uncommitted":
		o.DefaultIsolation = IsolationReadUncommitted
	case "readcommitted", "read_committed":
		o.DefaultIsolation = IsolationReadCommitted
	case "repeatableread", "repeatable_read":
		o.DefaultIsolation = IsolationRepeatableRead
	case "serializable":
		o.DefaultIsolation = IsolationSerializable
	case "snapshot":
		o.DefaultIsolation = IsolationSnapshot
	case "chaos":
		o.DefaultIsolation = IsolationChaos
	default:
		o.DefaultIsolation = IsolationUnspecified
	}
}

// DefaultDbOptions returns production-ready defaults, pairing this config
// struct with a DefaultXxxConfig constructor the way postgres.DefaultConfig
// does.
func DefaultDbOptions() *DbOptions {
	return &DbOptions{
		DefaultConnectionName: "defaultDatabase",
		CommandTimeout:        30 * time.Second,
		DefaultIsolationName:  "read_committed",
		DefaultIsolation:      IsolationReadCommitted,
		ConnectionStrings:     make(map[string]string),
	}
}

// Validate checks the invariants of positive command timeout,
// non-empty default connection name, non-nil connection string map.
func (o *DbOptions) Validate() error {
	if o.ConnectionStrings == nil {
		o.ConnectionStrings = make(map[string]string)
	}
	o.resolveDefaultIsolation()
	v := validator.New()
	if err := v.Struct(o); err != nil {
		return NewConfigurationError("", fmt.Sprintf("invalid DbOptions: %v", err))
	}
	return nil
}

// connectionString returns the connection string registered for name in a
// case-insensitive lookup, and whether it was found non-blank.
func (o *DbOptions) connectionString(name string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for k, v := range o.ConnectionStrings {
		if strings.ToLower(strings.TrimSpace(k)) == lower && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}

// EffectiveConnectionName resolves a blank name to the default.
func (o *DbOptions) EffectiveConnectionName(name string) string {
	if strings.TrimSpace(name) == "" {
		return o.DefaultConnectionName
	}
	return name
}

// RetryOptions configures the retry policy.
type RetryOptions struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	BackoffExponent float64       `mapstructure:"backoff_exponent"`
	UseJitter       bool          `mapstructure:"use_jitter"`
}

// TimeoutOptions configures the per-attempt timeout policy.
type TimeoutOptions struct {
	Enabled    bool          `mapstructure:"enabled"`
	PerAttempt time.Duration `mapstructure:"per_attempt"`
}

// CircuitBreakerOptions configures the circuit breaker policy.
// FailureThreshold is an absolute failure count within SamplingWindow, not a
// ratio: the breaker opens once that many failures have landed in the
// current window, independent of how many calls succeeded alongside them.
// HalfOpenMaxCalls bounds how many probe calls are allowed through while
// half-open, grounded on llm.CircuitBreakerConfig.HalfOpenMaxCalls.
type CircuitBreakerOptions struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SamplingWindow   time.Duration `mapstructure:"sampling_window"`
	BreakDuration    time.Duration `mapstructure:"break_duration"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// BulkheadOptions configures the bulkhead (concurrency limiter) policy.
type BulkheadOptions struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxConcurrent int  `mapstructure:"max_concurrent"`
	MaxQueued     int  `mapstructure:"max_queued"`
}

// RateLimiterOptions configures the token-bucket rate limiter policy.
type RateLimiterOptions struct {
	Enabled             bool          `mapstructure:"enabled"`
	PermitLimit         int           `mapstructure:"permit_limit"`
	ReplenishmentPeriod time.Duration `mapstructure:"replenishment_period"`
}

// DbResilienceOptions is the hot-reloadable snapshot driving the resilience pipeline
// construction.
type DbResilienceOptions struct {
	Enabled        bool                  `mapstructure:"enabled"`
	Retry          RetryOptions          `mapstructure:"retry"`
	Timeout        TimeoutOptions        `mapstructure:"timeout"`
	CircuitBreaker CircuitBreakerOptions `mapstructure:"circuit_breaker"`
	Bulkhead       BulkheadOptions       `mapstructure:"bulkhead"`
	RateLimiter    RateLimiterOptions    `mapstructure:"rate_limiter"`
}

// DefaultDbResilienceOptions returns production-ready defaults for the
// resilience stack, grounded on postgres.DefaultRetryConfig and
// llm.DefaultCircuitBreakerConfig.
func DefaultDbResilienceOptions() *DbResilienceOptions {
	return &DbResilienceOptions{
		Enabled: true,
		Retry: RetryOptions{
			MaxAttempts:     3,
			BaseDelay:       100 * time.Millisecond,
			BackoffExponent: 2.0,
			UseJitter:       true,
		},
		Timeout: TimeoutOptions{
			Enabled:    true,
			PerAttempt: 5 * time.Second,
		},
		CircuitBreaker: CircuitBreakerOptions{
			Enabled:          true,
			FailureThreshold: 5,
			SamplingWindow:   60 * time.Second,
			BreakDuration:    30 * time.Second,
			HalfOpenMaxCalls: 1,
		},
		Bulkhead: BulkheadOptions{
			Enabled:       false,
			MaxConcurrent: 50,
			MaxQueued:     100,
		},
		RateLimiter: RateLimiterOptions{
			Enabled:             false,
			PermitLimit:         100,
			ReplenishmentPeriod: time.Second,
		},
	}
}

// Validate checks per-policy invariants, collecting every error rather than
// failing fast on the first one, matching
// DefaultConfigValidator.Validate's "return ALL errors" style.
func (o *DbResilienceOptions) Validate() error {
	var problems []string

	if o.Retry.MaxAttempts < 0 {
		problems = append(problems, "retry.max_attempts must be >= 0")
	}
	if o.Retry.BaseDelay < 0 {
		problems = append(problems, "retry.base_delay must be >= 0")
	}
	if o.Retry.MaxAttempts > 0 && o.Retry.BackoffExponent < 1 {
		problems = append(problems, "retry.backoff_exponent must be >= 1")
	}
	if o.Timeout.Enabled && o.Timeout.PerAttempt <= 0 {
		problems = append(problems, "timeout.per_attempt must be > 0 when timeout.enabled")
	}
	if o.CircuitBreaker.Enabled {
		if o.CircuitBreaker.FailureThreshold <= 0 {
			problems = append(problems, "circuit_breaker.failure_threshold must be > 0 when enabled")
		}
		if o.CircuitBreaker.SamplingWindow <= 0 {
			problems = append(problems, "circuit_breaker.sampling_window must be > 0 when enabled")
		}
		if o.CircuitBreaker.BreakDuration <= 0 {
			problems = append(problems, "circuit_breaker.break_duration must be > 0 when enabled")
		}
		if o.CircuitBreaker.HalfOpenMaxCalls <= 0 {
			problems = append(problems, "circuit_breaker.half_open_max_calls must be > 0 when enabled")
		}
	}
	if o.Bulkhead.Enabled {
		if o.Bulkhead.MaxConcurrent <= 0 {
			problems = append(problems, "bulkhead.max_concurrent must be > 0 when enabled")
		}
		if o.Bulkhead.MaxQueued < 0 {
			problems = append(problems, "bulkhead.max_queued must be >= 0 when enabled")
		}
	}
	if o.RateLimiter.Enabled {
		if o.RateLimiter.PermitLimit <= 0 {
			problems = append(problems, "rate_limiter.permit_limit must be > 0 when enabled")
		}
		if o.RateLimiter.ReplenishmentPeriod <= 0 {
			problems = append(problems, "rate_limiter.replenishment_period must be > 0 when enabled")
		}
	}

	if len(problems) > 0 {
		return NewConfigurationError("", fmt.Sprintf("invalid DbResilienceOptions: %s", strings.Join(problems, "; ")))
	}
	return nil
}
