package resilience

import "github.com/prometheus/client_golang/prometheus"

// CircuitBreakerMetrics are the Prometheus collectors for the circuit
// breaker policy, grounded on llm.CircuitBreakerMetrics: a gauge for
// current state and counters for successes/failures/state transitions,
// labeled by connection name since this engine runs one breaker per
// connection rather than one global breaker.
type CircuitBreakerMetrics struct {
	State           *prometheus.GaugeVec
	Successes       *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	RequestsBlocked *prometheus.CounterVec
	StateChanges    *prometheus.CounterVec
}

// NewCircuitBreakerMetrics registers the circuit breaker collectors on reg.
func NewCircuitBreakerMetrics(reg prometheus.Registerer) *CircuitBreakerMetrics {
	m := &CircuitBreakerMetrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dbexec_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half_open) per connection.",
		}, []string{"connection_name"}),
		Successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbexec_circuit_breaker_successes_total",
			Help: "Total calls the circuit breaker classified as successful.",
		}, []string{"connection_name"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbexec_circuit_breaker_failures_total",
			Help: "Total calls the circuit breaker classified as failures.",
		}, []string{"connection_name"}),
		RequestsBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbexec_circuit_breaker_blocked_total",
			Help: "Total calls rejected while the circuit breaker was open.",
		}, []string{"connection_name"}),
		StateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbexec_circuit_breaker_state_changes_total",
			Help: "Total circuit breaker state transitions.",
		}, []string{"connection_name", "from", "to"}),
	}
	if reg != nil {
		reg.MustRegister(m.State, m.Successes, m.Failures, m.RequestsBlocked, m.StateChanges)
	}
	return m
}

// PipelineMetrics covers the pipeline as a whole: attempts, retries and
// outcomes by connection name, grounded on postgres.PoolMetrics's labeled
// counters.
type PipelineMetrics struct {
	Attempts *prometheus.CounterVec
	Retries  *prometheus.CounterVec
	Outcomes *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewPipelineMetrics registers the pipeline collectors on reg.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbexec_pipeline_attempts_total",
			Help: "Total attempts made by the resilience pipeline.",
		}, []string{"connection_name"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbexec_pipeline_retries_total",
			Help: "Total retries performed by the resilience pipeline.",
		}, []string{"connection_name"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbexec_pipeline_outcomes_total",
			Help: "Total pipeline outcomes by result kind.",
		}, []string{"connection_name", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbexec_pipeline_duration_seconds",
			Help:    "Total time spent inside the resilience pipeline, including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"connection_name"}),
	}
	if reg != nil {
		reg.MustRegister(m.Attempts, m.Retries, m.Outcomes, m.Duration)
	}
	return m
}
