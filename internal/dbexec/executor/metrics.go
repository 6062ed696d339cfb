package executor

import "github.com/prometheus/client_golang/prometheus"

// ClientMetrics covers the executor's own execution surface: counts and latencies by
// connection name and operation kind, plus a gauge of connections currently
// open. Grounded on postgres.PoolMetrics/PoolStats's labeled counter set,
// expressed as Prometheus collectors (rather than atomics + a Snapshot
// struct) to stay consistent with the rest of the engine's metrics, which
// are exported the same way.
type ClientMetrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	OpenConnections   *prometheus.GaugeVec
	TransactionErrors *prometheus.CounterVec
}

// NewClientMetrics registers the executor collectors on reg.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	m := &ClientMetrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbexec_executions_total",
			Help: "Total executions by connection, operation kind and outcome.",
		}, []string{"connection_name", "operation", "outcome"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbexec_execution_duration_seconds",
			Help:    "Execution latency by connection and operation kind, including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"connection_name", "operation"}),
		OpenConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dbexec_open_connections",
			Help: "Connections currently borrowed from the data-source cache.",
		}, []string{"connection_name"}),
		TransactionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbexec_transaction_errors_total",
			Help: "Commit or rollback failures, by connection and kind.",
		}, []string{"connection_name", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.ExecutionsTotal, m.ExecutionDuration, m.OpenConnections, m.TransactionErrors)
	}
	return m
}
