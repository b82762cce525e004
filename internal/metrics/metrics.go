// Package metrics provides the Prometheus collectors for streaming calls.
// Collectors are registered on the default registry; binaries that want to
// expose them serve promhttp.Handler().
package metrics

import "github.com/prometheus/client_golang/prometheus"

// DurationBuckets covers code executions from 50ms up to the two default
// budgets back to back.
var DurationBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// ExecutionsTotal counts sandbox executions by terminal state
	// (completed, failed, timed_out, aborted).
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valyent_executions_total",
			Help: "Sandbox code executions by outcome",
		},
		[]string{"outcome"},
	)

	// ExecutionDuration records execution call duration in seconds.
	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "valyent_execution_duration_seconds",
			Help:    "Sandbox execution call duration",
			Buckets: DurationBuckets,
		},
	)

	// LogRecordsTotal counts log records received from follow streams.
	LogRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valyent_log_records_total",
			Help: "Log records received",
		},
		[]string{"fleet"},
	)

	// LogLinesMalformedTotal counts log lines skipped because they did not parse.
	LogLinesMalformedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valyent_log_lines_malformed_total",
			Help: "Malformed log lines skipped",
		},
		[]string{"fleet"},
	)

	// LogStreamsActive tracks open follow streams.
	LogStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "valyent_log_streams_active",
			Help: "Active log follow streams",
		},
	)

	// ForwardedTotal counts log records published to NATS by result.
	ForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valyent_forwarded_records_total",
			Help: "Log records forwarded",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		LogRecordsTotal,
		LogLinesMalformedTotal,
		LogStreamsActive,
		ForwardedTotal,
	)
}
