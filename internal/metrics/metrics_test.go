package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistered(t *testing.T) {
	// Seed the vectors so they appear in the gathered families.
	ExecutionsTotal.WithLabelValues("completed").Inc()
	ExecutionDuration.Observe(0.2)
	LogRecordsTotal.WithLabelValues("test").Inc()
	LogLinesMalformedTotal.WithLabelValues("test").Inc()
	ForwardedTotal.WithLabelValues("ok").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}

	expected := map[string]bool{
		"valyent_executions_total":          false,
		"valyent_execution_duration_seconds": false,
		"valyent_log_records_total":          false,
		"valyent_log_lines_malformed_total":  false,
		"valyent_log_streams_active":         false,
		"valyent_forwarded_records_total":    false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestExecutionsTotal_ByOutcome(t *testing.T) {
	before := testutil.ToFloat64(ExecutionsTotal.WithLabelValues("timed_out"))
	ExecutionsTotal.WithLabelValues("timed_out").Inc()
	if got := testutil.ToFloat64(ExecutionsTotal.WithLabelValues("timed_out")); got != before+1 {
		t.Errorf("timed_out = %v, want %v", got, before+1)
	}
}
