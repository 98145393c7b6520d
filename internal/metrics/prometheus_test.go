package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.RangeChecks.Inc()
	prom.Metrics.RangeExits.Inc()
	prom.Metrics.RebalancesStarted.Inc()
	prom.Metrics.RebalancesComplete.Inc()
	prom.Metrics.RebalancesFailed.Inc()
	prom.Metrics.PositionsClosed.Inc()
	prom.Metrics.FeeClaims.Inc()
	prom.Metrics.AlertsSent.Inc()

	assertCounter(t, prom.Metrics.RangeChecks, 1)
	assertCounter(t, prom.Metrics.RangeExits, 1)
	assertCounter(t, prom.Metrics.RebalancesStarted, 1)
	assertCounter(t, prom.Metrics.RebalancesComplete, 1)
	assertCounter(t, prom.Metrics.RebalancesFailed, 1)
	assertCounter(t, prom.Metrics.PositionsClosed, 1)
	assertCounter(t, prom.Metrics.FeeClaims, 1)
	assertCounter(t, prom.Metrics.AlertsSent, 1)
}

func assertCounter(t *testing.T, c Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(c.(promCounter).counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
