package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hostnetstate/kernelnet/metrics"
)

func TestCounterVecsIncrement(t *testing.T) {
	before := testutil.ToFloat64(metrics.RoamEventCount.With(prometheus.Labels{"address_changed": "true"}))
	metrics.RoamEventCount.With(prometheus.Labels{"address_changed": "true"}).Inc()
	after := testutil.ToFloat64(metrics.RoamEventCount.With(prometheus.Labels{"address_changed": "true"}))
	if after != before+1 {
		t.Fatalf("RoamEventCount = %v, want %v", after, before+1)
	}
}

func TestGaugesAreSettable(t *testing.T) {
	metrics.CacheInterfaceGauge.Set(3)
	if got := testutil.ToFloat64(metrics.CacheInterfaceGauge); got != 3 {
		t.Fatalf("CacheInterfaceGauge = %v, want 3", got)
	}
}

func TestBrokerTimeoutCounter(t *testing.T) {
	before := testutil.ToFloat64(metrics.BrokerTimeoutCount)
	metrics.BrokerTimeoutCount.Inc()
	after := testutil.ToFloat64(metrics.BrokerTimeoutCount)
	if after != before+1 {
		t.Fatalf("BrokerTimeoutCount = %v, want %v", after, before+1)
	}
}
