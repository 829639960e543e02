// Package metrics defines prometheus metric types and provides convenience
// values other packages update as they track interface/address state and
// service route queries.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or going out of the system: events, requests, routes.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheInterfaceGauge tracks the number of interfaces currently held in
	// the cache.
	CacheInterfaceGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netstate_cache_interfaces",
			Help: "Number of interfaces currently cached.",
		},
	)

	// CacheAddressGauge tracks the number of addresses currently indexed
	// across all cached interfaces.
	CacheAddressGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netstate_cache_addresses",
			Help: "Number of addresses currently indexed in the reverse map.",
		},
	)

	// RoamEventCount counts roaming notifications delivered to the
	// downward listener, labeled by whether the address set changed.
	//
	// Provides metrics:
	//   netstate_roam_events_total
	RoamEventCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netstate_roam_events_total",
			Help: "Roaming notifications delivered, by address-changed label.",
		}, []string{"address_changed"})

	// RoamSuppressedCount counts Fire calls that landed inside an
	// already-scheduled debounce window and were coalesced away.
	RoamSuppressedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netstate_roam_suppressed_total",
			Help: "Roaming Fire calls coalesced into an already-pending window.",
		},
	)

	// BrokerLatencyHistogram tracks the time from sending a GET request to
	// a matching reply arriving.
	BrokerLatencyHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "netstate_broker_latency_seconds",
			Help: "Route-request round-trip latency distribution (seconds).",
			Buckets: []float64{
				0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
				0.25, 0.5, 1, 2.5, 5,
			},
		},
	)

	// BrokerTimeoutCount counts GetSourceAddr/GetNexthop calls that gave
	// up without a matching reply.
	BrokerTimeoutCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netstate_broker_timeout_total",
			Help: "Route requests that timed out without a matching reply.",
		},
	)

	// CodecDropCount counts routing messages discarded by rtmsg/receiver,
	// labeled by the reason they were dropped.
	//
	// Example usage:
	//   metrics.CodecDropCount.With(prometheus.Labels{"reason": "short_header"}).Inc()
	CodecDropCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netstate_codec_drop_total",
			Help: "Routing messages dropped by the receiver, by reason.",
		}, []string{"reason"})

	// VIPOutcomeCount counts AddIP/DelIP calls, labeled by operation and
	// outcome (ok, timeout, error).
	VIPOutcomeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netstate_vip_outcome_total",
			Help: "Virtual-IP add/del outcomes, by operation and result.",
		}, []string{"op", "outcome"})
)

// init() prints a log message to let the user know that the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can be
// opaque.
func init() {
	log.Println("Prometheus metrics in kernelnet.metrics are registered.")
}
