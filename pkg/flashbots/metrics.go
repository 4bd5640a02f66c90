package flashbots

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// RequestsTotal tracks relay JSON-RPC requests by method and status.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_flashbots_requests_total",
		Help: "Total number of relay requests",
	}, []string{"method", "status"})

	// RequestDuration tracks relay request latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liquidator_flashbots_request_duration_seconds",
		Help:    "Relay request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// SimulationsTotal tracks bundle simulations by outcome.
	SimulationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_flashbots_simulations_total",
		Help: "Total number of bundle simulations",
	}, []string{"outcome"})

	// BundlesSentTotal tracks eth_sendBundle calls by outcome.
	BundlesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_flashbots_bundles_sent_total",
		Help: "Total number of bundles sent to the relay",
	}, []string{"outcome"})

	// BundleResolutionsTotal tracks how submitted bundles resolved.
	BundleResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_flashbots_bundle_resolutions_total",
		Help: "Total number of resolved bundle submissions",
	}, []string{"resolution"})
)
