package paraswap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// RequestsTotal tracks aggregator requests by endpoint and status.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_paraswap_requests_total",
		Help: "Total number of swap aggregator requests",
	}, []string{"endpoint", "status"})

	// RequestDuration tracks aggregator latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liquidator_paraswap_request_duration_seconds",
		Help:    "Swap aggregator request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
