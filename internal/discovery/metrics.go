package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// PositionsFetchedTotal tracks positions returned by a source.
	PositionsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_discovery_positions_total",
		Help: "Total number of positions returned by discovery",
	}, []string{"source"})

	// PositionsDroppedTotal tracks positions discarded during normalization.
	PositionsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_discovery_positions_dropped_total",
		Help: "Total number of positions dropped during normalization",
	}, []string{"reason"})

	// FetchDurationSeconds tracks snapshot fetch latency.
	FetchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liquidator_discovery_fetch_duration_seconds",
		Help:    "Duration of discovery snapshot fetches",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	// FetchErrorsTotal tracks snapshot fetch failures.
	FetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_discovery_fetch_errors_total",
		Help: "Total number of discovery fetch failures",
	}, []string{"source"})

	// WhitelistRefreshesTotal tracks whitelist reloads from the API.
	WhitelistRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_discovery_whitelist_refreshes_total",
		Help: "Total number of whitelisted market reloads",
	})

	WhitelistErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_discovery_whitelist_errors_total",
		Help: "Total number of failed whitelisted market reloads",
	})

	// RefreshErrorsTotal tracks failed on-chain refreshes.
	RefreshErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_discovery_refresh_errors_total",
		Help: "Total number of failed on-chain position refreshes",
	})
)
