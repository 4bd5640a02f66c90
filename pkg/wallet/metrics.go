package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// NativeBalance tracks the native balance available for gas.
	NativeBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liquidator_wallet_native_balance",
		Help: "Current native balance in wallet (whole units)",
	})

	// FundingBalance tracks the funding token balance used to repay debt.
	FundingBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liquidator_wallet_funding_balance",
		Help: "Current funding token balance in wallet (whole units)",
	})

	// FundingAllowance tracks the funding token allowance to the Morpho contract.
	FundingAllowance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liquidator_wallet_funding_allowance",
		Help: "Funding token allowance granted to the Morpho contract (whole units)",
	})

	// UpdateErrorsTotal tracks the number of failed update attempts.
	UpdateErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_wallet_update_errors_total",
		Help: "Total number of failed wallet update attempts",
	})

	// UpdateDuration tracks the time taken to fetch wallet data.
	UpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "liquidator_wallet_update_duration_seconds",
		Help:    "Time taken to fetch wallet data (seconds)",
		Buckets: prometheus.DefBuckets,
	})

	// LastUpdateTimestamp tracks the Unix timestamp of the last successful update.
	LastUpdateTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liquidator_wallet_last_update_timestamp",
		Help: "Unix timestamp of last successful wallet update",
	})
)
