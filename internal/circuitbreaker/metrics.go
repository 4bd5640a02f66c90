package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// GuardOpen is 1 while submissions are blocked.
	GuardOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liquidator_gas_guard_open",
		Help: "Whether the gas guard blocks bundle submission (1=blocked, 0=allowed)",
	})

	// NativeBalance tracks the last checked native balance.
	NativeBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liquidator_gas_guard_native_balance",
		Help: "Last native balance checked by the gas guard (whole units)",
	})

	// DisableThreshold tracks the balance below which submissions stop.
	DisableThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liquidator_gas_guard_disable_threshold",
		Help: "Native balance below which submissions are blocked",
	})

	// EnableThreshold tracks the balance at which submissions resume.
	EnableThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liquidator_gas_guard_enable_threshold",
		Help: "Native balance at which submissions resume (with hysteresis)",
	})

	// AvgSpend tracks the rolling average worst-case bundle cost.
	AvgSpend = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liquidator_gas_guard_avg_spend",
		Help: "Rolling average worst-case gas cost of submitted bundles (whole native units)",
	})

	// StateChanges counts guard transitions.
	StateChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_gas_guard_state_changes_total",
		Help: "Total number of gas guard state changes",
	})

	// CheckDuration tracks the balance check latency.
	CheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "liquidator_gas_guard_check_duration_seconds",
		Help:    "Time taken to check the native balance",
		Buckets: prometheus.DefBuckets,
	})
)
