package liquidator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// PositionsTotal tracks processed positions by terminal status.
	PositionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_positions_total",
		Help: "Total number of processed positions by status",
	}, []string{"status"})

	// PositionDuration tracks the time spent on one position.
	PositionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "liquidator_position_duration_seconds",
		Help:    "Time taken to process one position",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// CyclesTotal tracks completed cycles.
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_cycles_total",
		Help: "Total number of completed cycles",
	})

	// CyclesSkippedTotal tracks skipped cycles by reason.
	CyclesSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_cycles_skipped_total",
		Help: "Total number of skipped cycles by reason",
	}, []string{"reason"})

	// CycleDuration tracks cycle latency.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "liquidator_cycle_duration_seconds",
		Help:    "Time taken by one cycle",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 600},
	})

	// LastCycleTimestamp is the Unix time of the last completed cycle.
	LastCycleTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liquidator_last_cycle_timestamp",
		Help: "Unix timestamp of the last completed cycle",
	})
)
