package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// SubmissionsTotal tracks bundle submissions by final outcome.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_relay_submissions_total",
		Help: "Total number of bundle submissions by outcome",
	}, []string{"outcome"})

	// AttemptsTotal tracks per-target attempts by resolution.
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_relay_attempts_total",
		Help: "Total number of per-target bundle attempts by resolution",
	}, []string{"resolution"})

	// SubmitDuration tracks the time from signing to the first inclusion or exhaustion.
	SubmitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "liquidator_relay_submit_duration_seconds",
		Help:    "Time from signing a bundle to its resolution",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})
)
