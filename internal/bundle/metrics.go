package bundle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// BundlesAssembledTotal tracks successfully assembled bundles.
	BundlesAssembledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_bundle_assembled_total",
		Help: "Total number of assembled liquidation bundles",
	})

	// AssemblyFailuresTotal tracks aborted assemblies.
	AssemblyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_bundle_assembly_failures_total",
		Help: "Total number of aborted bundle assemblies",
	})

	// IntentsPerBundle tracks bundle sizes.
	IntentsPerBundle = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "liquidator_bundle_intents",
		Help:    "Number of transactions per assembled bundle",
		Buckets: []float64{1, 2, 3, 4, 5, 6},
	})

	// GasFallbacksTotal tracks intents priced with a fallback gas limit.
	GasFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_bundle_gas_fallbacks_total",
		Help: "Total number of intents priced with a fallback gas limit",
	}, []string{"kind"})
)
