package profit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// DecisionsTotal tracks evaluator outcomes.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_profit_decisions_total",
		Help: "Total number of profitability decisions by outcome",
	}, []string{"outcome"})

	// QuoteFailuresTotal tracks evaluations aborted by a missing swap quote.
	QuoteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_profit_quote_failures_total",
		Help: "Total number of evaluations aborted by an unavailable quote",
	})

	// NetProfitUSD tracks the approximate net profit of evaluated positions.
	NetProfitUSD = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "liquidator_profit_net_usd",
		Help:    "Approximate net profit in USD of evaluated liquidations",
		Buckets: []float64{-100, -10, -1, 0, 1, 5, 10, 50, 100, 500, 1000},
	})
)
