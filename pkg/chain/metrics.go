package chain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// RPCDurationSeconds tracks node RPC latency per method.
	RPCDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liquidator_chain_rpc_duration_seconds",
		Help:    "Duration of EVM node RPC calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// RPCErrorsTotal tracks failed node RPC calls per method.
	RPCErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquidator_chain_rpc_errors_total",
		Help: "Total number of failed EVM node RPC calls",
	}, []string{"method"})

	// NoncesReservedTotal tracks nonces handed out to bundles.
	NoncesReservedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_chain_nonces_reserved_total",
		Help: "Total number of nonces reserved for bundles",
	})

	// NonceRollbacksTotal tracks unconsumed leases returned to the pool.
	NonceRollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquidator_chain_nonce_rollbacks_total",
		Help: "Total number of unconsumed nonce leases rolled back",
	})
)
