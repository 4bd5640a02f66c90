package types

import "errors"

// Errors surfaced by the liquidation pipeline. Callers match them with errors.Is.
var (
	ErrUnknownTokenPrice    = errors.New("unknown token price")
	ErrMissingTokenMetadata = errors.New("missing token metadata")
	ErrQuoteUnavailable     = errors.New("swap quote unavailable")
	ErrSimulationReverted   = errors.New("bundle simulation reverted")
	ErrRelayRejected        = errors.New("relay rejected bundle")
	ErrStaleBlockData       = errors.New("stale block data")
	ErrBundleNotIncluded    = errors.New("bundle not included")
)
