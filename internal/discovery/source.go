// Package discovery turns the Morpho API feed or a watch list of on-chain
// positions into the snapshot each poll cycle evaluates.
package discovery

import (
	"context"
	"math/big"

	"github.com/mselser95/blue-liquidator/pkg/types"
	"github.com/shopspring/decimal"
)

// Source produces one snapshot per poll cycle.
type Source interface {
	Fetch(ctx context.Context) (*types.Snapshot, error)
}

// Source labels used in metrics and logs.
const (
	SourceAPI     = "api"
	SourceOnChain = "onchain"
)

// wadFromFloat scales a float USD price to 1e18. Negative prices are rejected.
func wadFromFloat(v float64) *big.Int {
	if v < 0 {
		return nil
	}
	return decimal.NewFromFloat(v).Shift(18).BigInt()
}
