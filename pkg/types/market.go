package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketID is the 32-byte Morpho Blue market identifier (keccak of the market params).
type MarketID = common.Hash

// Token describes an ERC20 asset referenced by a market.
type Token struct {
	Address  common.Address
	Decimals uint8
	Symbol   string

	// PriceUSD is the USD price of one whole token scaled by 1e18.
	// Nil means the price is unknown, which is never the same as zero.
	PriceUSD *big.Int
}

// HasMetadata reports whether the token carries enough metadata to be evaluated.
func (t Token) HasMetadata() bool {
	if t.Address == (common.Address{}) {
		return false
	}
	return t.Symbol != "" || t.Decimals != 0
}

// HasPrice reports whether a USD price is known for the token.
func (t Token) HasPrice() bool {
	return t.PriceUSD != nil
}

// MarketParams are the immutable parameters identifying a market.
type MarketParams struct {
	LoanToken       common.Address
	CollateralToken common.Address
	Oracle          common.Address
	IRM             common.Address
	LLTV            *big.Int
}

// Market is the state of one lending market at a point in time.
type Market struct {
	ID     MarketID
	Params MarketParams

	TotalSupplyAssets *big.Int
	TotalSupplyShares *big.Int
	TotalBorrowAssets *big.Int
	TotalBorrowShares *big.Int
	LastUpdate        time.Time
	Fee               *big.Int

	// OraclePrice is the collateral price quoted in loan token, scaled by 1e36.
	OraclePrice *big.Int

	// BorrowRate is the per-second borrow rate scaled by 1e18.
	BorrowRate *big.Int
}

// Clone returns a deep copy so derived state never aliases the input.
func (m Market) Clone() Market {
	out := m
	out.Params.LLTV = cloneInt(m.Params.LLTV)
	out.TotalSupplyAssets = cloneInt(m.TotalSupplyAssets)
	out.TotalSupplyShares = cloneInt(m.TotalSupplyShares)
	out.TotalBorrowAssets = cloneInt(m.TotalBorrowAssets)
	out.TotalBorrowShares = cloneInt(m.TotalBorrowShares)
	out.Fee = cloneInt(m.Fee)
	out.OraclePrice = cloneInt(m.OraclePrice)
	out.BorrowRate = cloneInt(m.BorrowRate)
	return out
}

// Position is one borrower's record in one market.
type Position struct {
	Owner        common.Address
	MarketID     MarketID
	SupplyShares *big.Int
	BorrowShares *big.Int
	Collateral   *big.Int
	LastUpdate   time.Time
}

// PositionSnapshot bundles a position with the market and token data needed to evaluate it.
type PositionSnapshot struct {
	Position        Position
	Market          Market
	CollateralToken Token
	LoanToken       Token
}

// Snapshot is the normalized output of a discovery source for one poll cycle.
type Snapshot struct {
	Positions []PositionSnapshot

	// NativePriceUSD is the USD price of the chain's native asset scaled by 1e18, nil if unknown.
	NativePriceUSD *big.Int
	// Prices holds every USD price the source knows, keyed by token address.
	Prices    PriceBook
	FetchedAt time.Time
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
