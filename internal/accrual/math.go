package accrual

import "math/big"

// Fixed-point constants of the Morpho Blue protocol.
//
//nolint:gochecknoglobals // Read-only protocol constants
var (
	WAD              = big.NewInt(1e18)
	VirtualShares    = big.NewInt(1e6)
	VirtualAssets    = big.NewInt(1)
	OraclePriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(36), nil)

	// MaxLiquidationIncentiveFactor is 1.15 in WAD.
	MaxLiquidationIncentiveFactor = big.NewInt(1.15e18)
	// LiquidationCursor is 0.3 in WAD.
	LiquidationCursor = big.NewInt(0.3e18)

	bigOne = big.NewInt(1)
	bigTwo = big.NewInt(2)
)

// MulDivDown returns x*y/d rounded toward zero.
func MulDivDown(x, y, d *big.Int) *big.Int {
	out := new(big.Int).Mul(x, y)
	return out.Quo(out, d)
}

// MulDivUp returns x*y/d rounded up.
func MulDivUp(x, y, d *big.Int) *big.Int {
	out := new(big.Int).Mul(x, y)
	out.Add(out, d)
	out.Sub(out, bigOne)
	return out.Quo(out, d)
}

// WMulDown multiplies two WAD values rounding down.
func WMulDown(x, y *big.Int) *big.Int {
	return MulDivDown(x, y, WAD)
}

// WDivDown divides two WAD values rounding down.
func WDivDown(x, y *big.Int) *big.Int {
	return MulDivDown(x, WAD, y)
}

// WDivUp divides two WAD values rounding up.
func WDivUp(x, y *big.Int) *big.Int {
	return MulDivUp(x, WAD, y)
}

// ToAssetsDown converts shares to assets, truncating.
func ToAssetsDown(shares, totalAssets, totalShares *big.Int) *big.Int {
	return MulDivDown(shares, new(big.Int).Add(totalAssets, VirtualAssets), new(big.Int).Add(totalShares, VirtualShares))
}

// ToAssetsUp converts shares to assets, rounding up.
func ToAssetsUp(shares, totalAssets, totalShares *big.Int) *big.Int {
	return MulDivUp(shares, new(big.Int).Add(totalAssets, VirtualAssets), new(big.Int).Add(totalShares, VirtualShares))
}

// ToSharesDown converts assets to shares, truncating.
func ToSharesDown(assets, totalAssets, totalShares *big.Int) *big.Int {
	return MulDivDown(assets, new(big.Int).Add(totalShares, VirtualShares), new(big.Int).Add(totalAssets, VirtualAssets))
}

// ToSharesUp converts assets to shares, rounding up.
func ToSharesUp(assets, totalAssets, totalShares *big.Int) *big.Int {
	return MulDivUp(assets, new(big.Int).Add(totalShares, VirtualShares), new(big.Int).Add(totalAssets, VirtualAssets))
}

// WTaylorCompounded approximates e^(x*n) - 1 with the first three Taylor terms.
func WTaylorCompounded(x *big.Int, n int64) *big.Int {
	first := new(big.Int).Mul(x, big.NewInt(n))
	second := MulDivDown(first, first, new(big.Int).Mul(bigTwo, WAD))
	third := MulDivDown(second, first, new(big.Int).Mul(big.NewInt(3), WAD))

	out := new(big.Int).Add(first, second)
	return out.Add(out, third)
}

// LiquidationIncentiveFactor returns min(1.15, 1/(1 - 0.3*(1 - lltv))) in WAD.
func LiquidationIncentiveFactor(lltv *big.Int) *big.Int {
	denom := new(big.Int).Sub(WAD, WMulDown(LiquidationCursor, new(big.Int).Sub(WAD, lltv)))
	lif := WDivDown(WAD, denom)
	if lif.Cmp(MaxLiquidationIncentiveFactor) > 0 {
		return new(big.Int).Set(MaxLiquidationIncentiveFactor)
	}
	return lif
}

// LiquidationRepaidShares returns the borrow shares repaid when seizing seizedAssets of collateral.
func LiquidationRepaidShares(seizedAssets, price, lltv, totalBorrowAssets, totalBorrowShares *big.Int) *big.Int {
	seizedInLoan := MulDivUp(seizedAssets, price, OraclePriceScale)
	repaidAssets := WDivUp(seizedInLoan, LiquidationIncentiveFactor(lltv))
	return ToSharesUp(repaidAssets, totalBorrowAssets, totalBorrowShares)
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
