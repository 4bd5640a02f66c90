// Package accrual recomputes a position's liquidatable state as of a given time.
package accrual

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/mselser95/blue-liquidator/pkg/types"
)

// Func accrues interest on a market and returns the post-accrual market with
// the collateral seizable from the position. It must not mutate its inputs.
type Func func(market types.Market, position types.Position, now time.Time) (types.Market, *big.Int, error)

// Config holds accruer configuration.
type Config struct {
	// RequirePrices makes a missing collateral or loan token price fatal.
	RequirePrices bool
	// Accrual defaults to MorphoBlue.
	Accrual Func
}

// Accruer turns a position snapshot into an AccruedResult.
type Accruer struct {
	requirePrices bool
	accrue        Func
}

// New creates a new accruer.
func New(cfg Config) *Accruer {
	fn := cfg.Accrual
	if fn == nil {
		fn = MorphoBlue
	}
	return &Accruer{
		requirePrices: cfg.RequirePrices,
		accrue:        fn,
	}
}

// Accrue recomputes seizable collateral and repayable debt as of now.
func (a *Accruer) Accrue(snap types.PositionSnapshot, now time.Time) (*types.AccruedResult, error) {
	if !snap.CollateralToken.HasMetadata() {
		return nil, fmt.Errorf("collateral token %s: %w", snap.CollateralToken.Address.Hex(), types.ErrMissingTokenMetadata)
	}
	if !snap.LoanToken.HasMetadata() {
		return nil, fmt.Errorf("loan token %s: %w", snap.LoanToken.Address.Hex(), types.ErrMissingTokenMetadata)
	}

	if a.requirePrices {
		if !snap.CollateralToken.HasPrice() {
			return nil, fmt.Errorf("collateral token %s: %w", snap.CollateralToken.Address.Hex(), types.ErrUnknownTokenPrice)
		}
		if !snap.LoanToken.HasPrice() {
			return nil, fmt.Errorf("loan token %s: %w", snap.LoanToken.Address.Hex(), types.ErrUnknownTokenPrice)
		}
	}

	if snap.Position.BorrowShares == nil || snap.Position.Collateral == nil {
		return nil, errors.New("position is missing borrow shares or collateral")
	}

	market, seizable, err := a.accrue(snap.Market, snap.Position, now)
	if err != nil {
		return nil, fmt.Errorf("accrue interest: %w", err)
	}

	return &types.AccruedResult{
		Market:              market,
		Borrower:            snap.Position.Owner,
		Liquidatable:        seizable.Sign() > 0,
		SeizableCollateral:  seizable,
		RepayableDebtShares: new(big.Int).Set(snap.Position.BorrowShares),
	}, nil
}

// MorphoBlue is the Morpho Blue accrual: Taylor-compounded borrow interest,
// fee shares minted to the supply side, and the protocol's health check.
func MorphoBlue(market types.Market, position types.Position, now time.Time) (types.Market, *big.Int, error) {
	if market.OraclePrice == nil || market.OraclePrice.Sign() == 0 {
		return types.Market{}, nil, errors.New("oracle price unavailable")
	}
	if market.Params.LLTV == nil {
		return types.Market{}, nil, errors.New("market lltv unavailable")
	}
	if market.TotalBorrowAssets == nil || market.TotalBorrowShares == nil ||
		market.TotalSupplyAssets == nil || market.TotalSupplyShares == nil {
		return types.Market{}, nil, errors.New("market totals unavailable")
	}

	accrued := AccrueInterest(market, now)

	borrowed := ToAssetsUp(position.BorrowShares, accrued.TotalBorrowAssets, accrued.TotalBorrowShares)
	collateralValue := MulDivDown(position.Collateral, accrued.OraclePrice, OraclePriceScale)
	maxBorrow := WMulDown(collateralValue, accrued.Params.LLTV)

	if maxBorrow.Cmp(borrowed) >= 0 {
		return accrued, new(big.Int), nil
	}

	debtAssets := ToAssetsDown(position.BorrowShares, accrued.TotalBorrowAssets, accrued.TotalBorrowShares)
	incentivized := WMulDown(debtAssets, LiquidationIncentiveFactor(accrued.Params.LLTV))
	seizable := MulDivDown(incentivized, OraclePriceScale, accrued.OraclePrice)

	return accrued, minInt(seizable, position.Collateral), nil
}

// AccrueInterest returns a copy of market with interest accrued up to now.
func AccrueInterest(market types.Market, now time.Time) types.Market {
	out := market.Clone()

	elapsed := int64(now.Sub(market.LastUpdate) / time.Second)
	if elapsed <= 0 || market.BorrowRate == nil || market.BorrowRate.Sign() == 0 {
		return out
	}

	interest := WMulDown(out.TotalBorrowAssets, WTaylorCompounded(out.BorrowRate, elapsed))
	out.TotalBorrowAssets.Add(out.TotalBorrowAssets, interest)
	out.TotalSupplyAssets.Add(out.TotalSupplyAssets, interest)

	if out.Fee != nil && out.Fee.Sign() > 0 {
		feeAmount := WMulDown(interest, out.Fee)
		supplyBeforeFee := new(big.Int).Sub(out.TotalSupplyAssets, feeAmount)
		feeShares := ToSharesDown(feeAmount, supplyBeforeFee, out.TotalSupplyShares)
		out.TotalSupplyShares.Add(out.TotalSupplyShares, feeShares)
	}

	out.LastUpdate = market.LastUpdate.Add(time.Duration(elapsed) * time.Second)

	return out
}
