// Package testutil holds fixtures and in-memory fakes shared by package tests.
package testutil

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/blue-liquidator/pkg/types"
)

// Well-known addresses used across tests.
var (
	USDCAddress   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	WETHAddress   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	DAIAddress    = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	OracleAddress = common.HexToAddress("0x000000000000000000000000000000000000000a")
	IRMAddress    = common.HexToAddress("0x000000000000000000000000000000000000001a")
	MorphoAddress = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	SpenderAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	RouterAddress = common.HexToAddress("0x00000000000000000000000000000000000000ef")
	WalletAddress = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	BorrowerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

// Big parses a base-10 integer and panics on malformed input.
func Big(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("testutil: bad integer " + s)
	}
	return v
}

// USD scales whole dollars to 1e18.
func USD(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), Big("1000000000000000000"))
}

// USDC is a 6-decimal stablecoin priced at 1 USD.
func USDC() types.Token {
	return types.Token{Address: USDCAddress, Decimals: 6, Symbol: "USDC", PriceUSD: USD(1)}
}

// WETH is an 18-decimal token priced at 2000 USD.
func WETH() types.Token {
	return types.Token{Address: WETHAddress, Decimals: 18, Symbol: "WETH", PriceUSD: USD(2000)}
}

// DAI is an 18-decimal stablecoin priced at 1 USD.
func DAI() types.Token {
	return types.Token{Address: DAIAddress, Decimals: 18, Symbol: "DAI", PriceUSD: USD(1)}
}

// NativePriceUSD is the native asset price used by the scenarios.
func NativePriceUSD() *big.Int {
	return USD(2000)
}

// UnhealthySnapshot is a USDC/WETH position at 38.5% LLTV that can be liquidated:
// 500 USDC of debt against 0.5 WETH at 2000 USDC/WETH, no pending interest.
// Repaying every share costs 500 USDC and seizes 0.2875 WETH.
func UnhealthySnapshot(now time.Time) types.PositionSnapshot {
	market := types.Market{
		ID: common.HexToHash("0x01"),
		Params: types.MarketParams{
			LoanToken:       USDCAddress,
			CollateralToken: WETHAddress,
			Oracle:          OracleAddress,
			IRM:             IRMAddress,
			LLTV:            Big("385000000000000000"),
		},
		TotalSupplyAssets: Big("2000000000"),
		TotalSupplyShares: Big("2000000000000000"),
		TotalBorrowAssets: Big("1000000000"),
		TotalBorrowShares: Big("1000000000000000"),
		LastUpdate:        now,
		Fee:               new(big.Int),
		OraclePrice:       Big("2000000000000000000000000000"),
		BorrowRate:        new(big.Int),
	}

	return types.PositionSnapshot{
		Position: types.Position{
			Owner:        BorrowerAddr,
			MarketID:     market.ID,
			SupplyShares: new(big.Int),
			BorrowShares: Big("500000000000000"),
			Collateral:   Big("500000000000000000"),
			LastUpdate:   now,
		},
		Market:          market,
		CollateralToken: WETH(),
		LoanToken:       USDC(),
	}
}

// HealthySnapshot is UnhealthySnapshot with ten times the collateral.
func HealthySnapshot(now time.Time) types.PositionSnapshot {
	snap := UnhealthySnapshot(now)
	snap.Position.Owner = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	snap.Position.Collateral = Big("5000000000000000000")
	return snap
}

// Seizable is the collateral UnhealthySnapshot yields.
func Seizable() *big.Int {
	return Big("287500000000000000")
}

// NewSnapshot wraps positions in a discovery snapshot with the scenario prices.
func NewSnapshot(now time.Time, positions ...types.PositionSnapshot) *types.Snapshot {
	prices := types.PriceBook{}
	for _, token := range []types.Token{USDC(), WETH(), DAI()} {
		prices[token.Address] = token.PriceUSD
	}

	return &types.Snapshot{
		Positions:      positions,
		NativePriceUSD: NativePriceUSD(),
		Prices:         prices,
		FetchedAt:      now,
	}
}
