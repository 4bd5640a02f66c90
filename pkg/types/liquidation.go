package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AccruedResult is a position re-evaluated as of a given timestamp.
type AccruedResult struct {
	// Market is the post-accrual market state.
	Market   Market
	Borrower common.Address

	// Liquidatable is false when the position is still healthy after accrual.
	Liquidatable bool

	SeizableCollateral  *big.Int
	RepayableDebtShares *big.Int
}

// SwapSide is the direction of an aggregator quote.
type SwapSide string

const (
	// SideSell fixes the source amount.
	SideSell SwapSide = "SELL"
	// SideBuy fixes the destination amount.
	SideBuy SwapSide = "BUY"
)

// QuoteRequest asks the aggregator for a route.
type QuoteRequest struct {
	SrcToken  Token
	DestToken Token
	Amount    *big.Int
	Side      SwapSide
	User      common.Address

	// MaxImpactPct is the maximum price impact in percent (scale 1/100).
	MaxImpactPct float64
}

// SwapQuote is an aggregator route ready to be turned into calldata.
type SwapQuote struct {
	SrcToken   Token
	DestToken  Token
	SrcAmount  *big.Int
	DestAmount *big.Int
	Side       SwapSide

	// Spender is the contract that pulls the source token and needs the allowance.
	Spender common.Address

	// Route is the aggregator's opaque route payload, echoed back when building calldata.
	Route []byte
}

// SwapTx is the raw call produced for a quote.
type SwapTx struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// GasParams is the fee pair and gas budget shared by every transaction of a bundle.
type GasParams struct {
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Decision is the outcome of the profitability evaluation.
type Decision struct {
	Proceed bool
	Reason  string

	RepaidDebtAssets   *big.Int
	FundingShortfall   *big.Int
	ExpectedSwapOutput *big.Int

	FundingQuote  *SwapQuote
	DisposalQuote *SwapQuote

	// USD figures scaled by 1e18. Nil when the chain does not compute profit.
	PayoutUSD    *big.Int
	RepaidUSD    *big.Int
	GasUSD       *big.Int
	NetProfitUSD *big.Int

	// NativePriceUSD is kept so the decision can be rechecked once real gas is known.
	NativePriceUSD *big.Int
}

// NeedsFunding reports whether the wallet must swap into the debt token first.
func (d *Decision) NeedsFunding() bool {
	return d.FundingShortfall != nil && d.FundingShortfall.Sign() > 0
}
