// Package profit decides whether a liquidatable position is worth executing.
package profit

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/blue-liquidator/internal/accrual"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Skip reasons reported on NOT_PROFITABLE results.
const (
	ReasonInsufficientProfit = "insufficient profit"
	ReasonNotLiquidatable    = "position not liquidatable"
)

// Quoter fetches swap routes from an aggregator.
type Quoter interface {
	Quote(ctx context.Context, req types.QuoteRequest) (*types.SwapQuote, error)
}

// Config holds evaluator configuration.
type Config struct {
	Quoter Quoter
	Wallet common.Address

	FundingToken types.Token
	PayoutToken  types.Token

	// MinProfitUSD is scaled by 1e18.
	MinProfitUSD *big.Int
	MaxImpactPct float64

	// SwapEnabled turns the evaluator into a pass-through when false.
	SwapEnabled bool
	// ProfitCheckEnabled applies MinProfitUSD when true.
	ProfitCheckEnabled bool

	Logger *zap.Logger
}

// Input is everything needed to evaluate one position.
type Input struct {
	Accrued  *types.AccruedResult
	Snapshot types.PositionSnapshot

	// DebtBalance is the wallet's balance of the loan token.
	DebtBalance *big.Int
	Gas         types.GasParams

	NativePriceUSD *big.Int
	Prices         types.PriceBook
}

// Evaluator prices a liquidation net of swaps and gas.
type Evaluator struct {
	quoter       Quoter
	wallet       common.Address
	fundingToken types.Token
	payoutToken  types.Token
	minProfitUSD *big.Int
	maxImpactPct float64
	swapEnabled  bool
	profitCheck  bool
	logger       *zap.Logger
}

// New creates an evaluator.
func New(cfg *Config) (*Evaluator, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.SwapEnabled && cfg.Quoter == nil {
		return nil, errors.New("quoter cannot be nil when swaps are enabled")
	}

	minProfit := cfg.MinProfitUSD
	if minProfit == nil {
		minProfit = new(big.Int)
	}

	return &Evaluator{
		quoter:       cfg.Quoter,
		wallet:       cfg.Wallet,
		fundingToken: cfg.FundingToken,
		payoutToken:  cfg.PayoutToken,
		minProfitUSD: new(big.Int).Set(minProfit),
		maxImpactPct: cfg.MaxImpactPct,
		swapEnabled:  cfg.SwapEnabled,
		profitCheck:  cfg.ProfitCheckEnabled,
		logger:       cfg.Logger,
	}, nil
}

// Evaluate decides whether the position should be liquidated.
// Insufficient profit is a Skip decision, never an error.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*types.Decision, error) {
	if in.Accrued == nil {
		return nil, errors.New("accrued result cannot be nil")
	}

	if !in.Accrued.Liquidatable || in.Accrued.SeizableCollateral.Sign() == 0 {
		DecisionsTotal.WithLabelValues("skip").Inc()
		return &types.Decision{Reason: ReasonNotLiquidatable}, nil
	}

	market := in.Accrued.Market
	repaid := accrual.ToAssetsDown(in.Accrued.RepayableDebtShares, market.TotalBorrowAssets, market.TotalBorrowShares)

	balance := in.DebtBalance
	if balance == nil {
		balance = new(big.Int)
	}

	shortfall := new(big.Int).Sub(repaid, balance)
	if shortfall.Sign() < 0 {
		shortfall.SetInt64(0)
	}

	decision := &types.Decision{
		RepaidDebtAssets:   repaid,
		FundingShortfall:   shortfall,
		ExpectedSwapOutput: new(big.Int).Set(in.Accrued.SeizableCollateral),
		NativePriceUSD:     in.NativePriceUSD,
	}

	if !e.swapEnabled {
		decision.Proceed = true
		decision.Reason = "swaps disabled"
		DecisionsTotal.WithLabelValues("proceed").Inc()
		return decision, nil
	}

	err := e.quote(ctx, in, decision)
	if err != nil {
		QuoteFailuresTotal.Inc()
		return nil, err
	}

	if !e.profitCheck {
		decision.Proceed = true
		decision.Reason = "profit check disabled"
		DecisionsTotal.WithLabelValues("proceed").Inc()
		return decision, nil
	}

	err = e.price(in, decision)
	if err != nil {
		return nil, err
	}

	e.applyGas(decision, in.Gas.GasLimit, in.Gas.MaxFeePerGas)
	e.decide(decision, in.Accrued.Borrower)

	return decision, nil
}

// Recheck re-applies the gas cost and threshold once the bundle's real gas is known.
// Decisions that carry no USD figures are returned unchanged.
func (e *Evaluator) Recheck(decision *types.Decision, totalGas uint64, maxFeePerGas *big.Int, borrower common.Address) *types.Decision {
	if decision == nil || !decision.Proceed || decision.PayoutUSD == nil || decision.RepaidUSD == nil {
		return decision
	}

	out := *decision
	e.applyGas(&out, totalGas, maxFeePerGas)
	e.decide(&out, borrower)

	return &out
}

// quote fetches the funding and disposal routes concurrently.
func (e *Evaluator) quote(ctx context.Context, in Input, decision *types.Decision) error {
	debtToken := in.Snapshot.LoanToken
	collateralToken := in.Snapshot.CollateralToken

	g, gctx := errgroup.WithContext(ctx)

	if decision.NeedsFunding() {
		if e.fundingToken.Address == debtToken.Address {
			return fmt.Errorf("%w: wallet holds %s %s, needs %s more and funding token is the debt token",
				types.ErrQuoteUnavailable, in.DebtBalance, debtToken.Symbol, decision.FundingShortfall)
		}

		g.Go(func() error {
			q, err := e.quoter.Quote(gctx, types.QuoteRequest{
				SrcToken:     e.fundingToken,
				DestToken:    debtToken,
				Amount:       decision.FundingShortfall,
				Side:         types.SideBuy,
				User:         e.wallet,
				MaxImpactPct: e.maxImpactPct,
			})
			if err != nil {
				return fmt.Errorf("funding quote: %w", wrapQuote(err))
			}
			decision.FundingQuote = q
			return nil
		})
	}

	if collateralToken.Address != e.payoutToken.Address {
		g.Go(func() error {
			q, err := e.quoter.Quote(gctx, types.QuoteRequest{
				SrcToken:     collateralToken,
				DestToken:    e.payoutToken,
				Amount:       in.Accrued.SeizableCollateral,
				Side:         types.SideSell,
				User:         e.wallet,
				MaxImpactPct: e.maxImpactPct,
			})
			if err != nil {
				return fmt.Errorf("disposal quote: %w", wrapQuote(err))
			}
			decision.DisposalQuote = q
			decision.ExpectedSwapOutput = new(big.Int).Set(q.DestAmount)
			return nil
		})
	}

	return g.Wait()
}

// price fills the USD legs of the decision.
func (e *Evaluator) price(in Input, decision *types.Decision) error {
	if in.NativePriceUSD == nil {
		return fmt.Errorf("native asset: %w", types.ErrUnknownTokenPrice)
	}

	debtToken, err := in.Prices.Resolve(in.Snapshot.LoanToken)
	if err != nil {
		return err
	}

	payoutToken := e.payoutToken
	if decision.DisposalQuote == nil {
		payoutToken = in.Snapshot.CollateralToken
	}
	payoutToken, err = in.Prices.Resolve(payoutToken)
	if err != nil {
		return err
	}

	payoutUSD, err := types.ToUSD(decision.ExpectedSwapOutput, payoutToken)
	if err != nil {
		return err
	}

	held := new(big.Int).Sub(decision.RepaidDebtAssets, decision.FundingShortfall)
	repaidUSD, err := types.ToUSD(held, debtToken)
	if err != nil {
		return err
	}

	if decision.FundingQuote != nil {
		fundingToken, resolveErr := in.Prices.Resolve(e.fundingToken)
		if resolveErr != nil {
			return resolveErr
		}
		fundingUSD, usdErr := types.ToUSD(decision.FundingQuote.SrcAmount, fundingToken)
		if usdErr != nil {
			return usdErr
		}
		repaidUSD.Add(repaidUSD, fundingUSD)
	}

	decision.PayoutUSD = payoutUSD
	decision.RepaidUSD = repaidUSD

	return nil
}

// applyGas prices gasLimit at maxFeePerGas and recomputes the net profit.
func (e *Evaluator) applyGas(decision *types.Decision, gasLimit uint64, maxFeePerGas *big.Int) {
	gasUSD := new(big.Int)
	if maxFeePerGas != nil && decision.NativePriceUSD != nil {
		gasUSD.SetUint64(gasLimit)
		gasUSD.Mul(gasUSD, maxFeePerGas)
		gasUSD.Mul(gasUSD, decision.NativePriceUSD)
		gasUSD.Quo(gasUSD, accrual.WAD)
	}

	net := new(big.Int).Sub(decision.PayoutUSD, decision.RepaidUSD)
	net.Sub(net, gasUSD)

	decision.GasUSD = gasUSD
	decision.NetProfitUSD = net
}

func (e *Evaluator) decide(decision *types.Decision, borrower common.Address) {
	decision.Proceed = decision.NetProfitUSD.Cmp(e.minProfitUSD) >= 0
	decision.Reason = ""
	if !decision.Proceed {
		decision.Reason = ReasonInsufficientProfit
	}

	outcome := "skip"
	if decision.Proceed {
		outcome = "proceed"
	}
	DecisionsTotal.WithLabelValues(outcome).Inc()

	netFloat, _ := new(big.Float).Quo(new(big.Float).SetInt(decision.NetProfitUSD), new(big.Float).SetInt(accrual.WAD)).Float64()
	NetProfitUSD.Observe(netFloat)

	e.logger.Debug("profit-evaluated",
		zap.String("borrower", borrower.Hex()),
		zap.String("payout-usd", types.FormatUSD(decision.PayoutUSD)),
		zap.String("repaid-usd", types.FormatUSD(decision.RepaidUSD)),
		zap.String("gas-usd", types.FormatUSD(decision.GasUSD)),
		zap.String("net-usd", types.FormatUSD(decision.NetProfitUSD)),
		zap.Bool("proceed", decision.Proceed))
}

func wrapQuote(err error) error {
	if errors.Is(err, types.ErrQuoteUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrQuoteUnavailable, err)
}
