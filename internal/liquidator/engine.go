// Package liquidator runs the accrue, evaluate, assemble and submit pipeline
// for every position of a poll cycle.
package liquidator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/blue-liquidator/internal/bundle"
	"github.com/mselser95/blue-liquidator/internal/profit"
	"github.com/mselser95/blue-liquidator/pkg/chain"
	"github.com/mselser95/blue-liquidator/pkg/flashbots"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
)

// ReasonGasGuardOpen is reported when the wallet cannot cover gas.
const ReasonGasGuardOpen = "gas guard open: native balance below threshold"

// Accruer recomputes a position as of now.
type Accruer interface {
	Accrue(snap types.PositionSnapshot, now time.Time) (*types.AccruedResult, error)
}

// Evaluator decides whether a position is worth liquidating.
type Evaluator interface {
	Evaluate(ctx context.Context, in profit.Input) (*types.Decision, error)
	Recheck(decision *types.Decision, totalGas uint64, maxFeePerGas *big.Int, borrower common.Address) *types.Decision
}

// Assembler builds and prices bundles.
type Assembler interface {
	Assemble(ctx context.Context, in bundle.Input) ([]types.TransactionIntent, error)
	AttachGas(ctx context.Context, intents []types.TransactionIntent, fees types.GasParams) (*types.Bundle, error)
}

// Submitter lands bundles.
type Submitter interface {
	Submit(ctx context.Context, b *types.Bundle) (*types.SubmissionOutcome, error)
}

// BalanceReader reads ERC20 balances.
type BalanceReader interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// Refresher reloads a position's on-chain state right before accrual.
type Refresher interface {
	Refresh(ctx context.Context, snap types.PositionSnapshot) (types.PositionSnapshot, error)
}

// GasGuard blocks submissions while the wallet cannot pay for gas.
type GasGuard interface {
	IsOpen() bool
	RecordSpend(gasLimit uint64, maxFeePerGas *big.Int)
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Accruer   Accruer
	Evaluator Evaluator
	Assembler Assembler
	Submitter Submitter
	Balances  BalanceReader
	Headers   chain.HeaderReader

	// Refresher and Guard are optional.
	Refresher Refresher
	Guard     GasGuard

	Wallet common.Address

	// GasLimitBudget is the gas assumed for a bundle before it is assembled.
	GasLimitBudget    uint64
	PriorityFee       *big.Int
	FeeHeadroomBlocks int

	// Clock defaults to time.Now.
	Clock  func() time.Time
	Logger *zap.Logger
}

// Engine processes positions.
type Engine struct {
	accruer   Accruer
	evaluator Evaluator
	assembler Assembler
	submitter Submitter
	balances  BalanceReader
	headers   chain.HeaderReader
	refresher Refresher
	guard     GasGuard

	wallet         common.Address
	gasLimitBudget uint64
	priorityFee    *big.Int
	headroom       int

	clock  func() time.Time
	logger *zap.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.Accruer == nil || cfg.Evaluator == nil || cfg.Assembler == nil || cfg.Submitter == nil {
		return nil, errors.New("accruer, evaluator, assembler and submitter are required")
	}

	if cfg.Balances == nil {
		return nil, errors.New("balance reader cannot be nil")
	}

	if cfg.Headers == nil {
		return nil, errors.New("header reader cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	priorityFee := cfg.PriorityFee
	if priorityFee == nil {
		priorityFee = new(big.Int)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		accruer:        cfg.Accruer,
		evaluator:      cfg.Evaluator,
		assembler:      cfg.Assembler,
		submitter:      cfg.Submitter,
		balances:       cfg.Balances,
		headers:        cfg.Headers,
		refresher:      cfg.Refresher,
		guard:          cfg.Guard,
		wallet:         cfg.Wallet,
		gasLimitBudget: cfg.GasLimitBudget,
		priorityFee:    new(big.Int).Set(priorityFee),
		headroom:       cfg.FeeHeadroomBlocks,
		clock:          clock,
		logger:         cfg.Logger,
	}, nil
}

// RunCycle processes every position of snapshot concurrently. It always
// returns one result per position, in input order.
func (e *Engine) RunCycle(ctx context.Context, snapshot *types.Snapshot) []types.PositionResult {
	if snapshot == nil {
		return nil
	}

	results := make([]types.PositionResult, len(snapshot.Positions))

	var wg sync.WaitGroup
	for i := range snapshot.Positions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.Process(ctx, snapshot, snapshot.Positions[i])
		}()
	}
	wg.Wait()

	return results
}

// Process runs the pipeline for one position. Errors and panics become
// FAILED results and never escape.
func (e *Engine) Process(ctx context.Context, snapshot *types.Snapshot, pos types.PositionSnapshot) (result types.PositionResult) {
	start := time.Now()
	logger := e.logger.With(
		zap.String("borrower", pos.Position.Owner.Hex()),
		zap.String("market-id", pos.Position.MarketID.Hex()))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("position-panic", zap.Any("panic", r))
			result = types.NewResult(pos.Position, types.StatusFailed, fmt.Sprintf("panic: %v", r))
		}
		PositionsTotal.WithLabelValues(string(result.Status)).Inc()
		PositionDuration.Observe(time.Since(start).Seconds())
		logger.Info("position-processed",
			zap.String("status", string(result.Status)),
			zap.String("reason", result.Reason),
			zap.String("net-profit-usd", result.NetProfitUSD),
			zap.Duration("duration", time.Since(start)))
	}()

	failed := func(err error) types.PositionResult {
		return types.NewResult(pos.Position, types.StatusFailed, err.Error())
	}

	if e.refresher != nil {
		refreshed, err := e.refresher.Refresh(ctx, pos)
		if err != nil {
			return failed(fmt.Errorf("refresh position: %w", err))
		}
		pos = refreshed
	}

	pos = withPrices(pos, snapshot.Prices)

	accrued, err := e.accruer.Accrue(pos, e.clock())
	if err != nil {
		return failed(err)
	}

	if !accrued.Liquidatable {
		return types.NewResult(pos.Position, types.StatusNotProfitable, profit.ReasonNotLiquidatable)
	}

	head, baseFee, err := chain.LatestBlock(ctx, e.headers)
	if err != nil {
		return failed(err)
	}

	fees := types.GasParams{
		GasLimit:             e.gasLimitBudget,
		MaxFeePerGas:         new(big.Int).Add(flashbots.MaxBaseFeeInFutureBlock(baseFee, e.headroom), e.priorityFee),
		MaxPriorityFeePerGas: new(big.Int).Set(e.priorityFee),
	}

	debtBalance, err := e.balances.TokenBalance(ctx, pos.Market.Params.LoanToken, e.wallet)
	if err != nil {
		return failed(fmt.Errorf("read debt balance: %w", err))
	}

	decision, err := e.evaluator.Evaluate(ctx, profit.Input{
		Accrued:        accrued,
		Snapshot:       pos,
		DebtBalance:    debtBalance,
		Gas:            fees,
		NativePriceUSD: snapshot.NativePriceUSD,
		Prices:         snapshot.Prices,
	})
	if err != nil {
		return failed(err)
	}

	if !decision.Proceed {
		return skipped(pos.Position, decision)
	}

	if e.guard != nil && e.guard.IsOpen() {
		return failed(errors.New(ReasonGasGuardOpen))
	}

	intents, err := e.assembler.Assemble(ctx, bundle.Input{Accrued: accrued, Snapshot: pos, Decision: decision})
	if err != nil {
		return failed(fmt.Errorf("assemble bundle: %w", err))
	}

	b, err := e.assembler.AttachGas(ctx, intents, fees)
	if err != nil {
		return failed(fmt.Errorf("attach gas: %w", err))
	}

	decision = e.evaluator.Recheck(decision, b.TotalGas(), b.MaxFeePerGas, pos.Position.Owner)
	if !decision.Proceed {
		release(b, false)
		return skipped(pos.Position, decision)
	}

	logger.Info("bundle-submitting",
		zap.Uint64("head", head),
		zap.Int("intents", len(b.Intents)),
		zap.Uint64("nonce-base", b.NonceBase),
		zap.Uint64("total-gas", b.TotalGas()),
		zap.String("max-fee-per-gas", b.MaxFeePerGas.String()))

	outcome, err := e.submitter.Submit(ctx, b)
	included := err == nil && outcome != nil && outcome.Included
	release(b, included)

	if e.guard != nil && accepted(outcome) {
		e.guard.RecordSpend(b.TotalGas(), b.MaxFeePerGas)
	}

	if !included {
		if err == nil {
			err = types.ErrBundleNotIncluded
		}
		result = failed(err)
		result.NetProfitUSD = types.FormatUSD(decision.NetProfitUSD)
		return result
	}

	result = types.NewResult(pos.Position, types.StatusLiquidated, "")
	result.NetProfitUSD = types.FormatUSD(decision.NetProfitUSD)
	result.IncludedBlock = outcome.IncludedBlock
	return result
}

func skipped(p types.Position, decision *types.Decision) types.PositionResult {
	result := types.NewResult(p, types.StatusNotProfitable, decision.Reason)
	result.NetProfitUSD = types.FormatUSD(decision.NetProfitUSD)
	return result
}

func release(b *types.Bundle, consumed bool) {
	if b.Lease != nil {
		b.Lease.Release(consumed)
	}
}

func accepted(outcome *types.SubmissionOutcome) bool {
	if outcome == nil {
		return false
	}
	for _, attempt := range outcome.Attempts {
		if attempt.Accepted {
			return true
		}
	}
	return false
}

// withPrices fills token prices the discovery source only knows by address.
func withPrices(pos types.PositionSnapshot, prices types.PriceBook) types.PositionSnapshot {
	if resolved, err := prices.Resolve(pos.CollateralToken); err == nil {
		pos.CollateralToken = resolved
	}
	if resolved, err := prices.Resolve(pos.LoanToken); err == nil {
		pos.LoanToken = resolved
	}
	return pos
}
