// Package bundle turns a profitable decision into an ordered, gas-priced
// set of transactions that must land atomically.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/blue-liquidator/pkg/chain"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"github.com/mselser95/blue-liquidator/pkg/wallet"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Fallback gas limits for intents whose estimation depends on state an
// earlier intent of the same bundle creates.
const (
	FallbackApproveGas   uint64 = 80_000
	FallbackSwapGas      uint64 = 600_000
	FallbackLiquidateGas uint64 = 500_000

	gasMarginPct = 20
)

// AllowanceReader reads ERC20 allowances.
type AllowanceReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// SwapBuilder produces swap calldata for a quote.
type SwapBuilder interface {
	BuildTx(ctx context.Context, quote *types.SwapQuote, user common.Address, slippageBps int) (*types.SwapTx, error)
}

// GasEstimator estimates the gas of a call.
type GasEstimator interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// NonceReserver leases contiguous nonce ranges.
type NonceReserver interface {
	Reserve(ctx context.Context, n int) (types.NonceLease, error)
}

// Config holds assembler configuration.
type Config struct {
	Allowances   AllowanceReader
	Swaps        SwapBuilder
	Estimator    GasEstimator
	Nonces       NonceReserver
	Wallet       common.Address
	Morpho       common.Address
	FundingToken types.Token
	SlippageBps  int
	ChainID      *big.Int
	Logger       *zap.Logger
}

// Input is what the assembler needs for one position.
type Input struct {
	Accrued  *types.AccruedResult
	Snapshot types.PositionSnapshot
	Decision *types.Decision
}

// Assembler builds liquidation bundles.
type Assembler struct {
	allowances   AllowanceReader
	swaps        SwapBuilder
	estimator    GasEstimator
	nonces       NonceReserver
	wallet       common.Address
	morpho       common.Address
	fundingToken types.Token
	slippageBps  int
	chainID      *big.Int
	logger       *zap.Logger
}

// New creates an assembler.
func New(cfg *Config) (*Assembler, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.Allowances == nil {
		return nil, errors.New("allowance reader cannot be nil")
	}

	if cfg.Estimator == nil {
		return nil, errors.New("gas estimator cannot be nil")
	}

	if cfg.Nonces == nil {
		return nil, errors.New("nonce reserver cannot be nil")
	}

	if cfg.ChainID == nil {
		return nil, errors.New("chain id cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Assembler{
		allowances:   cfg.Allowances,
		swaps:        cfg.Swaps,
		estimator:    cfg.Estimator,
		nonces:       cfg.Nonces,
		wallet:       cfg.Wallet,
		morpho:       cfg.Morpho,
		fundingToken: cfg.FundingToken,
		slippageBps:  cfg.SlippageBps,
		chainID:      new(big.Int).Set(cfg.ChainID),
		logger:       cfg.Logger,
	}, nil
}

// prepared holds everything read concurrently before intents are ordered.
type prepared struct {
	fundingAllowance    *big.Int
	debtAllowance       *big.Int
	collateralAllowance *big.Int
	fundingTx           *types.SwapTx
	disposalTx          *types.SwapTx
}

// Assemble returns the ordered intents for a liquidation. Any read or build
// failure aborts the whole assembly.
func (a *Assembler) Assemble(ctx context.Context, in Input) ([]types.TransactionIntent, error) {
	if in.Accrued == nil || in.Decision == nil {
		return nil, errors.New("accrued result and decision are required")
	}

	decision := in.Decision
	if decision.NeedsFunding() && decision.FundingQuote == nil {
		return nil, fmt.Errorf("wallet is short %s of the debt token and no funding route is available",
			decision.FundingShortfall)
	}

	if (decision.FundingQuote != nil || decision.DisposalQuote != nil) && a.swaps == nil {
		return nil, errors.New("swap builder cannot be nil when quotes are present")
	}

	debtToken := in.Snapshot.Market.Params.LoanToken
	collateralToken := in.Snapshot.Market.Params.CollateralToken

	var p prepared
	g, gctx := errgroup.WithContext(ctx)

	if decision.FundingQuote != nil {
		quote := decision.FundingQuote
		g.Go(func() (err error) {
			p.fundingAllowance, err = a.allowances.Allowance(gctx, quote.SrcToken.Address, a.wallet, quote.Spender)
			if err != nil {
				return fmt.Errorf("read funding allowance: %w", err)
			}
			return nil
		})
		g.Go(func() (err error) {
			p.fundingTx, err = a.swaps.BuildTx(gctx, quote, a.wallet, a.slippageBps)
			if err != nil {
				return fmt.Errorf("build funding swap: %w", err)
			}
			return nil
		})
	}

	g.Go(func() (err error) {
		p.debtAllowance, err = a.allowances.Allowance(gctx, debtToken, a.wallet, a.morpho)
		if err != nil {
			return fmt.Errorf("read debt allowance: %w", err)
		}
		return nil
	})

	if decision.DisposalQuote != nil {
		quote := decision.DisposalQuote
		g.Go(func() (err error) {
			p.collateralAllowance, err = a.allowances.Allowance(gctx, collateralToken, a.wallet, quote.Spender)
			if err != nil {
				return fmt.Errorf("read collateral allowance: %w", err)
			}
			return nil
		})
		g.Go(func() (err error) {
			p.disposalTx, err = a.swaps.BuildTx(gctx, quote, a.wallet, a.slippageBps)
			if err != nil {
				return fmt.Errorf("build disposal swap: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		AssemblyFailuresTotal.Inc()
		return nil, err
	}

	intents, err := a.order(in, p)
	if err != nil {
		AssemblyFailuresTotal.Inc()
		return nil, err
	}

	BundlesAssembledTotal.Inc()
	IntentsPerBundle.Observe(float64(len(intents)))

	return intents, nil
}

// order lays out intents: funding approval, funding swap, debt approval,
// liquidate, collateral approval, disposal swap.
func (a *Assembler) order(in Input, p prepared) ([]types.TransactionIntent, error) {
	decision := in.Decision
	params := in.Snapshot.Market.Params
	intents := make([]types.TransactionIntent, 0, 6)

	add := func(kind types.IntentKind, to common.Address, data []byte, value *big.Int) {
		if value == nil {
			value = new(big.Int)
		}
		intents = append(intents, types.TransactionIntent{
			Index: len(intents),
			Kind:  kind,
			To:    to,
			Data:  data,
			Value: value,
		})
	}

	if decision.FundingQuote != nil {
		quote := decision.FundingQuote
		if p.fundingAllowance.Cmp(a.maxSpend(quote)) < 0 {
			data, err := wallet.PackApprove(quote.Spender, wallet.MaxUint256)
			if err != nil {
				return nil, err
			}
			add(types.IntentApproveFunding, quote.SrcToken.Address, data, nil)
		}
		add(types.IntentFundingSwap, p.fundingTx.To, p.fundingTx.Data, p.fundingTx.Value)
	}

	if p.debtAllowance.Cmp(decision.RepaidDebtAssets) < 0 {
		data, err := wallet.PackApprove(a.morpho, wallet.MaxUint256)
		if err != nil {
			return nil, err
		}
		add(types.IntentApproveDebt, params.LoanToken, data, nil)
	}

	liquidate, err := chain.PackLiquidate(params, in.Accrued.Borrower, new(big.Int), in.Accrued.RepayableDebtShares, nil)
	if err != nil {
		return nil, err
	}
	add(types.IntentLiquidate, a.morpho, liquidate, nil)

	if decision.DisposalQuote != nil {
		quote := decision.DisposalQuote
		if p.collateralAllowance.Cmp(in.Accrued.SeizableCollateral) < 0 {
			data, err := wallet.PackApprove(quote.Spender, wallet.MaxUint256)
			if err != nil {
				return nil, err
			}
			add(types.IntentApproveCollateral, params.CollateralToken, data, nil)
		}
		add(types.IntentDisposalSwap, p.disposalTx.To, p.disposalTx.Data, p.disposalTx.Value)
	}

	return intents, nil
}

// maxSpend is the most the funding swap may pull once slippage is applied.
func (a *Assembler) maxSpend(quote *types.SwapQuote) *big.Int {
	out := new(big.Int).Mul(quote.SrcAmount, big.NewInt(int64(10_000+a.slippageBps)))
	return out.Quo(out, big.NewInt(10_000))
}

// AttachGas sets per-intent gas limits, the shared fee pair, and reserves
// exactly len(intents) nonces. The caller owns the returned lease.
func (a *Assembler) AttachGas(ctx context.Context, intents []types.TransactionIntent, fees types.GasParams) (*types.Bundle, error) {
	if len(intents) == 0 {
		return nil, errors.New("no intents to price")
	}

	if fees.MaxFeePerGas == nil || fees.MaxPriorityFeePerGas == nil {
		return nil, errors.New("fee pair is required")
	}

	priced := make([]types.TransactionIntent, len(intents))
	copy(priced, intents)

	for i := range priced {
		gas, err := a.estimate(ctx, priced[i])
		if err != nil {
			return nil, err
		}
		priced[i].GasLimit = gas
	}

	lease, err := a.nonces.Reserve(ctx, len(priced))
	if err != nil {
		return nil, fmt.Errorf("reserve nonces: %w", err)
	}

	return &types.Bundle{
		Intents:              priced,
		NonceBase:            lease.Base(),
		MaxFeePerGas:         new(big.Int).Set(fees.MaxFeePerGas),
		MaxPriorityFeePerGas: new(big.Int).Set(fees.MaxPriorityFeePerGas),
		ChainID:              new(big.Int).Set(a.chainID),
		Lease:                lease,
	}, nil
}

// estimate falls back to a fixed limit when the node cannot estimate, but
// aborts when ctx is done.
func (a *Assembler) estimate(ctx context.Context, intent types.TransactionIntent) (uint64, error) {
	to := intent.To
	gas, err := a.estimator.EstimateGas(ctx, ethereum.CallMsg{
		From:  a.wallet,
		To:    &to,
		Data:  intent.Data,
		Value: intent.Value,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, fmt.Errorf("estimate %s gas: %w", intent.Kind, ctxErr)
	}
	if err != nil || gas == 0 {
		GasFallbacksTotal.WithLabelValues(string(intent.Kind)).Inc()
		a.logger.Debug("gas-estimate-fallback",
			zap.String("kind", string(intent.Kind)),
			zap.Int("index", intent.Index),
			zap.Error(err))
		return fallbackGas(intent.Kind), nil
	}

	return gas + gas*gasMarginPct/100, nil
}

func fallbackGas(kind types.IntentKind) uint64 {
	switch kind {
	case types.IntentApproveFunding, types.IntentApproveDebt, types.IntentApproveCollateral:
		return FallbackApproveGas
	case types.IntentFundingSwap, types.IntentDisposalSwap:
		return FallbackSwapGas
	default:
		return FallbackLiquidateGas
	}
}
