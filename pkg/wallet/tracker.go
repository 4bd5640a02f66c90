package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// BalanceFetcher fetches wallet balances. Client and test mocks implement it.
type BalanceFetcher interface {
	GetBalances(ctx context.Context, address common.Address) (*Balances, error)
}

// AllowanceReader reads ERC20 allowances.
type AllowanceReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// Snapshot is the last state the tracker read.
type Snapshot struct {
	Address common.Address `json:"address"`
	Native  *big.Int       `json:"native_wei"`
	Funding *big.Int       `json:"funding"`
	// Allowance is the funding token allowance to the spender, nil when not tracked.
	Allowance *big.Int  `json:"allowance,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker periodically reads the liquidator wallet and publishes it as
// Prometheus gauges and as a Snapshot for the status endpoint.
type Tracker struct {
	client          BalanceFetcher
	allowances      AllowanceReader
	address         common.Address
	fundingToken    common.Address
	fundingDecimals uint8
	spender         common.Address
	pollInterval    time.Duration
	logger          *zap.Logger

	last atomic.Pointer[Snapshot]
}

// Config holds tracker configuration.
type Config struct {
	Client          BalanceFetcher
	Address         common.Address
	FundingDecimals uint8
	PollInterval    time.Duration

	// Allowances, FundingToken and Spender enable allowance tracking; Spender
	// is the Morpho contract that pulls the repaid debt.
	Allowances   AllowanceReader
	FundingToken common.Address
	Spender      common.Address

	Logger *zap.Logger
}

// New creates a new wallet tracker.
func New(cfg *Config) (t *Tracker, err error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("client cannot be nil")
	}

	if cfg.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}

	if cfg.Allowances != nil && (cfg.FundingToken == (common.Address{}) || cfg.Spender == (common.Address{})) {
		return nil, errors.New("allowance tracking needs a funding token and a spender")
	}

	return &Tracker{
		client:          cfg.Client,
		allowances:      cfg.Allowances,
		address:         cfg.Address,
		fundingToken:    cfg.FundingToken,
		fundingDecimals: cfg.FundingDecimals,
		spender:         cfg.Spender,
		pollInterval:    cfg.PollInterval,
		logger:          cfg.Logger,
	}, nil
}

// Last returns the most recent snapshot, nil before the first successful read.
func (t *Tracker) Last() *Snapshot {
	return t.last.Load()
}

// Run polls until ctx ends. Poll failures are logged and counted, never fatal.
func (t *Tracker) Run(ctx context.Context) (err error) {
	t.logger.Info("wallet-tracker-starting",
		zap.Duration("poll-interval", t.pollInterval),
		zap.String("address", t.address.Hex()),
		zap.Bool("track-allowance", t.allowances != nil))

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		pollErr := t.refresh(ctx)
		if pollErr != nil && ctx.Err() == nil {
			t.logger.Error("wallet-poll-failed", zap.Error(pollErr))
			UpdateErrorsTotal.Inc()
		}

		select {
		case <-ctx.Done():
			t.logger.Info("wallet-tracker-stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Tracker) refresh(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		UpdateDuration.Observe(time.Since(start).Seconds())
	}()

	readCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	balances, err := t.client.GetBalances(readCtx, t.address)
	if err != nil {
		return fmt.Errorf("get balances: %w", err)
	}

	snap := &Snapshot{
		Address:   t.address,
		Native:    balances.Native,
		Funding:   balances.Funding,
		UpdatedAt: time.Now(),
	}

	if t.allowances != nil {
		snap.Allowance, err = t.allowances.Allowance(readCtx, t.fundingToken, t.address, t.spender)
		if err != nil {
			return fmt.Errorf("get allowance: %w", err)
		}
		FundingAllowance.Set(ToFloat(snap.Allowance, t.fundingDecimals))
	}

	t.last.Store(snap)

	NativeBalance.Set(ToFloat(balances.Native, 18))
	FundingBalance.Set(ToFloat(balances.Funding, t.fundingDecimals))
	LastUpdateTimestamp.Set(float64(snap.UpdatedAt.Unix()))

	t.logger.Debug("wallet-poll-complete",
		zap.String("native-wei", balances.Native.String()),
		zap.Duration("duration", time.Since(start)))

	return nil
}

// ToFloat converts a base-unit amount into whole units for metrics and logs.
func ToFloat(amount *big.Int, decimals uint8) float64 {
	if amount == nil {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), scale).Float64()
	return value
}
