// Package circuitbreaker blocks bundle submission while the wallet cannot pay for gas.
package circuitbreaker

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/blue-liquidator/pkg/wallet"
	"go.uber.org/zap"
)

const spendWindow = 20

// GasGuard monitors the native balance and opens when it drops below what
// recent bundles have cost. Hysteresis keeps it from flapping.
type GasGuard struct {
	open atomic.Bool

	checkInterval   time.Duration
	wallet          wallet.BalanceFetcher
	address         common.Address
	logger          *zap.Logger
	spendMultiplier float64
	minNative       float64
	hysteresisRatio float64

	mu               sync.RWMutex
	lastBalance      float64
	lastCheck        time.Time
	recentSpends     []float64
	disableThreshold float64
	enableThreshold  float64
}

// Config holds gas guard configuration.
type Config struct {
	CheckInterval   time.Duration
	SpendMultiplier float64
	MinNative       float64 // whole native units
	HysteresisRatio float64
	Wallet          wallet.BalanceFetcher
	Address         common.Address
	Logger          *zap.Logger
}

// Status is a point-in-time view of the guard.
type Status struct {
	Open             bool      `json:"open"`
	LastBalance      float64   `json:"last_balance"`
	LastCheck        time.Time `json:"last_check"`
	DisableThreshold float64   `json:"disable_threshold"`
	EnableThreshold  float64   `json:"enable_threshold"`
	AvgSpend         float64   `json:"avg_spend"`
	RecentSpendCount int       `json:"recent_spend_count"`
}

// New creates a gas guard. It starts closed (submissions allowed).
func New(cfg *Config) (guard *GasGuard, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Wallet == nil {
		return nil, fmt.Errorf("wallet cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("check interval must be positive")
	}
	if cfg.SpendMultiplier <= 0 {
		return nil, fmt.Errorf("spend multiplier must be positive")
	}
	if cfg.MinNative <= 0 {
		return nil, fmt.Errorf("min native must be positive")
	}
	if cfg.HysteresisRatio < 1.0 {
		return nil, fmt.Errorf("hysteresis ratio must be >= 1.0")
	}

	guard = &GasGuard{
		checkInterval:    cfg.CheckInterval,
		wallet:           cfg.Wallet,
		address:          cfg.Address,
		logger:           cfg.Logger,
		spendMultiplier:  cfg.SpendMultiplier,
		minNative:        cfg.MinNative,
		hysteresisRatio:  cfg.HysteresisRatio,
		recentSpends:     make([]float64, 0, spendWindow),
		disableThreshold: cfg.MinNative,
		enableThreshold:  cfg.MinNative * cfg.HysteresisRatio,
	}

	GuardOpen.Set(0)
	DisableThreshold.Set(guard.disableThreshold)
	EnableThreshold.Set(guard.enableThreshold)
	AvgSpend.Set(0)

	return guard, nil
}

// IsOpen reports whether submissions are currently blocked. Lock-free.
func (g *GasGuard) IsOpen() bool {
	return g.open.Load()
}

// RecordSpend adds the worst-case native cost of a submitted bundle to the
// rolling window and recalculates thresholds.
func (g *GasGuard) RecordSpend(gasLimit uint64, maxFeePerGas *big.Int) {
	if gasLimit == 0 || maxFeePerGas == nil || maxFeePerGas.Sign() <= 0 {
		return
	}

	cost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), maxFeePerGas)
	spend := wallet.ToFloat(cost, 18)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.recentSpends = append(g.recentSpends, spend)
	if len(g.recentSpends) > spendWindow {
		g.recentSpends = g.recentSpends[1:]
	}

	avg := average(g.recentSpends)
	g.disableThreshold = math.Max(avg*g.spendMultiplier, g.minNative)
	g.enableThreshold = g.disableThreshold * g.hysteresisRatio

	AvgSpend.Set(avg)
	DisableThreshold.Set(g.disableThreshold)
	EnableThreshold.Set(g.enableThreshold)

	g.logger.Debug("gas-guard-thresholds-updated",
		zap.Float64("avg-spend", avg),
		zap.Int("spend-count", len(g.recentSpends)),
		zap.Float64("disable-threshold", g.disableThreshold),
		zap.Float64("enable-threshold", g.enableThreshold))
}

// CheckBalance reads the native balance and updates the guard state.
func (g *GasGuard) CheckBalance(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		CheckDuration.Observe(time.Since(start).Seconds())
	}()

	balances, err := g.wallet.GetBalances(ctx, g.address)
	if err != nil {
		g.logger.Error("gas-guard-balance-check-failed",
			zap.Error(err),
			zap.String("address", g.address.Hex()))
		return fmt.Errorf("get balances: %w", err)
	}

	balance := wallet.ToFloat(balances.Native, 18)

	g.mu.Lock()
	g.lastBalance = balance
	g.lastCheck = time.Now()
	disableThreshold := g.disableThreshold
	enableThreshold := g.enableThreshold
	g.mu.Unlock()

	NativeBalance.Set(balance)

	currentlyOpen := g.open.Load()
	shouldOpen := !currentlyOpen && balance < disableThreshold
	shouldClose := currentlyOpen && balance >= enableThreshold

	switch {
	case shouldOpen:
		g.open.Store(true)
		GuardOpen.Set(1)
		StateChanges.Inc()

		g.logger.Warn("gas-guard-opened",
			zap.Float64("balance", balance),
			zap.Float64("disable-threshold", disableThreshold),
			zap.Float64("enable-threshold", enableThreshold))
	case shouldClose:
		g.open.Store(false)
		GuardOpen.Set(0)
		StateChanges.Inc()

		g.logger.Info("gas-guard-closed",
			zap.Float64("balance", balance),
			zap.Float64("disable-threshold", disableThreshold),
			zap.Float64("enable-threshold", enableThreshold))
	default:
		g.logger.Debug("gas-guard-balance-checked",
			zap.Float64("balance", balance),
			zap.Bool("open", currentlyOpen))
	}

	return nil
}

// Start checks the balance once and then keeps checking in the background until ctx ends.
func (g *GasGuard) Start(ctx context.Context) {
	g.logger.Info("gas-guard-started",
		zap.Duration("check-interval", g.checkInterval),
		zap.Float64("spend-multiplier", g.spendMultiplier),
		zap.Float64("min-native", g.minNative),
		zap.Float64("hysteresis-ratio", g.hysteresisRatio))

	if err := g.CheckBalance(ctx); err != nil {
		g.logger.Error("initial-balance-check-failed", zap.Error(err))
	}

	go g.monitorLoop(ctx)
}

func (g *GasGuard) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(g.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("gas-guard-stopped")
			return
		case <-ticker.C:
			if err := g.CheckBalance(ctx); err != nil {
				g.logger.Error("balance-check-error", zap.Error(err))
			}
		}
	}
}

// GetStatus returns the current guard status.
func (g *GasGuard) GetStatus() (status Status) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return Status{
		Open:             g.open.Load(),
		LastBalance:      g.lastBalance,
		LastCheck:        g.lastCheck,
		DisableThreshold: g.disableThreshold,
		EnableThreshold:  g.enableThreshold,
		AvgSpend:         average(g.recentSpends),
		RecentSpendCount: len(g.recentSpends),
	}
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
