package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PositionFetcher is the subset of Client the API source needs.
type PositionFetcher interface {
	LiquidatablePositions(
		ctx context.Context,
		chainID int64,
		wNative common.Address,
		marketIDs []types.MarketID,
		limit int,
	) (*PositionsPage, error)
}

// APIConfig configures an APISource.
type APIConfig struct {
	Fetcher       PositionFetcher
	Whitelist     *Whitelist
	ChainID       int64
	WrappedNative common.Address
	// MaxPositions caps positions per fetch, 0 means no cap.
	MaxPositions int
	Clock        func() time.Time
	Logger       *zap.Logger
}

// APISource reads unhealthy positions in whitelisted markets from the Morpho API.
type APISource struct {
	fetcher       PositionFetcher
	whitelist     *Whitelist
	chainID       int64
	wrappedNative common.Address
	maxPositions  int
	clock         func() time.Time
	logger        *zap.Logger
}

// NewAPISource validates cfg and builds an APISource.
func NewAPISource(cfg APIConfig) (*APISource, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.Whitelist == nil {
		return nil, errors.New("whitelist is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.MaxPositions < 0 {
		return nil, fmt.Errorf("max positions must not be negative, got %d", cfg.MaxPositions)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &APISource{
		fetcher:       cfg.Fetcher,
		whitelist:     cfg.Whitelist,
		chainID:       cfg.ChainID,
		wrappedNative: cfg.WrappedNative,
		maxPositions:  cfg.MaxPositions,
		clock:         clock,
		logger:        cfg.Logger,
	}, nil
}

// Fetch implements Source.
func (s *APISource) Fetch(ctx context.Context) (snap *types.Snapshot, err error) {
	start := time.Now()
	defer func() {
		FetchDurationSeconds.WithLabelValues(SourceAPI).Observe(time.Since(start).Seconds())
		if err != nil {
			FetchErrorsTotal.WithLabelValues(SourceAPI).Inc()
		}
	}()

	ids, err := s.whitelist.MarketIDs(ctx)
	if err != nil {
		return nil, err
	}

	page, err := s.fetcher.LiquidatablePositions(ctx, s.chainID, s.wrappedNative, ids, s.maxPositions)
	if err != nil {
		return nil, fmt.Errorf("fetch liquidatable positions: %w", err)
	}

	now := s.clock()
	snap = &types.Snapshot{
		Prices:    types.PriceBook{},
		FetchedAt: now,
	}
	if page.NativePriceUSD != nil {
		snap.NativePriceUSD = wadFromFloat(*page.NativePriceUSD)
	}
	if snap.NativePriceUSD != nil && s.wrappedNative != (common.Address{}) {
		snap.Prices[s.wrappedNative] = new(big.Int).Set(snap.NativePriceUSD)
	}

	for i := range page.Positions {
		ps, reason := normalize(&page.Positions[i], snap.NativePriceUSD, now)
		if reason != "" {
			PositionsDroppedTotal.WithLabelValues(reason).Inc()
			s.logger.Debug("position-dropped",
				zap.String("borrower", page.Positions[i].User.Address),
				zap.String("market", page.Positions[i].Market.UniqueKey),
				zap.String("reason", reason))
			continue
		}

		for _, token := range []types.Token{ps.CollateralToken, ps.LoanToken} {
			if token.HasPrice() {
				snap.Prices[token.Address] = new(big.Int).Set(token.PriceUSD)
			}
		}
		snap.Positions = append(snap.Positions, ps)
	}

	PositionsFetchedTotal.WithLabelValues(SourceAPI).Add(float64(len(snap.Positions)))

	s.logger.Info("snapshot-fetched",
		zap.String("source", SourceAPI),
		zap.Int("markets", len(ids)),
		zap.Int("positions", len(snap.Positions)),
		zap.Int("dropped", len(page.Positions)-len(snap.Positions)),
		zap.Bool("native-price-known", snap.NativePriceUSD != nil))

	return snap, nil
}

// normalize converts one API item, returning a drop reason when it cannot be used.
func normalize(p *apiPosition, nativeUSD *big.Int, now time.Time) (types.PositionSnapshot, string) {
	m := &p.Market
	if m.CollateralAsset == nil {
		return types.PositionSnapshot{}, "no-collateral-asset"
	}
	if m.LoanAsset == nil {
		return types.PositionSnapshot{}, "no-loan-asset"
	}
	if p.State == nil || m.State == nil {
		return types.PositionSnapshot{}, "no-state"
	}
	if !common.IsHexAddress(p.User.Address) {
		return types.PositionSnapshot{}, "bad-borrower"
	}

	id := common.HexToHash(m.UniqueKey)
	market := types.Market{
		ID: id,
		Params: types.MarketParams{
			LoanToken:       common.HexToAddress(m.LoanAsset.Address),
			CollateralToken: common.HexToAddress(m.CollateralAsset.Address),
			Oracle:          common.HexToAddress(m.OracleAddress),
			IRM:             common.HexToAddress(m.IrmAddress),
			LLTV:            orZero(m.Lltv),
		},
		TotalSupplyAssets: orZero(m.State.SupplyAssets),
		TotalSupplyShares: orZero(m.State.SupplyShares),
		TotalBorrowAssets: orZero(m.State.BorrowAssets),
		TotalBorrowShares: orZero(m.State.BorrowShares),
		LastUpdate:        time.Unix(orZero(m.State.Timestamp).Int64(), 0),
		Fee:               orZero(m.State.Fee),
		OraclePrice:       m.CollateralPrice.Int,
	}

	return types.PositionSnapshot{
		Position: types.Position{
			Owner:        common.HexToAddress(p.User.Address),
			MarketID:     id,
			SupplyShares: orZero(p.State.SupplyShares),
			BorrowShares: orZero(p.State.BorrowShares),
			Collateral:   orZero(p.State.Collateral),
			LastUpdate:   now,
		},
		Market:          market,
		CollateralToken: toToken(m.CollateralAsset, nativeUSD),
		LoanToken:       toToken(m.LoanAsset, nativeUSD),
	}, ""
}

// defaultDecimals applies when the API omits an asset's decimals.
const defaultDecimals = 18

// toToken prefers the USD price and falls back to the ETH spot price times the native price.
func toToken(a *apiAsset, nativeUSD *big.Int) types.Token {
	token := types.Token{
		Address:  common.HexToAddress(a.Address),
		Decimals: a.Decimals,
		Symbol:   a.Symbol,
	}
	if token.Decimals == 0 {
		token.Decimals = defaultDecimals
	}

	switch {
	case a.PriceUsd != nil:
		token.PriceUSD = wadFromFloat(*a.PriceUsd)
	case a.SpotPriceEth != nil && nativeUSD != nil && *a.SpotPriceEth >= 0:
		native := decimal.NewFromBigInt(nativeUSD, 0)
		token.PriceUSD = decimal.NewFromFloat(*a.SpotPriceEth).Mul(native).BigInt()
	}

	return token
}

func orZero(v apiInt) *big.Int {
	if v.Int == nil {
		return new(big.Int)
	}
	return v.Int
}
