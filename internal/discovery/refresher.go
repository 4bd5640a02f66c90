package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/blue-liquidator/pkg/chain"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Refresher reloads a position and its market from chain state.
type Refresher struct {
	morpho *chain.Morpho
	caller chain.ContractCaller
	logger *zap.Logger
}

// NewRefresher binds a refresher to the Morpho contract at address.
func NewRefresher(caller chain.ContractCaller, morpho common.Address, logger *zap.Logger) (*Refresher, error) {
	if caller == nil {
		return nil, errors.New("contract caller is required")
	}
	if morpho == (common.Address{}) {
		return nil, errors.New("morpho address is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	return &Refresher{
		morpho: chain.NewMorpho(caller, morpho),
		caller: caller,
		logger: logger,
	}, nil
}

// Refresh returns snap with the position, market totals, oracle price and
// borrow rate read from chain. Token metadata and prices are kept.
func (r *Refresher) Refresh(ctx context.Context, snap types.PositionSnapshot) (out types.PositionSnapshot, err error) {
	defer func() {
		if err != nil {
			RefreshErrorsTotal.Inc()
		}
	}()

	id := snap.Market.ID
	owner := snap.Position.Owner
	params := snap.Market.Params

	var (
		position types.Position
		market   types.Market
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		position, err = r.morpho.Position(gctx, id, owner)
		return err
	})
	g.Go(func() error {
		var err error
		market, err = r.morpho.Market(gctx, id)
		return err
	})
	if params.LLTV == nil {
		g.Go(func() error {
			var err error
			params, err = r.morpho.MarketParams(gctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return types.PositionSnapshot{}, fmt.Errorf("refresh %s in %s: %w", owner.Hex(), id.Hex(), err)
	}
	market.Params = params

	price, err := chain.OraclePrice(ctx, r.caller, params.Oracle)
	if err != nil {
		return types.PositionSnapshot{}, fmt.Errorf("read oracle price: %w", err)
	}
	market.OraclePrice = price

	// Markets without an IRM accrue no interest.
	market.BorrowRate = new(big.Int)
	if params.IRM != (common.Address{}) {
		rate, err := chain.BorrowRate(ctx, r.caller, market)
		if err != nil {
			return types.PositionSnapshot{}, fmt.Errorf("read borrow rate: %w", err)
		}
		market.BorrowRate = rate
	}

	r.logger.Debug("position-refreshed",
		zap.String("borrower", owner.Hex()),
		zap.String("market", id.Hex()),
		zap.String("borrow-shares", position.BorrowShares.String()),
		zap.String("collateral", position.Collateral.String()))

	snap.Position = position
	snap.Market = market
	return snap, nil
}
