package app

import (
	"context"
	"fmt"

	"github.com/mselser95/blue-liquidator/pkg/config"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"github.com/mselser95/blue-liquidator/pkg/wallet"
	"go.uber.org/zap"
)

// Discover fetches one snapshot from the configured discovery source without
// building the rest of the liquidation pipeline.
func Discover(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*types.Snapshot, error) {
	chainClient, err := setupChainClient(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("setup chain client: %w", err)
	}
	defer chainClient.Close()

	walletClient, err := wallet.NewClient(chainClient, cfg.FundingToken.Address, logger)
	if err != nil {
		return nil, fmt.Errorf("setup wallet client: %w", err)
	}

	whitelistCache, err := setupCache(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("setup cache: %w", err)
	}
	defer whitelistCache.Close()

	source, err := setupSource(cfg, logger, chainClient, walletClient, whitelistCache)
	if err != nil {
		return nil, fmt.Errorf("setup discovery: %w", err)
	}

	return source.Fetch(ctx)
}
