package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/blue-liquidator/pkg/cache"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
)

// MarketLister fetches the whitelisted market ids of a chain.
type MarketLister interface {
	WhitelistedMarketIDs(ctx context.Context, chainID int64) ([]types.MarketID, error)
}

// Whitelist caches the whitelisted market ids for a TTL. When a refresh
// fails it keeps serving the last list it loaded.
type Whitelist struct {
	lister  MarketLister
	cache   cache.Cache
	chainID int64
	ttl     time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	lastGood []types.MarketID
}

// NewWhitelist wraps lister with a TTL cache.
func NewWhitelist(lister MarketLister, c cache.Cache, chainID int64, ttl time.Duration, logger *zap.Logger) *Whitelist {
	return &Whitelist{
		lister:  lister,
		cache:   c,
		chainID: chainID,
		ttl:     ttl,
		logger:  logger,
	}
}

func (w *Whitelist) key() string {
	return fmt.Sprintf("whitelist:%d", w.chainID)
}

// MarketIDs returns the cached ids, reloading them once the TTL has expired.
func (w *Whitelist) MarketIDs(ctx context.Context) ([]types.MarketID, error) {
	value, cached, err := w.cache.Load(ctx, w.key(), w.ttl, func(ctx context.Context) (interface{}, error) {
		return w.lister.WhitelistedMarketIDs(ctx, w.chainID)
	})
	if err != nil {
		WhitelistErrorsTotal.Inc()
		return w.stale(err)
	}

	ids, ok := value.([]types.MarketID)
	if !ok {
		return nil, fmt.Errorf("whitelist cache holds %T", value)
	}

	if !cached {
		WhitelistRefreshesTotal.Inc()
		w.mu.Lock()
		w.lastGood = ids
		w.mu.Unlock()

		w.logger.Info("whitelist-refreshed",
			zap.Int64("chain-id", w.chainID),
			zap.Int("markets", len(ids)),
			zap.Duration("ttl", w.ttl))
	}

	return ids, nil
}

func (w *Whitelist) stale(err error) ([]types.MarketID, error) {
	w.mu.Lock()
	ids := w.lastGood
	w.mu.Unlock()

	if ids == nil {
		return nil, fmt.Errorf("list whitelisted markets: %w", err)
	}

	w.logger.Warn("whitelist-refresh-failed-using-stale",
		zap.Int64("chain-id", w.chainID),
		zap.Int("markets", len(ids)),
		zap.Error(err))
	return ids, nil
}
