package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentReads bounds parallel position loads.
const maxConcurrentReads = 8

// Watch is one position the on-chain source follows.
type Watch struct {
	MarketID types.MarketID
	Borrower common.Address
}

// ParseWatch parses "<market-id>:<borrower>".
func ParseWatch(raw string) (Watch, error) {
	id, borrower, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Watch{}, fmt.Errorf("watch %q: expected <market-id>:<borrower>", raw)
	}

	id = strings.TrimPrefix(id, "0x")
	if len(id) != 64 {
		return Watch{}, fmt.Errorf("watch %q: market id must be 32 bytes", raw)
	}
	if !common.IsHexAddress(borrower) {
		return Watch{}, fmt.Errorf("watch %q: invalid borrower address", raw)
	}

	return Watch{
		MarketID: common.HexToHash(id),
		Borrower: common.HexToAddress(borrower),
	}, nil
}

// ParseWatches parses every entry, failing on the first malformed one.
func ParseWatches(raw []string) ([]Watch, error) {
	out := make([]Watch, 0, len(raw))
	for _, r := range raw {
		w, err := ParseWatch(r)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// TokenReader reads ERC20 metadata.
type TokenReader interface {
	TokenMetadata(ctx context.Context, token common.Address) (decimals uint8, symbol string, err error)
}

// OnChainConfig configures an OnChainSource.
type OnChainConfig struct {
	Watches   []Watch
	Refresher *Refresher
	Tokens    TokenReader
	// Prices are static USD prices scaled by 1e18.
	Prices        map[common.Address]*big.Int
	WrappedNative common.Address
	Clock         func() time.Time
	Logger        *zap.Logger
}

// OnChainSource reads a fixed watch list straight from the Morpho contract.
type OnChainSource struct {
	watches       []Watch
	refresher     *Refresher
	tokens        TokenReader
	prices        types.PriceBook
	wrappedNative common.Address
	clock         func() time.Time
	logger        *zap.Logger

	mu       sync.Mutex
	metadata map[common.Address]types.Token
}

// NewOnChainSource validates cfg and builds an OnChainSource.
func NewOnChainSource(cfg OnChainConfig) (*OnChainSource, error) {
	if len(cfg.Watches) == 0 {
		return nil, errors.New("at least one watched position is required")
	}
	if cfg.Refresher == nil {
		return nil, errors.New("refresher is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token reader is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	prices := types.PriceBook{}
	prices.Merge(cfg.Prices)

	return &OnChainSource{
		watches:       cfg.Watches,
		refresher:     cfg.Refresher,
		tokens:        cfg.Tokens,
		prices:        prices,
		wrappedNative: cfg.WrappedNative,
		clock:         clock,
		logger:        cfg.Logger,
		metadata:      make(map[common.Address]types.Token),
	}, nil
}

// Fetch implements Source. Positions that cannot be read are logged and left out.
func (s *OnChainSource) Fetch(ctx context.Context) (snap *types.Snapshot, err error) {
	start := time.Now()
	defer func() {
		FetchDurationSeconds.WithLabelValues(SourceOnChain).Observe(time.Since(start).Seconds())
		if err != nil {
			FetchErrorsTotal.WithLabelValues(SourceOnChain).Inc()
		}
	}()

	loaded := make([]*types.PositionSnapshot, len(s.watches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for i, w := range s.watches {
		g.Go(func() error {
			ps, err := s.load(gctx, w)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				PositionsDroppedTotal.WithLabelValues("read-failed").Inc()
				s.logger.Warn("watched-position-unreadable",
					zap.String("market", w.MarketID.Hex()),
					zap.String("borrower", w.Borrower.Hex()),
					zap.Error(err))
				return nil
			}
			loaded[i] = &ps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap = &types.Snapshot{
		Prices:    types.PriceBook{},
		FetchedAt: s.clock(),
	}
	snap.Prices.Merge(s.prices)
	if price, ok := s.prices[s.wrappedNative]; ok {
		snap.NativePriceUSD = new(big.Int).Set(price)
	}

	for _, ps := range loaded {
		if ps != nil {
			snap.Positions = append(snap.Positions, *ps)
		}
	}

	PositionsFetchedTotal.WithLabelValues(SourceOnChain).Add(float64(len(snap.Positions)))

	s.logger.Info("snapshot-fetched",
		zap.String("source", SourceOnChain),
		zap.Int("watched", len(s.watches)),
		zap.Int("positions", len(snap.Positions)),
		zap.Bool("native-price-known", snap.NativePriceUSD != nil))

	return snap, nil
}

func (s *OnChainSource) load(ctx context.Context, w Watch) (types.PositionSnapshot, error) {
	snap, err := s.refresher.Refresh(ctx, types.PositionSnapshot{
		Position: types.Position{Owner: w.Borrower, MarketID: w.MarketID},
		Market:   types.Market{ID: w.MarketID},
	})
	if err != nil {
		return types.PositionSnapshot{}, err
	}

	snap.CollateralToken, err = s.token(ctx, snap.Market.Params.CollateralToken)
	if err != nil {
		return types.PositionSnapshot{}, err
	}
	snap.LoanToken, err = s.token(ctx, snap.Market.Params.LoanToken)
	if err != nil {
		return types.PositionSnapshot{}, err
	}

	return snap, nil
}

// token returns metadata for addr, reading it once per source lifetime.
func (s *OnChainSource) token(ctx context.Context, addr common.Address) (types.Token, error) {
	s.mu.Lock()
	cached, ok := s.metadata[addr]
	s.mu.Unlock()

	if !ok {
		decimals, symbol, err := s.tokens.TokenMetadata(ctx, addr)
		if err != nil {
			return types.Token{}, fmt.Errorf("read metadata of %s: %w", addr.Hex(), err)
		}
		cached = types.Token{Address: addr, Decimals: decimals, Symbol: symbol}

		s.mu.Lock()
		s.metadata[addr] = cached
		s.mu.Unlock()
	}

	if price, ok := s.prices[addr]; ok {
		cached.PriceUSD = new(big.Int).Set(price)
	}
	return cached, nil
}
