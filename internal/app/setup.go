package app

import (
	"context"
	"fmt"
	"math/big"

	"github.com/mselser95/blue-liquidator/internal/accrual"
	"github.com/mselser95/blue-liquidator/internal/bundle"
	"github.com/mselser95/blue-liquidator/internal/circuitbreaker"
	"github.com/mselser95/blue-liquidator/internal/discovery"
	"github.com/mselser95/blue-liquidator/internal/liquidator"
	"github.com/mselser95/blue-liquidator/internal/lock"
	"github.com/mselser95/blue-liquidator/internal/profit"
	"github.com/mselser95/blue-liquidator/internal/relay"
	"github.com/mselser95/blue-liquidator/internal/storage"
	"github.com/mselser95/blue-liquidator/pkg/cache"
	"github.com/mselser95/blue-liquidator/pkg/chain"
	"github.com/mselser95/blue-liquidator/pkg/config"
	"github.com/mselser95/blue-liquidator/pkg/flashbots"
	"github.com/mselser95/blue-liquidator/pkg/healthprobe"
	"github.com/mselser95/blue-liquidator/pkg/httpserver"
	"github.com/mselser95/blue-liquidator/pkg/paraswap"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"github.com/mselser95/blue-liquidator/pkg/wallet"
	"go.uber.org/zap"
)

// swapClient quotes and builds aggregator swaps.
type swapClient interface {
	profit.Quoter
	bundle.SwapBuilder
}

// New creates a new application instance. Every component is built here so a
// misconfiguration fails before the first cycle.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (app *App, err error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.DiscoverySource != "" {
		cfg.DiscoverySource = opts.DiscoverySource
		err = cfg.Validate()
		if err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}
	defer func() {
		if err != nil {
			a.closeResources()
			cancel()
		}
	}()

	a.chainClient, err = setupChainClient(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("setup chain client: %w", err)
	}

	signer, err := chain.NewKeySigner(cfg.WalletPrivateKey, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("setup signer: %w", err)
	}

	walletClient, err := wallet.NewClient(a.chainClient, cfg.FundingToken.Address, logger)
	if err != nil {
		return nil, fmt.Errorf("setup wallet client: %w", err)
	}

	a.tracker, err = wallet.New(&wallet.Config{
		Client:          walletClient,
		Address:         signer.Address(),
		FundingDecimals: cfg.FundingToken.Decimals,
		PollInterval:    cfg.WalletPollInterval,
		Allowances:      walletClient,
		FundingToken:    cfg.FundingToken.Address,
		Spender:         cfg.Profile.MorphoAddress,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("setup wallet tracker: %w", err)
	}

	a.guard, err = setupGasGuard(cfg, logger, walletClient, signer)
	if err != nil {
		return nil, fmt.Errorf("setup gas guard: %w", err)
	}

	engine, err := setupEngine(ctx, cfg, logger, a.chainClient, signer, walletClient, a.guard)
	if err != nil {
		return nil, fmt.Errorf("setup engine: %w", err)
	}

	a.cache, err = setupCache(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	source, err := setupSource(cfg, logger, a.chainClient, walletClient, a.cache)
	if err != nil {
		return nil, fmt.Errorf("setup discovery: %w", err)
	}

	a.storage, err = setupStorage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	a.locker, err = setupLocker(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("setup cycle lock: %w", err)
	}

	a.healthChecker = setupHealthChecker(cfg)

	serviceCfg := &liquidator.ServiceConfig{
		Engine:             engine,
		Source:             source,
		Storage:            a.storage,
		LockTTL:            cfg.CycleLockTTL,
		Interval:           cfg.PollInterval,
		RequireNativePrice: cfg.Profile.SupportsProfitabilityCheck,
		OnCycle: func(report *liquidator.CycleReport) {
			a.healthChecker.MarkCycle(report.FinishedAt)
		},
		Logger: logger,
	}
	if a.locker != nil {
		serviceCfg.Locker = a.locker
	}

	a.service, err = liquidator.NewService(serviceCfg)
	if err != nil {
		return nil, fmt.Errorf("setup service: %w", err)
	}

	if !opts.DisableHTTP {
		a.httpServer = setupHTTPServer(cfg, logger, a.healthChecker, a.service, a.tracker, a.guard)
	}

	logger.Info("application-configured",
		zap.String("chain", cfg.Profile.Name),
		zap.String("wallet", signer.Address().Hex()),
		zap.String("discovery-source", cfg.DiscoverySource),
		zap.Bool("swaps", cfg.Profile.SupportsSwapAggregator),
		zap.Bool("profit-check", cfg.Profile.SupportsProfitabilityCheck),
		zap.Bool("gas-guard", a.guard != nil),
		zap.Bool("cycle-lock", a.locker != nil),
		zap.String("storage", cfg.StorageMode))

	return a, nil
}

func setupChainClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*chain.Client, error) {
	client, err := chain.Dial(ctx, cfg.RPCURL, logger)
	if err != nil {
		return nil, err
	}

	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}

	if id.Int64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("RPC serves chain %s, configured for %d", id, cfg.ChainID)
	}

	return client, nil
}

func setupGasGuard(
	cfg *config.Config,
	logger *zap.Logger,
	walletClient *wallet.Client,
	signer *chain.KeySigner,
) (*circuitbreaker.GasGuard, error) {
	if !cfg.GasGuardEnabled {
		logger.Info("gas-guard-disabled")
		return nil, nil
	}

	return circuitbreaker.New(&circuitbreaker.Config{
		CheckInterval:   cfg.GasGuardCheckInterval,
		SpendMultiplier: cfg.GasGuardSpendMultiplier,
		MinNative:       cfg.GasGuardMinNative,
		HysteresisRatio: cfg.GasGuardHysteresisRatio,
		Wallet:          walletClient,
		Address:         signer.Address(),
		Logger:          logger,
	})
}

func setupSwapClient(cfg *config.Config, logger *zap.Logger) (swapClient, error) {
	if !cfg.Profile.SupportsSwapAggregator {
		logger.Info("swap-aggregator-unsupported", zap.String("chain", cfg.Profile.Name))
		return nil, nil
	}

	client, err := paraswap.NewClient(cfg.ParaSwapAPIURL, cfg.ChainID, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func setupEngine(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	chainClient *chain.Client,
	signer *chain.KeySigner,
	walletClient *wallet.Client,
	guard *circuitbreaker.GasGuard,
) (*liquidator.Engine, error) {
	swaps, err := setupSwapClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("setup swap client: %w", err)
	}

	fundingToken := tokenFromConfig(cfg.FundingToken)

	evaluatorCfg := &profit.Config{
		Wallet:             signer.Address(),
		FundingToken:       fundingToken,
		PayoutToken:        tokenFromConfig(cfg.PayoutToken),
		MinProfitUSD:       cfg.MinProfitUSD,
		MaxImpactPct:       cfg.MaxPriceImpactPct,
		SwapEnabled:        swaps != nil,
		ProfitCheckEnabled: cfg.Profile.SupportsProfitabilityCheck,
		Logger:             logger,
	}
	if swaps != nil {
		evaluatorCfg.Quoter = swaps
	}
	evaluator, err := profit.New(evaluatorCfg)
	if err != nil {
		return nil, fmt.Errorf("setup evaluator: %w", err)
	}

	nonces, err := chain.NewNonceManager(chainClient, signer.Address(), logger)
	if err != nil {
		return nil, fmt.Errorf("setup nonce manager: %w", err)
	}

	assemblerCfg := &bundle.Config{
		Allowances:   walletClient,
		Estimator:    chainClient,
		Nonces:       nonces,
		Wallet:       signer.Address(),
		Morpho:       cfg.Profile.MorphoAddress,
		FundingToken: fundingToken,
		SlippageBps:  cfg.MaxSlippageBps,
		ChainID:      big.NewInt(cfg.ChainID),
		Logger:       logger,
	}
	if swaps != nil {
		assemblerCfg.Swaps = swaps
	}
	assembler, err := bundle.New(assemblerCfg)
	if err != nil {
		return nil, fmt.Errorf("setup assembler: %w", err)
	}

	authKey, err := chain.ParsePrivateKey(cfg.RelayAuthKey)
	if err != nil {
		return nil, fmt.Errorf("parse relay auth key: %w", err)
	}

	relayClient, err := flashbots.New(&flashbots.Config{
		RelayURL: cfg.RelayURL,
		AuthKey:  authKey,
		Chain:    chainClient,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("setup relay client: %w", err)
	}

	submitter, err := relay.New(&relay.Config{
		Relay:       relayClient,
		Signer:      signer,
		Headers:     chainClient,
		Offsets:     cfg.TargetBlockOffsets,
		WaitTimeout: cfg.SubmissionWaitTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("setup submitter: %w", err)
	}

	engineCfg := &liquidator.EngineConfig{
		Accruer:           accrual.New(accrual.Config{RequirePrices: cfg.Profile.RequirePrices}),
		Evaluator:         evaluator,
		Assembler:         assembler,
		Submitter:         submitter,
		Balances:          walletClient,
		Headers:           chainClient,
		Wallet:            signer.Address(),
		GasLimitBudget:    cfg.GasLimitBudget,
		PriorityFee:       cfg.PriorityFeeWei,
		FeeHeadroomBlocks: cfg.FeeHeadroomBlocks,
		Logger:            logger,
	}
	if guard != nil {
		engineCfg.Guard = guard
	}

	// The on-chain source already reads fresh state.
	if cfg.RefreshOnChain && cfg.DiscoverySource == discovery.SourceAPI {
		refresher, err := discovery.NewRefresher(chainClient, cfg.Profile.MorphoAddress, logger)
		if err != nil {
			return nil, fmt.Errorf("setup refresher: %w", err)
		}
		engineCfg.Refresher = refresher
	}

	return liquidator.NewEngine(engineCfg)
}

func setupCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		Namespace:   fmt.Sprintf("chain:%d", cfg.ChainID),
		Logger:      logger,
	})
}

func setupSource(
	cfg *config.Config,
	logger *zap.Logger,
	caller chain.ContractCaller,
	tokens discovery.TokenReader,
	whitelistCache cache.Cache,
) (discovery.Source, error) {
	switch cfg.DiscoverySource {
	case discovery.SourceAPI:
		client := discovery.NewClient(cfg.MorphoAPIURL, logger)
		return discovery.NewAPISource(discovery.APIConfig{
			Fetcher:       client,
			Whitelist:     discovery.NewWhitelist(client, whitelistCache, cfg.ChainID, cfg.WhitelistTTL, logger),
			ChainID:       cfg.ChainID,
			WrappedNative: cfg.Profile.WrappedNative,
			MaxPositions:  cfg.MaxPositionsPoll,
			Logger:        logger,
		})

	case discovery.SourceOnChain:
		watches, err := discovery.ParseWatches(cfg.WatchPositions)
		if err != nil {
			return nil, fmt.Errorf("parse WATCH_POSITIONS: %w", err)
		}

		refresher, err := discovery.NewRefresher(caller, cfg.Profile.MorphoAddress, logger)
		if err != nil {
			return nil, err
		}

		return discovery.NewOnChainSource(discovery.OnChainConfig{
			Watches:       watches,
			Refresher:     refresher,
			Tokens:        tokens,
			Prices:        cfg.StaticPricesUSD,
			WrappedNative: cfg.Profile.WrappedNative,
			Logger:        logger,
		})
	}

	return nil, fmt.Errorf("unknown discovery source %q", cfg.DiscoverySource)
}

func setupStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.StorageMode == "postgres" {
		pgStorage, err := storage.NewPostgresStorage(ctx, &storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}
		return pgStorage, nil
	}

	return storage.NewConsoleStorage(logger), nil
}

func setupLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*lock.RedisLocker, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}

	return lock.NewRedisLocker(ctx, &lock.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Prefix:   fmt.Sprintf("blue-liquidator:%d", cfg.ChainID),
		Logger:   logger,
	})
}

// setupHealthChecker reports the loop as stalled once a full poll interval
// plus the longest possible submission wait has passed without a cycle.
func setupHealthChecker(cfg *config.Config) *healthprobe.HealthChecker {
	return healthprobe.New(2*cfg.PollInterval + cfg.SubmissionWaitTimeout)
}

func setupHTTPServer(
	cfg *config.Config,
	logger *zap.Logger,
	healthChecker *healthprobe.HealthChecker,
	service *liquidator.Service,
	tracker *wallet.Tracker,
	guard *circuitbreaker.GasGuard,
) *httpserver.Server {
	serverCfg := &httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Reports:       service,
		Wallet:        tracker,
	}
	if guard != nil {
		serverCfg.Guard = guard
	}
	return httpserver.New(serverCfg)
}

func tokenFromConfig(t config.TokenConfig) types.Token {
	return types.Token{
		Address:  t.Address,
		Decimals: t.Decimals,
		Symbol:   t.Symbol,
	}
}
