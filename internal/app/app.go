package app

import (
	"context"
	"sync"

	"github.com/mselser95/blue-liquidator/internal/circuitbreaker"
	"github.com/mselser95/blue-liquidator/internal/liquidator"
	"github.com/mselser95/blue-liquidator/internal/lock"
	"github.com/mselser95/blue-liquidator/internal/storage"
	"github.com/mselser95/blue-liquidator/pkg/cache"
	"github.com/mselser95/blue-liquidator/pkg/chain"
	"github.com/mselser95/blue-liquidator/pkg/config"
	"github.com/mselser95/blue-liquidator/pkg/healthprobe"
	"github.com/mselser95/blue-liquidator/pkg/httpserver"
	"github.com/mselser95/blue-liquidator/pkg/wallet"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	chainClient   *chain.Client
	service       *liquidator.Service
	tracker       *wallet.Tracker
	guard         *circuitbreaker.GasGuard
	storage       storage.Storage
	locker        *lock.RedisLocker
	cache         cache.Cache
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// Options holds application options.
type Options struct {
	// DiscoverySource overrides DISCOVERY_SOURCE when set.
	DiscoverySource string
	// DisableHTTP skips the metrics and health server, used by one-shot runs.
	DisableHTTP bool
}
