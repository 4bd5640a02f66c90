package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mselser95/blue-liquidator/internal/liquidator"
	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.Int64("chain-id", a.cfg.ChainID),
		zap.Duration("poll-interval", a.cfg.PollInterval),
		zap.String("log-level", a.cfg.LogLevel))

	a.startComponents()

	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready", zap.String("http-addr", ":"+a.cfg.HTTPPort))

	return a.waitForShutdown()
}

// RunOnce executes a single liquidation cycle and releases every resource.
func (a *App) RunOnce(ctx context.Context) (*liquidator.CycleReport, error) {
	defer a.closeResources()
	defer a.cancel()

	if a.guard != nil {
		err := a.guard.CheckBalance(ctx)
		if err != nil {
			a.logger.Warn("gas-guard-check-failed", zap.Error(err))
		}
	}

	report, err := a.service.RunOnce(ctx)
	if err != nil {
		return nil, fmt.Errorf("run cycle: %w", err)
	}
	return report, nil
}

func (a *App) startComponents() {
	if a.httpServer != nil {
		a.wg.Add(1)
		go a.runHTTPServer()

		// Give HTTP server a moment to start
		time.Sleep(100 * time.Millisecond)
	}

	if a.guard != nil {
		a.guard.Start(a.ctx)
	}

	a.wg.Add(1)
	go a.runWalletTracker()

	a.wg.Add(1)
	go a.runService()
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) runWalletTracker() {
	defer a.wg.Done()
	err := a.tracker.Run(a.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("wallet-tracker-error", zap.Error(err))
	}
}

func (a *App) runService() {
	defer a.wg.Done()
	err := a.service.Run(a.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("liquidation-service-error", zap.Error(err))
		a.cancel()
	}
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
