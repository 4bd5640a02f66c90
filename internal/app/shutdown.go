package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Cancel context to signal all components
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if a.httpServer != nil {
		err := a.httpServer.Shutdown(shutdownCtx)
		if err != nil {
			a.logger.Error("http-server-shutdown-error", zap.Error(err))
		}
	}

	// An in-flight cycle finishes its submission wait before Run returns.
	a.wg.Wait()

	a.closeResources()

	a.logger.Info("application-shutdown-complete")

	return nil
}

// closeResources releases connections in reverse setup order. Safe to call on
// a partially constructed App.
func (a *App) closeResources() {
	if a.locker != nil {
		err := a.locker.Close()
		if err != nil {
			a.logger.Error("cycle-lock-close-error", zap.Error(err))
		}
		a.locker = nil
	}

	if a.storage != nil {
		err := a.storage.Close()
		if err != nil {
			a.logger.Error("storage-close-error", zap.Error(err))
		}
		a.storage = nil
	}

	if a.cache != nil {
		a.cache.Close()
		a.cache = nil
	}

	if a.chainClient != nil {
		a.chainClient.Close()
		a.chainClient = nil
	}
}
