package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
)

// ConsoleStorage implements Storage by pretty-printing to stdout.
type ConsoleStorage struct {
	out    io.Writer
	logger *zap.Logger
}

// NewConsoleStorage creates a new console storage.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	logger.Info("console-storage-initialized")
	return &ConsoleStorage{
		out:    os.Stdout,
		logger: logger,
	}
}

// StoreResult prints a one-block summary of a position result.
func (c *ConsoleStorage) StoreResult(_ context.Context, cycleID string, result *types.PositionResult) error {
	marker := "·"
	switch result.Status {
	case types.StatusLiquidated:
		marker = "✅"
	case types.StatusFailed:
		marker = "❌"
	case types.StatusNotProfitable:
	}

	fmt.Fprintf(c.out, "%s %-14s borrower=%s market=%s cycle=%s\n",
		marker, result.Status, result.Borrower.Hex(), result.MarketID.Hex(), shortID(cycleID))

	if result.Reason != "" {
		fmt.Fprintf(c.out, "   reason:     %s\n", result.Reason)
	}
	if result.NetProfitUSD != "" {
		fmt.Fprintf(c.out, "   net profit: $%s\n", result.NetProfitUSD)
	}
	if result.IncludedBlock != 0 {
		fmt.Fprintf(c.out, "   block:      %d\n", result.IncludedBlock)
	}

	return nil
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	c.logger.Info("closing-console-storage")
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
