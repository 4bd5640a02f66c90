package storage

import (
	"context"

	"github.com/mselser95/blue-liquidator/pkg/types"
)

// Storage records the terminal result of every position evaluated in a cycle.
type Storage interface {
	// StoreResult stores one position result for the given cycle.
	StoreResult(ctx context.Context, cycleID string, result *types.PositionResult) error

	// Close closes the storage connection.
	Close() error
}
