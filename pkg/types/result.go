package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PositionStatus is the terminal state of a position for one cycle.
type PositionStatus string

const (
	StatusNotProfitable PositionStatus = "NOT_PROFITABLE"
	StatusLiquidated    PositionStatus = "LIQUIDATED"
	StatusFailed        PositionStatus = "FAILED"
)

// PositionResult is reported once per position per cycle.
type PositionResult struct {
	Borrower common.Address `json:"borrower"`
	MarketID MarketID       `json:"market_id"`
	Status   PositionStatus `json:"status"`
	Reason   string         `json:"reason,omitempty"`

	// NetProfitUSD is a human-readable approximation, empty when no profit was computed.
	NetProfitUSD  string    `json:"net_profit_usd,omitempty"`
	IncludedBlock uint64    `json:"included_block,omitempty"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// NewResult builds a result for the given position.
func NewResult(p Position, status PositionStatus, reason string) PositionResult {
	return PositionResult{
		Borrower:    p.Owner,
		MarketID:    p.MarketID,
		Status:      status,
		Reason:      reason,
		EvaluatedAt: time.Now(),
	}
}
