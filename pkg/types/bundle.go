package types

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// IntentKind labels what a transaction intent does.
type IntentKind string

const (
	IntentApproveFunding    IntentKind = "approve-funding"
	IntentFundingSwap       IntentKind = "funding-swap"
	IntentApproveDebt       IntentKind = "approve-debt"
	IntentLiquidate         IntentKind = "liquidate"
	IntentApproveCollateral IntentKind = "approve-collateral"
	IntentDisposalSwap      IntentKind = "disposal-swap"
)

// TransactionIntent is one unsigned call of a bundle.
type TransactionIntent struct {
	Index    int
	Kind     IntentKind
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// NonceLease is a contiguous range of nonces reserved for one bundle.
type NonceLease interface {
	Base() uint64
	Count() int
	// Release returns the lease. Unconsumed leases give their range back when possible.
	Release(consumed bool)
}

// Bundle is an ordered set of intents sharing one nonce base and one fee pair.
type Bundle struct {
	Intents              []TransactionIntent
	NonceBase            uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	ChainID              *big.Int
	Lease                NonceLease
}

// TotalGas sums the gas limits of every intent.
func (b *Bundle) TotalGas() uint64 {
	var total uint64
	for i := range b.Intents {
		total += b.Intents[i].GasLimit
	}
	return total
}

// Nonce returns the nonce assigned to the intent at position i.
func (b *Bundle) Nonce(i int) uint64 {
	return b.NonceBase + uint64(i)
}

// Resolution is the final state of one relay submission.
type Resolution string

const (
	ResolutionIncluded    Resolution = "included"
	ResolutionNotIncluded Resolution = "not-included"
	ResolutionError       Resolution = "error"
)

// Submission is a handle on a bundle accepted by the relay for one target block.
type Submission interface {
	// Wait blocks until the target block has passed or ctx is done.
	Wait(ctx context.Context) (Resolution, error)
}

// SubmissionAttempt records one target-block submission of a bundle.
type SubmissionAttempt struct {
	TargetBlock uint64
	Accepted    bool
	Resolution  Resolution
	Err         error
}

// SubmissionOutcome aggregates every attempt made for one bundle.
type SubmissionOutcome struct {
	Included      bool
	IncludedBlock uint64
	Attempts      []SubmissionAttempt
}
