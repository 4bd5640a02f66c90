package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
)

// NonceSource reports the pending nonce of an account.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out disjoint contiguous nonce ranges to concurrent bundles.
//
// With no lease outstanding it re-syncs from the node before reserving, so
// nonces consumed by mined bundles and nonces left unused by dropped ones are
// both picked up.
type NonceManager struct {
	source  NonceSource
	account common.Address
	logger  *zap.Logger

	mu          sync.Mutex
	next        uint64
	synced      bool
	outstanding int
}

// NewNonceManager creates a nonce manager for account.
func NewNonceManager(source NonceSource, account common.Address, logger *zap.Logger) (*NonceManager, error) {
	if source == nil {
		return nil, errors.New("nonce source cannot be nil")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &NonceManager{
		source:  source,
		account: account,
		logger:  logger,
	}, nil
}

// Reserve leases n consecutive nonces.
func (m *NonceManager) Reserve(ctx context.Context, n int) (types.NonceLease, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid nonce count %d", n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synced || m.outstanding == 0 {
		pending, err := m.source.PendingNonceAt(ctx, m.account)
		if err != nil {
			return nil, fmt.Errorf("pending nonce: %w", err)
		}
		if m.synced && pending != m.next {
			m.logger.Debug("nonce-resynced",
				zap.Uint64("local", m.next),
				zap.Uint64("pending", pending))
		}
		m.next = pending
		m.synced = true
	}

	lease := &nonceLease{
		manager: m,
		base:    m.next,
		count:   n,
	}
	m.next += uint64(n)
	m.outstanding++
	NoncesReservedTotal.Add(float64(n))

	return lease, nil
}

// Outstanding returns the number of unreleased leases.
func (m *NonceManager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outstanding
}

func (m *NonceManager) release(l *nonceLease, consumed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outstanding--

	// Only the tail range can be handed back without opening a gap.
	if !consumed && l.base+uint64(l.count) == m.next {
		m.next = l.base
		NonceRollbacksTotal.Inc()
	}
}

type nonceLease struct {
	manager *NonceManager
	base    uint64
	count   int
	once    sync.Once
}

func (l *nonceLease) Base() uint64 { return l.base }

func (l *nonceLease) Count() int { return l.count }

func (l *nonceLease) Release(consumed bool) {
	l.once.Do(func() {
		l.manager.release(l, consumed)
	})
}
