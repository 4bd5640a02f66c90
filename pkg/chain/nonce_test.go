package chain

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type fakeNonceSource struct {
	mu      sync.Mutex
	pending uint64
	calls   int
	err     error
}

func (f *fakeNonceSource) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pending, f.err
}

func newTestNonceManager(t *testing.T, source *fakeNonceSource) *NonceManager {
	t.Helper()

	m, err := NewNonceManager(source, common.HexToAddress("0x01"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create nonce manager: %v", err)
	}
	return m
}

func TestNonceManager_ConcurrentLeasesAreDisjoint(t *testing.T) {
	t.Parallel()

	source := &fakeNonceSource{pending: 40}
	m := newTestNonceManager(t, source)

	first, err := m.Reserve(context.Background(), 1)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[uint64]bool)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, reserveErr := m.Reserve(context.Background(), 3)
			if reserveErr != nil {
				t.Errorf("reserve: %v", reserveErr)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for n := lease.Base(); n < lease.Base()+uint64(lease.Count()); n++ {
				if seen[n] {
					t.Errorf("nonce %d leased twice", n)
				}
				seen[n] = true
			}
		}()
	}
	wg.Wait()

	if seen[first.Base()] {
		t.Errorf("nonce %d of the first lease was reused", first.Base())
	}
	if len(seen) != workers*3 {
		t.Errorf("expected %d nonces, got %d", workers*3, len(seen))
	}
	if source.calls != 1 {
		t.Errorf("expected a single sync while leases are outstanding, got %d", source.calls)
	}
}

func TestNonceManager_ReleaseRollsBackTail(t *testing.T) {
	t.Parallel()

	m := newTestNonceManager(t, &fakeNonceSource{pending: 7})
	ctx := context.Background()

	a, _ := m.Reserve(ctx, 2)
	b, _ := m.Reserve(ctx, 3)

	if a.Base() != 7 || b.Base() != 9 {
		t.Fatalf("unexpected bases %d and %d", a.Base(), b.Base())
	}

	// b is the tail, so its range comes back.
	b.Release(false)
	c, _ := m.Reserve(ctx, 1)
	if c.Base() != 9 {
		t.Errorf("expected rolled back base 9, got %d", c.Base())
	}

	// a is no longer the tail, so releasing it must not rewind.
	a.Release(false)
	d, _ := m.Reserve(ctx, 1)
	if d.Base() != 10 {
		t.Errorf("expected base 10, got %d", d.Base())
	}
}

func TestNonceManager_ResyncsWhenIdle(t *testing.T) {
	t.Parallel()

	source := &fakeNonceSource{pending: 3}
	m := newTestNonceManager(t, source)
	ctx := context.Background()

	lease, _ := m.Reserve(ctx, 2)
	lease.Release(true)
	lease.Release(true)

	if m.Outstanding() != 0 {
		t.Fatalf("expected no outstanding leases, got %d", m.Outstanding())
	}

	source.mu.Lock()
	source.pending = 5
	source.mu.Unlock()

	next, _ := m.Reserve(ctx, 1)
	if next.Base() != 5 {
		t.Errorf("expected resynced base 5, got %d", next.Base())
	}
}

func TestNonceManager_Errors(t *testing.T) {
	t.Parallel()

	m := newTestNonceManager(t, &fakeNonceSource{err: errors.New("node down")})

	if _, err := m.Reserve(context.Background(), 0); err == nil {
		t.Error("expected error for zero count")
	}
	if _, err := m.Reserve(context.Background(), 1); err == nil {
		t.Error("expected error when the node fails")
	}
	if _, err := NewNonceManager(nil, common.Address{}, zap.NewNop()); err == nil {
		t.Error("expected error for nil source")
	}
}
