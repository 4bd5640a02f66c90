package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type countingFetcher struct {
	calls atomic.Int32
	err   error
}

func (f *countingFetcher) GetBalances(_ context.Context, _ common.Address) (*Balances, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &Balances{Native: big.NewInt(2e18), Funding: big.NewInt(1500e6)}, nil
}

func TestNew(t *testing.T) {
	t.Parallel()

	logger := zap.NewNop()
	fetcher := &countingFetcher{}

	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "valid_config",
			cfg:     &Config{Client: fetcher, PollInterval: time.Minute, Logger: logger},
			wantErr: false,
		},
		{name: "nil_config", cfg: nil, wantErr: true},
		{
			name:    "nil_logger",
			cfg:     &Config{Client: fetcher, PollInterval: time.Minute},
			wantErr: true,
		},
		{
			name:    "nil_client",
			cfg:     &Config{PollInterval: time.Minute, Logger: logger},
			wantErr: true,
		},
		{
			name:    "allowance_without_spender",
			cfg:     &Config{Client: fetcher, PollInterval: time.Minute, Allowances: fixedAllowance{}, Logger: logger},
			wantErr: true,
		},
		{
			name:    "zero_poll_interval",
			cfg:     &Config{Client: fetcher, Logger: logger},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTracker_PollUpdatesMetrics(t *testing.T) {
	tracker, err := New(&Config{
		Client:          &countingFetcher{},
		FundingDecimals: 6,
		PollInterval:    time.Minute,
		Logger:          zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("failed to create tracker: %v", err)
	}

	if tracker.Last() != nil {
		t.Fatal("expected no snapshot before the first read")
	}

	if err := tracker.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if got := gaugeValue(t, NativeBalance); got != 2.0 {
		t.Errorf("expected native balance 2.0, got %f", got)
	}
	if got := gaugeValue(t, FundingBalance); got != 1500.0 {
		t.Errorf("expected funding balance 1500.0, got %f", got)
	}

	last := tracker.Last()
	if last == nil {
		t.Fatal("expected a snapshot after refresh")
	}
	if last.Funding.Cmp(big.NewInt(1500e6)) != 0 {
		t.Errorf("snapshot funding = %s, want 1500000000", last.Funding)
	}
	if last.Allowance != nil {
		t.Errorf("allowance should not be tracked, got %s", last.Allowance)
	}
}

type fixedAllowance struct {
	amount *big.Int
	err    error
}

func (f fixedAllowance) Allowance(_ context.Context, _, _, _ common.Address) (*big.Int, error) {
	return f.amount, f.err
}

func TestTracker_TracksAllowance(t *testing.T) {
	token := common.HexToAddress("0xa0")
	spender := common.HexToAddress("0xbb")

	tracker, err := New(&Config{
		Client:          &countingFetcher{},
		FundingDecimals: 6,
		PollInterval:    time.Minute,
		Allowances:      fixedAllowance{amount: big.NewInt(250e6)},
		FundingToken:    token,
		Spender:         spender,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to create tracker: %v", err)
	}

	if err := tracker.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if got := gaugeValue(t, FundingAllowance); got != 250.0 {
		t.Errorf("expected allowance 250.0, got %f", got)
	}
	if got := tracker.Last().Allowance; got == nil || got.Cmp(big.NewInt(250e6)) != 0 {
		t.Errorf("snapshot allowance = %v, want 250000000", got)
	}
}

func TestTracker_AllowanceErrorKeepsLastSnapshot(t *testing.T) {
	t.Parallel()

	tracker, _ := New(&Config{
		Client:       &countingFetcher{},
		PollInterval: time.Minute,
		Allowances:   fixedAllowance{err: errors.New("call reverted")},
		FundingToken: common.HexToAddress("0xa0"),
		Spender:      common.HexToAddress("0xbb"),
		Logger:       zap.NewNop(),
	})

	if err := tracker.refresh(context.Background()); err == nil {
		t.Fatal("expected allowance error")
	}
	if tracker.Last() != nil {
		t.Error("failed refresh must not publish a snapshot")
	}
}

func TestTracker_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{err: errors.New("rpc down")}
	tracker, _ := New(&Config{
		Client:       fetcher,
		PollInterval: 10 * time.Millisecond,
		Logger:       zap.NewNop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	err := tracker.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if fetcher.calls.Load() < 2 {
		t.Errorf("expected repeated polls, got %d", fetcher.calls.Load())
	}
}

func TestToFloat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		amount   *big.Int
		decimals uint8
		want     float64
	}{
		{name: "nil", amount: nil, decimals: 18, want: 0},
		{name: "one-ether", amount: big.NewInt(1e18), decimals: 18, want: 1},
		{name: "usdc", amount: big.NewInt(1500000), decimals: 6, want: 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ToFloat(tt.amount, tt.decimals); got != tt.want {
				t.Errorf("ToFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("read gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}
