package discovery

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/blue-liquidator/internal/testutil"
	"github.com/mselser95/blue-liquidator/pkg/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const watchEntry = "0x0000000000000000000000000000000000000000000000000000000000000001:0x00000000000000000000000000000000000000b0"

func newOnChainSource(t *testing.T, mc *testutil.MockChain, now time.Time, watches ...string) *OnChainSource {
	t.Helper()

	parsed, err := ParseWatches(watches)
	require.NoError(t, err)

	tokens, err := wallet.NewClient(mc, testutil.USDCAddress, zap.NewNop())
	require.NoError(t, err)

	source, err := NewOnChainSource(OnChainConfig{
		Watches:   parsed,
		Refresher: newTestRefresher(t, mc),
		Tokens:    tokens,
		Prices: map[common.Address]*big.Int{
			testutil.USDCAddress: testutil.USD(1),
			testutil.WETHAddress: testutil.USD(2000),
		},
		WrappedNative: testutil.WETHAddress,
		Clock:         func() time.Time { return now },
		Logger:        zap.NewNop(),
	})
	require.NoError(t, err)
	return source
}

func TestOnChainSource_Fetch(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	mc := newMorphoChain(now.Unix())
	source := newOnChainSource(t, mc, now, watchEntry)

	snap, err := source.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)

	ps := snap.Positions[0]
	assert.Equal(t, testutil.BorrowerAddr, ps.Position.Owner)
	assert.Equal(t, common.HexToHash("0x01"), ps.Market.ID)
	assert.Equal(t, "500000000000000000", ps.Position.Collateral.String())
	assert.Equal(t, testBorrowRate, ps.Market.BorrowRate.String())
	assert.Equal(t, "WETH", ps.CollateralToken.Symbol)
	assert.Equal(t, uint8(18), ps.CollateralToken.Decimals)
	assert.Equal(t, "USDC", ps.LoanToken.Symbol)
	assert.Equal(t, uint8(6), ps.LoanToken.Decimals)
	assert.Equal(t, 0, ps.CollateralToken.PriceUSD.Cmp(testutil.USD(2000)))
	assert.Equal(t, 0, ps.LoanToken.PriceUSD.Cmp(testutil.USD(1)))

	require.NotNil(t, snap.NativePriceUSD)
	assert.Equal(t, 0, snap.NativePriceUSD.Cmp(testutil.USD(2000)))
	assert.Len(t, snap.Prices, 2)
	assert.True(t, snap.FetchedAt.Equal(now))
}

func TestOnChainSource_Fetch_CachesMetadata(t *testing.T) {
	t.Parallel()

	now := time.Now()
	mc := newMorphoChain(now.Unix())
	source := newOnChainSource(t, mc, now, watchEntry)

	_, err := source.Fetch(context.Background())
	require.NoError(t, err)
	first := mc.Calls()

	_, err = source.Fetch(context.Background())
	require.NoError(t, err)

	// Five state reads each cycle, metadata only on the first.
	assert.Equal(t, 9, first)
	assert.Equal(t, 5, mc.Calls()-first)
}

func TestOnChainSource_Fetch_DropsUnreadable(t *testing.T) {
	t.Parallel()

	now := time.Now()
	mc := newMorphoChain(now.Unix())
	mc.CallErr = errors.New("rpc down")
	source := newOnChainSource(t, mc, now, watchEntry)

	snap, err := source.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Positions)
	assert.NotNil(t, snap.NativePriceUSD)
}

func TestOnChainSource_Fetch_Cancelled(t *testing.T) {
	t.Parallel()

	now := time.Now()
	mc := newMorphoChain(now.Unix())
	mc.CallErr = context.Canceled
	source := newOnChainSource(t, mc, now, watchEntry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := source.Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOnChainSource_NoNativePrice(t *testing.T) {
	t.Parallel()

	now := time.Now()
	mc := newMorphoChain(now.Unix())
	parsed, err := ParseWatches([]string{watchEntry})
	require.NoError(t, err)
	tokens, err := wallet.NewClient(mc, testutil.USDCAddress, zap.NewNop())
	require.NoError(t, err)

	source, err := NewOnChainSource(OnChainConfig{
		Watches:   parsed,
		Refresher: newTestRefresher(t, mc),
		Tokens:    tokens,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)

	snap, err := source.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)
	assert.Nil(t, snap.NativePriceUSD)
	assert.False(t, snap.Positions[0].CollateralToken.HasPrice())
}

func TestParseWatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: watchEntry},
		{name: "valid without prefix", raw: " 0000000000000000000000000000000000000000000000000000000000000001:0x00000000000000000000000000000000000000b0 "},
		{name: "missing separator", raw: "0x01", wantErr: true},
		{name: "short market id", raw: "0x01:0x00000000000000000000000000000000000000b0", wantErr: true},
		{name: "bad borrower", raw: "0x0000000000000000000000000000000000000000000000000000000000000001:nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w, err := ParseWatch(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, common.HexToHash("0x01"), w.MarketID)
			assert.Equal(t, testutil.BorrowerAddr, w.Borrower)
		})
	}
}

func TestParseWatches_FailsOnFirstBadEntry(t *testing.T) {
	t.Parallel()

	_, err := ParseWatches([]string{watchEntry, "garbage"})
	assert.Error(t, err)
}

func TestNewOnChainSource_Validation(t *testing.T) {
	t.Parallel()

	mc := testutil.NewMockChain()
	r := newTestRefresher(t, mc)
	tokens, err := wallet.NewClient(mc, testutil.USDCAddress, zap.NewNop())
	require.NoError(t, err)
	watches := []Watch{{MarketID: common.HexToHash("0x01"), Borrower: testutil.BorrowerAddr}}

	tests := []struct {
		name string
		cfg  OnChainConfig
	}{
		{name: "no watches", cfg: OnChainConfig{Refresher: r, Tokens: tokens, Logger: zap.NewNop()}},
		{name: "no refresher", cfg: OnChainConfig{Watches: watches, Tokens: tokens, Logger: zap.NewNop()}},
		{name: "no tokens", cfg: OnChainConfig{Watches: watches, Refresher: r, Logger: zap.NewNop()}},
		{name: "no logger", cfg: OnChainConfig{Watches: watches, Refresher: r, Tokens: tokens}},
	}

	for _, tt := range tests {
		_, err := NewOnChainSource(tt.cfg)
		assert.Error(t, err, tt.name)
	}
}
