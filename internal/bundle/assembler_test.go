package bundle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/mselser95/blue-liquidator/internal/accrual"
	"github.com/mselser95/blue-liquidator/internal/testutil"
	"github.com/mselser95/blue-liquidator/pkg/chain"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"github.com/mselser95/blue-liquidator/pkg/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Unix(1_700_000_000, 0)

type fixture struct {
	chain     *testutil.MockChain
	agg       *testutil.MockAggregator
	nonces    *chain.NonceManager
	assembler *Assembler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mockChain := testutil.NewMockChain()
	mockChain.Nonce = 7
	agg := testutil.NewMockAggregator()

	walletClient, err := wallet.NewClient(mockChain, testutil.DAIAddress, zap.NewNop())
	require.NoError(t, err)

	nonces, err := chain.NewNonceManager(mockChain, testutil.WalletAddress, zap.NewNop())
	require.NoError(t, err)

	assembler, err := New(&Config{
		Allowances:   walletClient,
		Swaps:        agg,
		Estimator:    mockChain,
		Nonces:       nonces,
		Wallet:       testutil.WalletAddress,
		Morpho:       testutil.MorphoAddress,
		FundingToken: testutil.DAI(),
		SlippageBps:  50,
		ChainID:      big.NewInt(1),
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)

	return &fixture{chain: mockChain, agg: agg, nonces: nonces, assembler: assembler}
}

func disposalQuote() *types.SwapQuote {
	return &types.SwapQuote{
		SrcToken:   testutil.WETH(),
		DestToken:  testutil.USDC(),
		SrcAmount:  testutil.Seizable(),
		DestAmount: testutil.Big("520000000"),
		Side:       types.SideSell,
		Spender:    testutil.SpenderAddr,
	}
}

func fundingQuote() *types.SwapQuote {
	return &types.SwapQuote{
		SrcToken:   testutil.DAI(),
		DestToken:  testutil.USDC(),
		SrcAmount:  testutil.Big("301000000000000000000"),
		DestAmount: testutil.Big("300000000"),
		Side:       types.SideBuy,
		Spender:    testutil.SpenderAddr,
	}
}

func input(t *testing.T, decision *types.Decision) Input {
	t.Helper()

	snap := testutil.UnhealthySnapshot(testNow)
	accrued, err := accrual.New(accrual.Config{}).Accrue(snap, testNow)
	require.NoError(t, err)

	return Input{Accrued: accrued, Snapshot: snap, Decision: decision}
}

func kinds(intents []types.TransactionIntent) []types.IntentKind {
	out := make([]types.IntentKind, len(intents))
	for i := range intents {
		out[i] = intents[i].Kind
	}
	return out
}

func TestAssemble_FullOrdering(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	decision := &types.Decision{
		Proceed:          true,
		RepaidDebtAssets: testutil.Big("500000000"),
		FundingShortfall: testutil.Big("300000000"),
		FundingQuote:     fundingQuote(),
		DisposalQuote:    disposalQuote(),
	}

	intents, err := f.assembler.Assemble(context.Background(), input(t, decision))
	require.NoError(t, err)

	assert.Equal(t, []types.IntentKind{
		types.IntentApproveFunding,
		types.IntentFundingSwap,
		types.IntentApproveDebt,
		types.IntentLiquidate,
		types.IntentApproveCollateral,
		types.IntentDisposalSwap,
	}, kinds(intents))

	for i := range intents {
		assert.Equal(t, i, intents[i].Index)
	}

	assert.Equal(t, testutil.DAIAddress, intents[0].To)
	assert.Equal(t, testutil.RouterAddress, intents[1].To)
	assert.Equal(t, testutil.USDCAddress, intents[2].To)
	assert.Equal(t, testutil.MorphoAddress, intents[3].To)
	assert.Equal(t, testutil.WETHAddress, intents[4].To)
	assert.Equal(t, testutil.RouterAddress, intents[5].To)

	expected, err := chain.PackLiquidate(
		testutil.UnhealthySnapshot(testNow).Market.Params,
		testutil.BorrowerAddr,
		new(big.Int),
		testutil.Big("500000000000000"),
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, expected, intents[3].Data)

	approveMorpho, err := wallet.PackApprove(testutil.MorphoAddress, wallet.MaxUint256)
	require.NoError(t, err)
	assert.Equal(t, approveMorpho, intents[2].Data)
}

func TestAssemble_SkipsSatisfiedApprovals(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.chain.SetAllowance(testutil.USDCAddress, testutil.WalletAddress, testutil.MorphoAddress, testutil.Big("500000000"))
	f.chain.SetAllowance(testutil.WETHAddress, testutil.WalletAddress, testutil.SpenderAddr, wallet.MaxUint256)

	decision := &types.Decision{
		Proceed:          true,
		RepaidDebtAssets: testutil.Big("500000000"),
		FundingShortfall: new(big.Int),
		DisposalQuote:    disposalQuote(),
	}

	intents, err := f.assembler.Assemble(context.Background(), input(t, decision))
	require.NoError(t, err)

	assert.Equal(t, []types.IntentKind{types.IntentLiquidate, types.IntentDisposalSwap}, kinds(intents))
	assert.Equal(t, 1, f.agg.BuildCalls())
}

func TestAssemble_FundingApprovalCoversSlippage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// Exactly the quoted amount is not enough once 50 bps of slippage is allowed.
	f.chain.SetAllowance(testutil.DAIAddress, testutil.WalletAddress, testutil.SpenderAddr, testutil.Big("301000000000000000000"))
	f.chain.SetAllowance(testutil.USDCAddress, testutil.WalletAddress, testutil.MorphoAddress, wallet.MaxUint256)

	decision := &types.Decision{
		Proceed:          true,
		RepaidDebtAssets: testutil.Big("500000000"),
		FundingShortfall: testutil.Big("300000000"),
		FundingQuote:     fundingQuote(),
	}

	intents, err := f.assembler.Assemble(context.Background(), input(t, decision))
	require.NoError(t, err)
	assert.Equal(t, []types.IntentKind{
		types.IntentApproveFunding,
		types.IntentFundingSwap,
		types.IntentLiquidate,
	}, kinds(intents))

	f.chain.SetAllowance(testutil.DAIAddress, testutil.WalletAddress, testutil.SpenderAddr, testutil.Big("302505000000000000000"))

	intents, err = f.assembler.Assemble(context.Background(), input(t, decision))
	require.NoError(t, err)
	assert.Equal(t, []types.IntentKind{types.IntentFundingSwap, types.IntentLiquidate}, kinds(intents))
}

func TestAssemble_ShortfallWithoutRouteFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	decision := &types.Decision{
		Proceed:          true,
		RepaidDebtAssets: testutil.Big("500000000"),
		FundingShortfall: testutil.Big("300000000"),
	}

	_, err := f.assembler.Assemble(context.Background(), input(t, decision))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no funding route")
}

func TestAssemble_AbortsOnFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name:  "build failure",
			setup: func(f *fixture) { f.agg.BuildErr = errors.New("aggregator down") },
		},
		{
			name:  "allowance failure",
			setup: func(f *fixture) { f.chain.CallErr = errors.New("rpc down") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			tt.setup(f)

			decision := &types.Decision{
				Proceed:          true,
				RepaidDebtAssets: testutil.Big("500000000"),
				FundingShortfall: new(big.Int),
				DisposalQuote:    disposalQuote(),
			}

			intents, err := f.assembler.Assemble(context.Background(), input(t, decision))
			require.Error(t, err)
			assert.Nil(t, intents)
		})
	}
}

func TestAttachGas(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.chain.GasEstimates[testutil.MorphoAddress] = 200_000

	decision := &types.Decision{
		Proceed:          true,
		RepaidDebtAssets: testutil.Big("500000000"),
		FundingShortfall: new(big.Int),
		DisposalQuote:    disposalQuote(),
	}

	intents, err := f.assembler.Assemble(context.Background(), input(t, decision))
	require.NoError(t, err)

	fees := types.GasParams{MaxFeePerGas: big.NewInt(5_000_000_000), MaxPriorityFeePerGas: big.NewInt(1_000_000_000)}
	bundle, err := f.assembler.AttachGas(context.Background(), intents, fees)
	require.NoError(t, err)
	defer bundle.Lease.Release(false)

	require.Len(t, bundle.Intents, len(intents))
	for i, intent := range bundle.Intents {
		if intent.Kind == types.IntentLiquidate {
			assert.Equal(t, uint64(240_000), intent.GasLimit)
		} else {
			assert.Equal(t, uint64(120_000), intent.GasLimit)
		}
		assert.Equal(t, uint64(7+i), bundle.Nonce(i))
	}

	assert.Equal(t, uint64(7), bundle.NonceBase)
	assert.Equal(t, len(intents), bundle.Lease.Count())
	assert.Equal(t, 0, bundle.MaxFeePerGas.Cmp(fees.MaxFeePerGas))
	assert.Equal(t, int64(1), bundle.ChainID.Int64())

	// Intents handed in are not mutated.
	assert.Zero(t, intents[0].GasLimit)
}

func TestAttachGas_FallbackOnEstimateFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.chain.EstimateErr = errors.New("execution reverted: ERC20: insufficient allowance")

	intents := []types.TransactionIntent{
		{Index: 0, Kind: types.IntentApproveDebt, To: testutil.USDCAddress},
		{Index: 1, Kind: types.IntentLiquidate, To: testutil.MorphoAddress},
		{Index: 2, Kind: types.IntentDisposalSwap, To: testutil.RouterAddress},
	}

	bundle, err := f.assembler.AttachGas(context.Background(), intents, types.GasParams{
		MaxFeePerGas:         big.NewInt(1),
		MaxPriorityFeePerGas: big.NewInt(1),
	})
	require.NoError(t, err)
	defer bundle.Lease.Release(false)

	assert.Equal(t, FallbackApproveGas, bundle.Intents[0].GasLimit)
	assert.Equal(t, FallbackLiquidateGas, bundle.Intents[1].GasLimit)
	assert.Equal(t, FallbackSwapGas, bundle.Intents[2].GasLimit)
	assert.Equal(t, FallbackApproveGas+FallbackLiquidateGas+FallbackSwapGas, bundle.TotalGas())
}

func TestAttachGas_CancelledContextReservesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.chain.EstimateErr = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	intents := []types.TransactionIntent{
		{Index: 0, Kind: types.IntentLiquidate, To: testutil.MorphoAddress},
		{Index: 1, Kind: types.IntentDisposalSwap, To: testutil.RouterAddress},
	}

	bundle, err := f.assembler.AttachGas(ctx, intents, types.GasParams{
		MaxFeePerGas:         big.NewInt(1),
		MaxPriorityFeePerGas: big.NewInt(1),
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, bundle)
	assert.Zero(t, f.nonces.Outstanding())
}

func TestAttachGas_ConsecutiveBundlesGetDisjointNonces(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	intents := []types.TransactionIntent{
		{Index: 0, Kind: types.IntentLiquidate, To: testutil.MorphoAddress},
		{Index: 1, Kind: types.IntentDisposalSwap, To: testutil.RouterAddress},
	}
	fees := types.GasParams{MaxFeePerGas: big.NewInt(1), MaxPriorityFeePerGas: big.NewInt(1)}

	first, err := f.assembler.AttachGas(context.Background(), intents, fees)
	require.NoError(t, err)
	second, err := f.assembler.AttachGas(context.Background(), intents, fees)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), first.NonceBase)
	assert.Equal(t, uint64(9), second.NonceBase)

	second.Lease.Release(false)
	first.Lease.Release(true)
}

func TestAttachGas_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.assembler.AttachGas(context.Background(), nil, types.GasParams{})
	assert.Error(t, err)

	_, err = f.assembler.AttachGas(context.Background(), []types.TransactionIntent{{Kind: types.IntentLiquidate}}, types.GasParams{})
	assert.Error(t, err)
	assert.Zero(t, f.nonces.Outstanding())
}
