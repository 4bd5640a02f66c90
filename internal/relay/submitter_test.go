package relay

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/mselser95/blue-liquidator/internal/testutil"
	"github.com/mselser95/blue-liquidator/pkg/chain"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSubmitter(t *testing.T, relay *testutil.MockRelay, headers *testutil.MockChain, wait time.Duration) (*Submitter, *chain.KeySigner) {
	t.Helper()

	signer, err := chain.NewKeySigner(testutil.TestPrivateKey, big.NewInt(1))
	require.NoError(t, err)

	s, err := New(&Config{
		Relay:       relay,
		Signer:      signer,
		Headers:     headers,
		WaitTimeout: wait,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)

	return s, signer
}

func testBundle() *types.Bundle {
	return &types.Bundle{
		Intents: []types.TransactionIntent{
			{Index: 0, Kind: types.IntentLiquidate, To: testutil.MorphoAddress, Data: []byte{0x01}, Value: new(big.Int), GasLimit: 500_000},
			{Index: 1, Kind: types.IntentDisposalSwap, To: testutil.RouterAddress, Data: []byte{0x02}, Value: new(big.Int), GasLimit: 600_000},
		},
		NonceBase:            7,
		MaxFeePerGas:         big.NewInt(5_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(512),
		ChainID:              big.NewInt(1),
	}
}

func TestSubmit_FirstIncludedWins(t *testing.T) {
	t.Parallel()

	relay := testutil.NewMockRelay()
	relay.Resolutions[103] = types.ResolutionIncluded
	for _, offset := range DefaultOffsets {
		if offset != 3 {
			// Siblings never resolve on their own.
			relay.Delays[100+offset] = time.Hour
		}
	}

	s, _ := newSubmitter(t, relay, testutil.NewMockChain(), time.Hour)

	done := make(chan struct{})
	var (
		outcome *types.SubmissionOutcome
		err     error
	)
	go func() {
		outcome, err = s.Submit(context.Background(), testBundle())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not return after the first inclusion")
	}

	require.NoError(t, err)
	assert.True(t, outcome.Included)
	assert.Equal(t, uint64(103), outcome.IncludedBlock)
	assert.Len(t, relay.Targets(), len(DefaultOffsets))
}

func TestSubmit_AllNotIncluded(t *testing.T) {
	t.Parallel()

	relay := testutil.NewMockRelay()
	s, _ := newSubmitter(t, relay, testutil.NewMockChain(), time.Second)

	outcome, err := s.Submit(context.Background(), testBundle())
	require.ErrorIs(t, err, types.ErrBundleNotIncluded)
	assert.Equal(t, "bundle not included", err.Error())
	assert.False(t, outcome.Included)
	assert.Len(t, outcome.Attempts, 7)

	assert.ElementsMatch(t, []uint64{101, 102, 103, 105, 108, 113, 121}, relay.Targets())
}

func TestSubmit_RejectionIsLocalToItsTarget(t *testing.T) {
	t.Parallel()

	relay := testutil.NewMockRelay()
	relay.Rejections[101] = types.ErrRelayRejected
	relay.Resolutions[102] = types.ResolutionIncluded

	s, _ := newSubmitter(t, relay, testutil.NewMockChain(), time.Second)

	outcome, err := s.Submit(context.Background(), testBundle())
	require.NoError(t, err)
	assert.Equal(t, uint64(102), outcome.IncludedBlock)
}

func TestSubmit_AllRejected(t *testing.T) {
	t.Parallel()

	relay := testutil.NewMockRelay()
	for _, offset := range DefaultOffsets {
		relay.Rejections[100+offset] = types.ErrRelayRejected
	}

	s, _ := newSubmitter(t, relay, testutil.NewMockChain(), time.Second)

	outcome, err := s.Submit(context.Background(), testBundle())
	require.ErrorIs(t, err, types.ErrBundleNotIncluded)
	for _, attempt := range outcome.Attempts {
		assert.False(t, attempt.Accepted)
		assert.ErrorIs(t, attempt.Err, types.ErrRelayRejected)
	}
}

func TestSubmit_SimulationRevertSendsNothing(t *testing.T) {
	t.Parallel()

	relay := testutil.NewMockRelay()
	relay.Revert = "Morpho: position is healthy"

	s, _ := newSubmitter(t, relay, testutil.NewMockChain(), time.Second)

	_, err := s.Submit(context.Background(), testBundle())
	require.ErrorIs(t, err, types.ErrSimulationReverted)
	assert.Empty(t, relay.Targets())
}

func TestSubmit_SimulationTransportErrorIsRevert(t *testing.T) {
	t.Parallel()

	relay := testutil.NewMockRelay()
	relay.SimulateErr = errors.New("connection refused")

	s, _ := newSubmitter(t, relay, testutil.NewMockChain(), time.Second)

	_, err := s.Submit(context.Background(), testBundle())
	require.ErrorIs(t, err, types.ErrSimulationReverted)
	assert.Empty(t, relay.Targets())
}

func TestSubmit_StaleBlock(t *testing.T) {
	t.Parallel()

	relay := testutil.NewMockRelay()
	headers := testutil.NewMockChain()
	headers.BaseFee = nil

	s, _ := newSubmitter(t, relay, headers, time.Second)

	_, err := s.Submit(context.Background(), testBundle())
	require.ErrorIs(t, err, types.ErrStaleBlockData)
	assert.Nil(t, relay.Simulated())
}

func TestSubmit_WaitsAreBounded(t *testing.T) {
	t.Parallel()

	relay := testutil.NewMockRelay()
	for _, offset := range DefaultOffsets {
		relay.Delays[100+offset] = time.Hour
	}

	s, _ := newSubmitter(t, relay, testutil.NewMockChain(), 50*time.Millisecond)

	start := time.Now()
	outcome, err := s.Submit(context.Background(), testBundle())
	require.ErrorIs(t, err, types.ErrBundleNotIncluded)
	assert.Less(t, time.Since(start), 5*time.Second)
	for _, attempt := range outcome.Attempts {
		assert.Equal(t, types.ResolutionError, attempt.Resolution)
		assert.ErrorIs(t, attempt.Err, context.DeadlineExceeded)
	}
}

func TestSubmit_SignsConsecutiveNonces(t *testing.T) {
	t.Parallel()

	relay := testutil.NewMockRelay()
	s, signer := newSubmitter(t, relay, testutil.NewMockChain(), time.Second)

	bundle := testBundle()
	_, _ = s.Submit(context.Background(), bundle)

	raw := relay.Simulated()
	require.Len(t, raw, 2)

	ethSigner := gethtypes.LatestSignerForChainID(big.NewInt(1))
	for i, encoded := range raw {
		var tx gethtypes.Transaction
		require.NoError(t, tx.UnmarshalBinary(encoded))

		assert.Equal(t, uint8(gethtypes.DynamicFeeTxType), tx.Type())
		assert.Equal(t, uint64(7+i), tx.Nonce())
		assert.Equal(t, bundle.Intents[i].GasLimit, tx.Gas())
		assert.Equal(t, 0, tx.GasFeeCap().Cmp(bundle.MaxFeePerGas))
		assert.Equal(t, 0, tx.GasTipCap().Cmp(bundle.MaxPriorityFeePerGas))
		assert.Equal(t, bundle.Intents[i].To, *tx.To())

		sender, err := gethtypes.Sender(ethSigner, &tx)
		require.NoError(t, err)
		assert.Equal(t, signer.Address(), sender)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{Relay: testutil.NewMockRelay()})
	assert.Error(t, err)
}
