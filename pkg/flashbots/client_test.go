package flashbots

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	receipts map[common.Hash]*gethtypes.Receipt
}

func (f *fakeChain) BlockNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

type capturedRequest struct {
	Method    string
	Body      []byte
	Signature string
}

type recorder struct {
	mu       sync.Mutex
	requests []capturedRequest
}

func (r *recorder) all() []capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capturedRequest(nil), r.requests...)
}

func newRelay(t *testing.T, reply func(method string) (int, string)) (*httptest.Server, *recorder) {
	t.Helper()

	captured := &recorder{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req rpcRequest
		_ = json.Unmarshal(body, &req)

		captured.mu.Lock()
		captured.requests = append(captured.requests, capturedRequest{
			Method:    req.Method,
			Body:      body,
			Signature: r.Header.Get("X-Flashbots-Signature"),
		})
		captured.mu.Unlock()

		status, payload := reply(req.Method)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(server.Close)

	return server, captured
}

func newTestClient(t *testing.T, url string, chain ChainReader) *Client {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	client, err := New(&Config{
		RelayURL:     url,
		AuthKey:      key,
		Chain:        chain,
		PollInterval: 5 * time.Millisecond,
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	return client
}

func TestMaxBaseFeeInFutureBlock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		baseFee int64
		blocks  int
		want    int64
	}{
		{name: "zero-blocks", baseFee: 1000, blocks: 0, want: 1000},
		{name: "one-block", baseFee: 1000, blocks: 1, want: 1126},
		{name: "two-blocks", baseFee: 1000, blocks: 2, want: 1267},
		{name: "truncates", baseFee: 7, blocks: 1, want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := MaxBaseFeeInFutureBlock(big.NewInt(tt.baseFee), tt.blocks)
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestClient_SignatureHeader(t *testing.T) {
	t.Parallel()

	server, captured := newRelay(t, func(string) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"results":[{"txHash":"0x01","gasUsed":21000}]}}`
	})
	client := newTestClient(t, server.URL, &fakeChain{})

	_, err := client.Simulate(context.Background(), [][]byte{{0x02, 0x01}}, 101)
	require.NoError(t, err)
	requests := captured.all()
	require.Len(t, requests, 1)

	req := requests[0]
	assert.Equal(t, "eth_callBundle", req.Method)

	parts := strings.SplitN(req.Signature, ":", 2)
	require.Len(t, parts, 2)

	sig, err := hexutil.Decode(parts[1])
	require.NoError(t, err)

	digest := accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(req.Body))))
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(parts[0]), crypto.PubkeyToAddress(*pub))

	var body struct {
		Params []callBundleParams `json:"params"`
	}
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "0x65", body.Params[0].BlockNumber)
	assert.Equal(t, "latest", body.Params[0].StateBlockNumber)
	assert.Equal(t, []string{"0x0201"}, body.Params[0].Txs)
}

func TestClient_SimulateRevert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		reply  string
	}{
		{
			name:   "tx-revert",
			status: http.StatusOK,
			reply:  `{"result":{"results":[{"txHash":"0x01"},{"txHash":"0x02","revert":"health factor ok"}]}}`,
		},
		{
			name:   "tx-error",
			status: http.StatusOK,
			reply:  `{"result":{"results":[{"txHash":"0x01","error":"execution reverted"}]}}`,
		},
		{
			name:   "rpc-error",
			status: http.StatusOK,
			reply:  `{"error":{"code":-32000,"message":"nonce too low"}}`,
		},
		{
			name:   "http-error",
			status: http.StatusBadGateway,
			reply:  `bad gateway`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server, _ := newRelay(t, func(string) (int, string) { return tt.status, tt.reply })
			client := newTestClient(t, server.URL, &fakeChain{})

			_, err := client.Simulate(context.Background(), [][]byte{{0x01}}, 10)
			assert.ErrorIs(t, err, types.ErrSimulationReverted)
		})
	}
}

func TestClient_SendBundleRejected(t *testing.T) {
	t.Parallel()

	server, _ := newRelay(t, func(string) (int, string) {
		return http.StatusOK, `{"error":{"code":-32602,"message":"invalid bundle"}}`
	})
	client := newTestClient(t, server.URL, &fakeChain{})

	_, err := client.SendBundle(context.Background(), [][]byte{{0x01}}, 10)
	assert.ErrorIs(t, err, types.ErrRelayRejected)
}

func TestClient_SendBundleMalformedResult(t *testing.T) {
	t.Parallel()

	server, _ := newRelay(t, func(string) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"not-an-object"}`
	})
	client := newTestClient(t, server.URL, &fakeChain{})

	core, logs := observer.New(zapcore.DebugLevel)
	client.logger = zap.New(core)

	sub, err := client.SendBundle(context.Background(), [][]byte{{0x01}}, 42)
	require.NoError(t, err)
	require.NotNil(t, sub)

	entries := logs.FilterMessage("bundle-result-decode-failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(42), entries[0].ContextMap()["target-block"])
}

func TestSubmission_Wait(t *testing.T) {
	t.Parallel()

	raw := []byte{0x02, 0xaa, 0xbb}
	firstHash := crypto.Keccak256Hash(raw)

	tests := []struct {
		name     string
		receipts map[common.Hash]*gethtypes.Receipt
		want     types.Resolution
	}{
		{
			name:     "included",
			receipts: map[common.Hash]*gethtypes.Receipt{firstHash: {BlockNumber: big.NewInt(12)}},
			want:     types.ResolutionIncluded,
		},
		{
			name:     "mined-elsewhere",
			receipts: map[common.Hash]*gethtypes.Receipt{firstHash: {BlockNumber: big.NewInt(13)}},
			want:     types.ResolutionNotIncluded,
		},
		{
			name:     "not-mined",
			receipts: map[common.Hash]*gethtypes.Receipt{},
			want:     types.ResolutionNotIncluded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server, _ := newRelay(t, func(string) (int, string) {
				return http.StatusOK, `{"result":{"bundleHash":"0xabc"}}`
			})
			chain := &fakeChain{head: 11, receipts: tt.receipts}
			client := newTestClient(t, server.URL, chain)

			sub, err := client.SendBundle(context.Background(), [][]byte{raw}, 12)
			require.NoError(t, err)

			go func() {
				time.Sleep(20 * time.Millisecond)
				chain.mu.Lock()
				chain.head = 12
				chain.mu.Unlock()
			}()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			resolution, err := sub.Wait(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resolution)
		})
	}
}

func TestSubmission_WaitCancelled(t *testing.T) {
	t.Parallel()

	server, _ := newRelay(t, func(string) (int, string) {
		return http.StatusOK, `{"result":{"bundleHash":"0xabc"}}`
	})
	client := newTestClient(t, server.URL, &fakeChain{head: 1})

	sub, err := client.SendBundle(context.Background(), [][]byte{{0x01}}, 50)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	resolution, err := sub.Wait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, types.ResolutionError, resolution)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	key, _ := crypto.GenerateKey()

	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(&Config{AuthKey: key, Chain: &fakeChain{}, Logger: zap.NewNop()})
	assert.Error(t, err)
	_, err = New(&Config{RelayURL: "http://relay", Chain: &fakeChain{}, Logger: zap.NewNop()})
	assert.Error(t, err)
}
