package paraswap

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	usdc = types.Token{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6, Symbol: "USDC"}
	weth = types.Token{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18, Symbol: "WETH"}
	user = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

const proxy = "0x216B4B4Ba9F3e719726886d34a177484278Bfcae"

func TestClient_Quote(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prices", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, weth.Address.Hex(), q.Get("srcToken"))
		assert.Equal(t, "18", q.Get("srcDecimals"))
		assert.Equal(t, "6", q.Get("destDecimals"))
		assert.Equal(t, "SELL", q.Get("side"))
		assert.Equal(t, "1", q.Get("network"))
		assert.Equal(t, "287500000000000000", q.Get("amount"))
		assert.Equal(t, "2", q.Get("maxImpact"))

		_, _ = w.Write([]byte(`{"priceRoute":{"srcAmount":"287500000000000000","destAmount":"520000000","tokenTransferProxy":"` + proxy + `","contractAddress":"0xDEF171Fe48CF0115B1d80b88dc8eAB59176FEe57"}}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, 1, zap.NewNop())
	require.NoError(t, err)

	quote, err := client.Quote(context.Background(), types.QuoteRequest{
		SrcToken:     weth,
		DestToken:    usdc,
		Amount:       big.NewInt(287500000000000000),
		Side:         types.SideSell,
		User:         user,
		MaxImpactPct: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(520000000), quote.DestAmount.Int64())
	assert.Equal(t, common.HexToAddress(proxy), quote.Spender)
	assert.NotEmpty(t, quote.Route)
}

func TestClient_QuoteUnavailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "api-error", status: http.StatusOK, body: `{"error":"No routes found with enough liquidity"}`},
		{name: "bad-status", status: http.StatusInternalServerError, body: `oops`},
		{name: "malformed-amount", status: http.StatusOK, body: `{"priceRoute":{"srcAmount":"x","destAmount":"1"}}`},
		{name: "missing-route", status: http.StatusOK, body: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, _ := NewClient(server.URL, 1, zap.NewNop())

			_, err := client.Quote(context.Background(), types.QuoteRequest{
				SrcToken: usdc, DestToken: weth, Amount: big.NewInt(1), Side: types.SideBuy, User: user,
			})
			assert.True(t, errors.Is(err, types.ErrQuoteUnavailable), "got %v", err)
		})
	}
}

func TestClient_BuildTx(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		side     types.SwapSide
		wantSrc  string
		wantDest string
	}{
		{name: "sell-fixes-source", side: types.SideSell, wantSrc: "100"},
		{name: "buy-fixes-destination", side: types.SideBuy, wantDest: "200"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/transactions/1", r.URL.Path)
				assert.Equal(t, "true", r.URL.Query().Get("ignoreChecks"))

				raw, _ := io.ReadAll(r.Body)
				var req transactionRequest
				assert.NoError(t, json.Unmarshal(raw, &req))
				assert.Equal(t, tt.wantSrc, req.SrcAmount)
				assert.Equal(t, tt.wantDest, req.DestAmount)
				assert.Equal(t, 50, req.Slippage)
				assert.JSONEq(t, `{"k":1}`, string(req.PriceRoute))

				_, _ = w.Write([]byte(`{"to":"0xDEF171Fe48CF0115B1d80b88dc8eAB59176FEe57","data":"0xdeadbeef","value":"0"}`))
			}))
			defer server.Close()

			client, _ := NewClient(server.URL, 1, zap.NewNop())

			tx, err := client.BuildTx(context.Background(), &types.SwapQuote{
				SrcToken:   usdc,
				DestToken:  weth,
				SrcAmount:  big.NewInt(100),
				DestAmount: big.NewInt(200),
				Side:       tt.side,
				Route:      []byte(`{"k":1}`),
			}, user, 50)
			require.NoError(t, err)

			assert.Equal(t, common.HexToAddress("0xDEF171Fe48CF0115B1d80b88dc8eAB59176FEe57"), tx.To)
			assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, tx.Data)
			assert.Equal(t, 0, tx.Value.Sign())
		})
	}
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewClient("", 1, zap.NewNop())
	assert.Error(t, err)
	_, err = NewClient("http://x", 1, nil)
	assert.Error(t, err)
}
