// Package paraswap is a client for the ParaSwap swap aggregator REST API.
package paraswap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
)

// Client fetches routes and swap calldata from ParaSwap.
type Client struct {
	baseURL    string
	network    int64
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a ParaSwap client for network (the EVM chain id).
func NewClient(baseURL string, network int64, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL cannot be empty")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		network: network,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}, nil
}

type priceRoute struct {
	SrcAmount          string `json:"srcAmount"`
	DestAmount         string `json:"destAmount"`
	TokenTransferProxy string `json:"tokenTransferProxy"`
	ContractAddress    string `json:"contractAddress"`
}

type pricesResponse struct {
	PriceRoute json.RawMessage `json:"priceRoute"`
	Error      string          `json:"error"`
}

type transactionRequest struct {
	SrcToken     string          `json:"srcToken"`
	SrcDecimals  uint8           `json:"srcDecimals"`
	DestToken    string          `json:"destToken"`
	DestDecimals uint8           `json:"destDecimals"`
	SrcAmount    string          `json:"srcAmount,omitempty"`
	DestAmount   string          `json:"destAmount,omitempty"`
	Slippage     int             `json:"slippage"`
	PriceRoute   json.RawMessage `json:"priceRoute"`
	UserAddress  string          `json:"userAddress"`
}

type transactionResponse struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
	Error string `json:"error"`
}

// Quote fetches a route. Any failure is reported as types.ErrQuoteUnavailable.
func (c *Client) Quote(ctx context.Context, req types.QuoteRequest) (quote *types.SwapQuote, err error) {
	start := time.Now()
	defer func() {
		observe("prices", start, err)
	}()

	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", types.ErrQuoteUnavailable)
	}

	params := url.Values{}
	params.Add("srcToken", req.SrcToken.Address.Hex())
	params.Add("srcDecimals", strconv.Itoa(int(req.SrcToken.Decimals)))
	params.Add("destToken", req.DestToken.Address.Hex())
	params.Add("destDecimals", strconv.Itoa(int(req.DestToken.Decimals)))
	params.Add("amount", req.Amount.String())
	params.Add("side", string(req.Side))
	params.Add("network", strconv.FormatInt(c.network, 10))
	params.Add("userAddress", req.User.Hex())
	if req.MaxImpactPct > 0 {
		params.Add("maxImpact", strconv.FormatFloat(req.MaxImpactPct, 'f', -1, 64))
	}

	requestURL := fmt.Sprintf("%s/prices?%s", c.baseURL, params.Encode())

	c.logger.Debug("fetching-quote",
		zap.String("src", req.SrcToken.Symbol),
		zap.String("dest", req.DestToken.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("amount", req.Amount.String()))

	body, err := c.do(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrQuoteUnavailable, err)
	}

	var resp pricesResponse
	err = json.Unmarshal(body, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshal prices: %v", types.ErrQuoteUnavailable, err)
	}

	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", types.ErrQuoteUnavailable, resp.Error)
	}

	if len(resp.PriceRoute) == 0 {
		return nil, fmt.Errorf("%w: empty price route", types.ErrQuoteUnavailable)
	}

	var route priceRoute
	err = json.Unmarshal(resp.PriceRoute, &route)
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshal price route: %v", types.ErrQuoteUnavailable, err)
	}

	srcAmount, okSrc := new(big.Int).SetString(route.SrcAmount, 10)
	destAmount, okDest := new(big.Int).SetString(route.DestAmount, 10)
	if !okSrc || !okDest {
		return nil, fmt.Errorf("%w: malformed amounts %q / %q", types.ErrQuoteUnavailable, route.SrcAmount, route.DestAmount)
	}

	spender := route.TokenTransferProxy
	if spender == "" {
		spender = route.ContractAddress
	}

	return &types.SwapQuote{
		SrcToken:   req.SrcToken,
		DestToken:  req.DestToken,
		SrcAmount:  srcAmount,
		DestAmount: destAmount,
		Side:       req.Side,
		Spender:    common.HexToAddress(spender),
		Route:      resp.PriceRoute,
	}, nil
}

// BuildTx turns a quote into swap calldata executed by user.
// slippageBps is applied to the side the quote did not fix.
func (c *Client) BuildTx(ctx context.Context, quote *types.SwapQuote, user common.Address, slippageBps int) (tx *types.SwapTx, err error) {
	start := time.Now()
	defer func() {
		observe("transactions", start, err)
	}()

	if quote == nil {
		return nil, errors.New("quote cannot be nil")
	}

	reqBody := transactionRequest{
		SrcToken:     quote.SrcToken.Address.Hex(),
		SrcDecimals:  quote.SrcToken.Decimals,
		DestToken:    quote.DestToken.Address.Hex(),
		DestDecimals: quote.DestToken.Decimals,
		Slippage:     slippageBps,
		PriceRoute:   quote.Route,
		UserAddress:  user.Hex(),
	}
	if quote.Side == types.SideBuy {
		reqBody.DestAmount = quote.DestAmount.String()
	} else {
		reqBody.SrcAmount = quote.SrcAmount.String()
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction request: %w", err)
	}

	requestURL := fmt.Sprintf("%s/transactions/%d?ignoreChecks=true", c.baseURL, c.network)

	body, err := c.do(ctx, http.MethodPost, requestURL, payload)
	if err != nil {
		return nil, fmt.Errorf("build swap tx: %w", err)
	}

	var resp transactionResponse
	err = json.Unmarshal(body, &resp)
	if err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}

	if resp.Error != "" {
		return nil, fmt.Errorf("build swap tx: %s", resp.Error)
	}

	if !common.IsHexAddress(resp.To) {
		return nil, fmt.Errorf("build swap tx: invalid target %q", resp.To)
	}

	data, err := hexutil.Decode(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("decode swap calldata: %w", err)
	}

	value := new(big.Int)
	if resp.Value != "" {
		if _, ok := value.SetString(resp.Value, 0); !ok {
			return nil, fmt.Errorf("build swap tx: malformed value %q", resp.Value)
		}
	}

	return &types.SwapTx{
		To:    common.HexToAddress(resp.To),
		Data:  data,
		Value: value,
	}, nil
}

func (c *Client) do(ctx context.Context, method, requestURL string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "blue-liquidator/1.0")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func observe(endpoint string, start time.Time, err error) {
	RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	RequestsTotal.WithLabelValues(endpoint, status).Inc()
}
