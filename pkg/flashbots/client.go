// Package flashbots is a JSON-RPC client for Flashbots-compatible bundle relays.
package flashbots

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
)

// ChainReader is the node surface used to resolve submitted bundles.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
}

// Config holds relay client configuration.
type Config struct {
	RelayURL string
	// AuthKey signs the X-Flashbots-Signature header. It identifies the
	// searcher to the relay and does not need to hold funds.
	AuthKey      *ecdsa.PrivateKey
	Chain        ChainReader
	PollInterval time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Client talks to a bundle relay.
type Client struct {
	relayURL     string
	authKey      *ecdsa.PrivateKey
	authAddress  common.Address
	chain        ChainReader
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *zap.Logger
	requestID    atomic.Uint64
}

// New creates a relay client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.RelayURL == "" {
		return nil, errors.New("relay URL cannot be empty")
	}

	if cfg.AuthKey == nil {
		return nil, errors.New("auth key cannot be nil")
	}

	if cfg.Chain == nil {
		return nil, errors.New("chain reader cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{
		relayURL:     strings.TrimRight(cfg.RelayURL, "/"),
		authKey:      cfg.AuthKey,
		authAddress:  crypto.PubkeyToAddress(cfg.AuthKey.PublicKey),
		chain:        cfg.Chain,
		pollInterval: pollInterval,
		httpClient:   httpClient,
		logger:       cfg.Logger,
	}, nil
}

// MaxBaseFeeInFutureBlock bounds the base fee blocksInFuture blocks ahead,
// assuming every block in between is full (+12.5% per block).
func MaxBaseFeeInFutureBlock(baseFee *big.Int, blocksInFuture int) *big.Int {
	fee := new(big.Int).Set(baseFee)
	num := big.NewInt(1125)
	den := big.NewInt(1000)
	one := big.NewInt(1)

	for i := 0; i < blocksInFuture; i++ {
		fee.Mul(fee, num)
		fee.Quo(fee, den)
		fee.Add(fee, one)
	}

	return fee
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type callBundleParams struct {
	Txs              []string `json:"txs"`
	BlockNumber      string   `json:"blockNumber"`
	StateBlockNumber string   `json:"stateBlockNumber"`
}

type sendBundleParams struct {
	Txs         []string `json:"txs"`
	BlockNumber string   `json:"blockNumber"`
}

// SimulationTxResult is the per-transaction outcome of eth_callBundle.
type SimulationTxResult struct {
	TxHash  string `json:"txHash"`
	GasUsed uint64 `json:"gasUsed"`
	Error   string `json:"error,omitempty"`
	Revert  string `json:"revert,omitempty"`
}

// SimulationResult is the outcome of eth_callBundle.
type SimulationResult struct {
	BundleHash   string               `json:"bundleHash"`
	CoinbaseDiff string               `json:"coinbaseDiff"`
	TotalGasUsed uint64               `json:"totalGasUsed"`
	Results      []SimulationTxResult `json:"results"`
}

// FirstRevert returns the first failing transaction, if any.
func (r *SimulationResult) FirstRevert() (SimulationTxResult, bool) {
	for _, tx := range r.Results {
		if tx.Error != "" || tx.Revert != "" {
			return tx, true
		}
	}
	return SimulationTxResult{}, false
}

// Simulate runs the bundle against the latest state as if mined in target.
// A reverting transaction is reported as types.ErrSimulationReverted.
func (c *Client) Simulate(ctx context.Context, rawTxs [][]byte, target uint64) (*SimulationResult, error) {
	params := callBundleParams{
		Txs:              encodeTxs(rawTxs),
		BlockNumber:      hexutil.EncodeUint64(target),
		StateBlockNumber: "latest",
	}

	raw, err := c.call(ctx, "eth_callBundle", params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSimulationReverted, err)
	}

	var result SimulationResult
	err = json.Unmarshal(raw, &result)
	if err != nil {
		return nil, fmt.Errorf("unmarshal simulation: %w", err)
	}

	failed, reverted := result.FirstRevert()
	if reverted {
		reason := failed.Error
		if reason == "" {
			reason = failed.Revert
		}
		SimulationsTotal.WithLabelValues("reverted").Inc()
		return &result, fmt.Errorf("%w: tx %s: %s", types.ErrSimulationReverted, failed.TxHash, reason)
	}

	SimulationsTotal.WithLabelValues("ok").Inc()
	return &result, nil
}

// SendBundle submits the bundle for inclusion in target.
// The returned handle resolves once target has been mined.
func (c *Client) SendBundle(ctx context.Context, rawTxs [][]byte, target uint64) (types.Submission, error) {
	if len(rawTxs) == 0 {
		return nil, fmt.Errorf("%w: empty bundle", types.ErrRelayRejected)
	}

	params := sendBundleParams{
		Txs:         encodeTxs(rawTxs),
		BlockNumber: hexutil.EncodeUint64(target),
	}

	raw, err := c.call(ctx, "eth_sendBundle", params)
	if err != nil {
		BundlesSentTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %v", types.ErrRelayRejected, err)
	}

	var result struct {
		BundleHash string `json:"bundleHash"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Debug("bundle-result-decode-failed",
			zap.Uint64("target-block", target),
			zap.String("result", string(raw)),
			zap.Error(err))
	}

	BundlesSentTotal.WithLabelValues("accepted").Inc()

	c.logger.Debug("bundle-sent",
		zap.Uint64("target-block", target),
		zap.String("bundle-hash", result.BundleHash))

	return &submission{
		client:      c,
		target:      target,
		firstTxHash: crypto.Keccak256Hash(rawTxs[0]),
		bundleHash:  result.BundleHash,
	}, nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	start := time.Now()
	status := "error"
	defer func() {
		RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(method, status).Inc()
	}()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  []interface{}{params},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	signature, err := c.sign(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Flashbots-Signature", signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	err = json.Unmarshal(respBody, &rpcResp)
	if err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, fmt.Errorf("relay error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	status = "ok"
	return rpcResp.Result, nil
}

// sign builds the X-Flashbots-Signature header value for body.
func (c *Client) sign(body []byte) (string, error) {
	digest := hexutil.Encode(crypto.Keccak256(body))
	sig, err := crypto.Sign(accounts.TextHash([]byte(digest)), c.authKey)
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	return c.authAddress.Hex() + ":" + hexutil.Encode(sig), nil
}

func encodeTxs(rawTxs [][]byte) []string {
	out := make([]string, len(rawTxs))
	for i, raw := range rawTxs {
		out[i] = hexutil.Encode(raw)
	}
	return out
}

type submission struct {
	client      *Client
	target      uint64
	firstTxHash common.Hash
	bundleHash  string
}

// Wait polls the node until the target block is mined, then checks whether
// the bundle's first transaction landed in it.
func (s *submission) Wait(ctx context.Context) (types.Resolution, error) {
	ticker := time.NewTicker(s.client.pollInterval)
	defer ticker.Stop()

	for {
		head, err := s.client.chain.BlockNumber(ctx)
		if err == nil && head >= s.target {
			return s.resolve(ctx)
		}
		if err != nil {
			s.client.logger.Debug("bundle-wait-head-failed",
				zap.Uint64("target-block", s.target),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return types.ResolutionError, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *submission) resolve(ctx context.Context) (types.Resolution, error) {
	receipt, err := s.client.chain.TransactionReceipt(ctx, s.firstTxHash)
	if errors.Is(err, ethereum.NotFound) {
		BundleResolutionsTotal.WithLabelValues(string(types.ResolutionNotIncluded)).Inc()
		return types.ResolutionNotIncluded, nil
	}
	if err != nil {
		BundleResolutionsTotal.WithLabelValues(string(types.ResolutionError)).Inc()
		return types.ResolutionError, fmt.Errorf("receipt %s: %w", s.firstTxHash.Hex(), err)
	}

	if receipt.BlockNumber != nil && receipt.BlockNumber.Uint64() == s.target {
		BundleResolutionsTotal.WithLabelValues(string(types.ResolutionIncluded)).Inc()
		return types.ResolutionIncluded, nil
	}

	BundleResolutionsTotal.WithLabelValues(string(types.ResolutionNotIncluded)).Inc()
	return types.ResolutionNotIncluded, nil
}
