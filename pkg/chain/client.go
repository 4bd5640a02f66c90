// Package chain wraps the EVM node and the contracts the liquidator talks to.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// ContractCaller executes read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// HeaderReader fetches block headers.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// Client is an instrumented go-ethereum RPC client.
type Client struct {
	eth    *ethclient.Client
	logger *zap.Logger
}

// Dial connects to the RPC endpoint.
func Dial(ctx context.Context, rpcURL string, logger *zap.Logger) (*Client, error) {
	if rpcURL == "" {
		return nil, errors.New("rpcURL cannot be empty")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}

	return &Client{
		eth:    eth,
		logger: logger,
	}, nil
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (id *big.Int, err error) {
	defer observe("chain_id", time.Now(), &err)
	return c.eth.ChainID(ctx)
}

// CallContract executes a read-only call.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) (out []byte, err error) {
	defer observe("call_contract", time.Now(), &err)
	return c.eth.CallContract(ctx, msg, blockNumber)
}

// EstimateGas estimates the gas a call would use.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (gas uint64, err error) {
	defer observe("estimate_gas", time.Now(), &err)
	return c.eth.EstimateGas(ctx, msg)
}

// HeaderByNumber returns a block header, the latest when number is nil.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (header *gethtypes.Header, err error) {
	defer observe("header_by_number", time.Now(), &err)
	return c.eth.HeaderByNumber(ctx, number)
}

// PendingNonceAt returns the next nonce for account including pending transactions.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (nonce uint64, err error) {
	defer observe("pending_nonce_at", time.Now(), &err)
	return c.eth.PendingNonceAt(ctx, account)
}

// BalanceAt returns the native balance of account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (balance *big.Int, err error) {
	defer observe("balance_at", time.Now(), &err)
	return c.eth.BalanceAt(ctx, account, blockNumber)
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (number uint64, err error) {
	defer observe("block_number", time.Now(), &err)
	return c.eth.BlockNumber(ctx)
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (receipt *gethtypes.Receipt, err error) {
	defer observe("transaction_receipt", time.Now(), &err)
	return c.eth.TransactionReceipt(ctx, hash)
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	c.logger.Info("chain-client-closing")
	c.eth.Close()
}

func observe(method string, start time.Time, err *error) {
	RPCDurationSeconds.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if *err != nil && !errors.Is(*err, ethereum.NotFound) {
		RPCErrorsTotal.WithLabelValues(method).Inc()
	}
}
