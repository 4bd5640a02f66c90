package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Backend is the node surface the wallet client reads from.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client reads balances, allowances and token metadata.
type Client struct {
	backend      Backend
	fundingToken common.Address
	logger       *zap.Logger
}

// Balances holds the balances that matter for running liquidations.
type Balances struct {
	Native  *big.Int // in wei
	Funding *big.Int // in funding token base units
}

// NewClient creates a new wallet client.
func NewClient(backend Backend, fundingToken common.Address, logger *zap.Logger) (c *Client, err error) {
	if backend == nil {
		return nil, errors.New("backend cannot be nil")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	client := &Client{
		backend:      backend,
		fundingToken: fundingToken,
		logger:       logger,
	}

	return client, nil
}

// GetBalances fetches the native and funding token balances of address.
func (c *Client) GetBalances(ctx context.Context, address common.Address) (balances *Balances, err error) {
	native, err := c.backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("get native balance: %w", err)
	}

	funding := new(big.Int)
	if c.fundingToken != (common.Address{}) {
		funding, err = c.TokenBalance(ctx, c.fundingToken, address)
		if err != nil {
			return nil, fmt.Errorf("get funding balance: %w", err)
		}
	}

	balances = &Balances{
		Native:  native,
		Funding: funding,
	}

	return balances, nil
}

// TokenBalance fetches the ERC20 balance of owner.
func (c *Client) TokenBalance(ctx context.Context, token common.Address, owner common.Address) (balance *big.Int, err error) {
	out, err := c.call(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}

	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", out[0])
	}

	return balance, nil
}

// Allowance fetches the ERC20 allowance granted by owner to spender.
func (c *Client) Allowance(
	ctx context.Context,
	token common.Address,
	owner common.Address,
	spender common.Address,
) (allowance *big.Int, err error) {
	out, err := c.call(ctx, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}

	allowance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("allowance returned %T", out[0])
	}

	return allowance, nil
}

// TokenMetadata fetches decimals and symbol of an ERC20 token.
func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (decimals uint8, symbol string, err error) {
	out, err := c.call(ctx, token, "decimals")
	if err != nil {
		return 0, "", err
	}

	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, "", fmt.Errorf("decimals returned %T", out[0])
	}

	out, err = c.call(ctx, token, "symbol")
	if err != nil {
		// Some tokens encode symbol as bytes32; the address is a usable label.
		c.logger.Debug("token-symbol-unavailable",
			zap.String("token", token.Hex()),
			zap.Error(err))
		return decimals, token.Hex(), nil
	}

	symbol, _ = out[0].(string)

	return decimals, symbol, nil
}

func (c *Client) call(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, token.Hex(), err)
	}

	out, err := erc20ABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}

	return out, nil
}
