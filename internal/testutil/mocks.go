package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/mselser95/blue-liquidator/pkg/flashbots"
	"github.com/mselser95/blue-liquidator/pkg/types"
)

// TestPrivateKey is the first well-known development account key.
const TestPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// ERC20 selectors decoded by MockChain.
const (
	selectorBalanceOf = "70a08231"
	selectorAllowance = "dd62ed3e"
	selectorDecimals  = "313ce567"
	selectorSymbol    = "95d89b41"
)

type tokenMeta struct {
	decimals uint8
	symbol   string
}

// MockChain is an in-memory node: ERC20 reads, gas estimates, headers,
// nonces and receipts.
type MockChain struct {
	mu sync.Mutex

	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[[2]common.Address]*big.Int
	metadata   map[common.Address]tokenMeta
	responses  map[common.Address]map[string][]byte

	Native  *big.Int
	Head    uint64
	BaseFee *big.Int
	Nonce   uint64

	// GasEstimates maps a target address to its estimate. Missing targets use DefaultGas.
	GasEstimates map[common.Address]uint64
	DefaultGas   uint64
	EstimateErr  error

	CallErr   error
	HeaderErr error
	Receipts  map[common.Hash]*gethtypes.Receipt

	calls int
}

// NewMockChain creates a node at block 100 with a 1 gwei base fee.
func NewMockChain() *MockChain {
	return &MockChain{
		balances:     make(map[common.Address]map[common.Address]*big.Int),
		allowances:   make(map[common.Address]map[[2]common.Address]*big.Int),
		metadata:     make(map[common.Address]tokenMeta),
		responses:    make(map[common.Address]map[string][]byte),
		Native:       Big("1000000000000000000"),
		Head:         100,
		BaseFee:      big.NewInt(1_000_000_000),
		GasEstimates: make(map[common.Address]uint64),
		DefaultGas:   100_000,
		Receipts:     make(map[common.Hash]*gethtypes.Receipt),
	}
}

// SetBalance sets the ERC20 balance of owner.
func (m *MockChain) SetBalance(token, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[token] == nil {
		m.balances[token] = make(map[common.Address]*big.Int)
	}
	m.balances[token][owner] = amount
}

// SetAllowance sets the ERC20 allowance owner grants spender.
func (m *MockChain) SetAllowance(token, owner, spender common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowances[token] == nil {
		m.allowances[token] = make(map[[2]common.Address]*big.Int)
	}
	m.allowances[token][[2]common.Address{owner, spender}] = amount
}

// SetMetadata sets the decimals and symbol a token reports.
func (m *MockChain) SetMetadata(token common.Address, decimals uint8, symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[token] = tokenMeta{decimals: decimals, symbol: symbol}
}

// SetCallResponse returns raw for any call to contract whose selector matches.
func (m *MockChain) SetCallResponse(contract common.Address, selector string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responses[contract] == nil {
		m.responses[contract] = make(map[string][]byte)
	}
	m.responses[contract][selector] = raw
}

// Calls returns the number of CallContract invocations.
func (m *MockChain) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// CallContract serves canned responses first, then the ERC20 reads.
func (m *MockChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.CallErr != nil {
		return nil, m.CallErr
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("mock chain: malformed call")
	}

	to := *msg.To
	selector := common.Bytes2Hex(msg.Data[:4])
	args := msg.Data[4:]

	if raw, ok := m.responses[to][selector]; ok {
		return raw, nil
	}

	switch selector {
	case selectorBalanceOf:
		owner := common.BytesToAddress(word(args, 0))
		return encodeUint(m.balances[to][owner]), nil
	case selectorAllowance:
		owner := common.BytesToAddress(word(args, 0))
		spender := common.BytesToAddress(word(args, 1))
		return encodeUint(m.allowances[to][[2]common.Address{owner, spender}]), nil
	case selectorDecimals:
		meta, ok := m.metadata[to]
		if !ok {
			return nil, fmt.Errorf("mock chain: no metadata for %s", to.Hex())
		}
		return encodeUint(big.NewInt(int64(meta.decimals))), nil
	case selectorSymbol:
		meta, ok := m.metadata[to]
		if !ok {
			return nil, fmt.Errorf("mock chain: no metadata for %s", to.Hex())
		}
		return encodeString(meta.symbol), nil
	}

	return nil, fmt.Errorf("mock chain: no response for %s on %s", selector, to.Hex())
}

// EstimateGas returns the estimate registered for the call target.
func (m *MockChain) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.EstimateErr != nil {
		return 0, m.EstimateErr
	}
	if msg.To != nil {
		if gas, ok := m.GasEstimates[*msg.To]; ok {
			return gas, nil
		}
	}
	return m.DefaultGas, nil
}

// HeaderByNumber returns the head header.
func (m *MockChain) HeaderByNumber(_ context.Context, _ *big.Int) (*gethtypes.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.HeaderErr != nil {
		return nil, m.HeaderErr
	}

	var baseFee *big.Int
	if m.BaseFee != nil {
		baseFee = new(big.Int).Set(m.BaseFee)
	}
	return &gethtypes.Header{
		Number:  new(big.Int).SetUint64(m.Head),
		BaseFee: baseFee,
		Time:    uint64(time.Now().Unix()),
	}, nil
}

// PendingNonceAt returns Nonce.
func (m *MockChain) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Nonce, nil
}

// BalanceAt returns Native.
func (m *MockChain) BalanceAt(_ context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.Native), nil
}

// BlockNumber returns Head.
func (m *MockChain) BlockNumber(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Head, nil
}

// TransactionReceipt returns a registered receipt or ethereum.NotFound.
func (m *MockChain) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	receipt, ok := m.Receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func word(args []byte, i int) []byte {
	start := i * 32
	if len(args) < start+32 {
		return nil
	}
	return args[start : start+32]
}

func encodeUint(v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	return common.LeftPadBytes(v.Bytes(), 32)
}

func encodeString(s string) []byte {
	out := encodeUint(big.NewInt(32))
	out = append(out, encodeUint(big.NewInt(int64(len(s))))...)
	padded := make([]byte, (len(s)+31)/32*32)
	copy(padded, s)
	return append(out, padded...)
}

type pair struct {
	src  common.Address
	dest common.Address
}

// MockAggregator is an in-memory swap aggregator.
type MockAggregator struct {
	mu sync.Mutex

	sellOutputs map[pair]*big.Int
	buyInputs   map[pair]*big.Int
	quoteCalls  []types.QuoteRequest
	buildCalls  []*types.SwapQuote

	Spender  common.Address
	Router   common.Address
	QuoteErr error
	BuildErr error
}

// NewMockAggregator creates an aggregator with no routes.
func NewMockAggregator() *MockAggregator {
	return &MockAggregator{
		sellOutputs: make(map[pair]*big.Int),
		buyInputs:   make(map[pair]*big.Int),
		Spender:     SpenderAddr,
		Router:      RouterAddress,
	}
}

// SetSellOutput sets what selling src for dest returns.
func (a *MockAggregator) SetSellOutput(src, dest common.Address, out *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sellOutputs[pair{src, dest}] = out
}

// SetBuyInput sets what buying dest with src costs.
func (a *MockAggregator) SetBuyInput(src, dest common.Address, in *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buyInputs[pair{src, dest}] = in
}

// QuoteCalls returns the recorded quote requests.
func (a *MockAggregator) QuoteCalls() []types.QuoteRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.QuoteRequest(nil), a.quoteCalls...)
}

// BuildCalls returns the number of BuildTx invocations.
func (a *MockAggregator) BuildCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buildCalls)
}

// Quote serves the registered route for the request's pair and side.
func (a *MockAggregator) Quote(_ context.Context, req types.QuoteRequest) (*types.SwapQuote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quoteCalls = append(a.quoteCalls, req)

	if a.QuoteErr != nil {
		return nil, a.QuoteErr
	}

	key := pair{req.SrcToken.Address, req.DestToken.Address}
	quote := &types.SwapQuote{
		SrcToken:  req.SrcToken,
		DestToken: req.DestToken,
		Side:      req.Side,
		Spender:   a.Spender,
	}

	switch req.Side {
	case types.SideSell:
		out, ok := a.sellOutputs[key]
		if !ok {
			return nil, fmt.Errorf("%w: no sell route %s->%s", types.ErrQuoteUnavailable, req.SrcToken.Symbol, req.DestToken.Symbol)
		}
		quote.SrcAmount = new(big.Int).Set(req.Amount)
		quote.DestAmount = new(big.Int).Set(out)
	case types.SideBuy:
		in, ok := a.buyInputs[key]
		if !ok {
			return nil, fmt.Errorf("%w: no buy route %s->%s", types.ErrQuoteUnavailable, req.SrcToken.Symbol, req.DestToken.Symbol)
		}
		quote.SrcAmount = new(big.Int).Set(in)
		quote.DestAmount = new(big.Int).Set(req.Amount)
	}

	return quote, nil
}

// BuildTx returns a router call tagged with the quote's source token.
func (a *MockAggregator) BuildTx(_ context.Context, quote *types.SwapQuote, _ common.Address, _ int) (*types.SwapTx, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buildCalls = append(a.buildCalls, quote)

	if a.BuildErr != nil {
		return nil, a.BuildErr
	}

	return &types.SwapTx{
		To:    a.Router,
		Data:  append([]byte{0x5a}, quote.SrcToken.Address.Bytes()...),
		Value: new(big.Int),
	}, nil
}

// MockSubmission resolves after Delay unless ctx ends first.
type MockSubmission struct {
	Resolution types.Resolution
	Err        error
	Delay      time.Duration
}

// Wait blocks for Delay and returns the canned resolution.
func (s *MockSubmission) Wait(ctx context.Context) (types.Resolution, error) {
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return types.ResolutionError, ctx.Err()
	case <-timer.C:
		return s.Resolution, s.Err
	}
}

// MockRelay is an in-memory bundle relay.
type MockRelay struct {
	mu sync.Mutex

	// SimulateErr fails simulation outright.
	SimulateErr error
	// Revert makes simulation report a reverting transaction.
	Revert string

	// Resolutions per target block. Missing targets are not included.
	Resolutions map[uint64]types.Resolution
	// Rejections per target block.
	Rejections map[uint64]error
	// Delays per target block before the submission resolves.
	Delays map[uint64]time.Duration

	simulated [][]byte
	targets   []uint64
}

// NewMockRelay creates a relay that never includes anything.
func NewMockRelay() *MockRelay {
	return &MockRelay{
		Resolutions: make(map[uint64]types.Resolution),
		Rejections:  make(map[uint64]error),
		Delays:      make(map[uint64]time.Duration),
	}
}

// Simulate records the bundle and returns the configured outcome.
func (r *MockRelay) Simulate(_ context.Context, rawTxs [][]byte, _ uint64) (*flashbots.SimulationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.simulated = rawTxs

	if r.SimulateErr != nil {
		return nil, r.SimulateErr
	}

	result := &flashbots.SimulationResult{}
	for range rawTxs {
		result.Results = append(result.Results, flashbots.SimulationTxResult{GasUsed: 21_000})
	}

	if r.Revert != "" {
		result.Results[len(result.Results)-1].Revert = r.Revert
		return result, fmt.Errorf("%w: %s", types.ErrSimulationReverted, r.Revert)
	}

	return result, nil
}

// SendBundle records the target and returns a canned submission.
func (r *MockRelay) SendBundle(_ context.Context, _ [][]byte, target uint64) (types.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)

	if err, ok := r.Rejections[target]; ok {
		return nil, err
	}

	resolution, ok := r.Resolutions[target]
	if !ok {
		resolution = types.ResolutionNotIncluded
	}

	return &MockSubmission{Resolution: resolution, Delay: r.Delays[target]}, nil
}

// Simulated returns the raw transactions of the last simulation.
func (r *MockRelay) Simulated() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.simulated
}

// Targets returns every target block a bundle was sent for.
func (r *MockRelay) Targets() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.targets...)
}

// MockStorage records results in memory.
type MockStorage struct {
	mu      sync.Mutex
	results []types.PositionResult
	cycles  []string

	Err error
}

// StoreResult appends result.
func (s *MockStorage) StoreResult(_ context.Context, cycleID string, result *types.PositionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.results = append(s.results, *result)
	s.cycles = append(s.cycles, cycleID)
	return nil
}

// Close is a no-op.
func (s *MockStorage) Close() error {
	return nil
}

// Results returns the stored results.
func (s *MockStorage) Results() []types.PositionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.PositionResult(nil), s.results...)
}
