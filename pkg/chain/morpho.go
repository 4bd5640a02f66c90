package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/blue-liquidator/pkg/types"
)

const marketParamsComponents = `[
	{"name":"loanToken","type":"address"},
	{"name":"collateralToken","type":"address"},
	{"name":"oracle","type":"address"},
	{"name":"irm","type":"address"},
	{"name":"lltv","type":"uint256"}
]`

const marketComponents = `[
	{"name":"totalSupplyAssets","type":"uint128"},
	{"name":"totalSupplyShares","type":"uint128"},
	{"name":"totalBorrowAssets","type":"uint128"},
	{"name":"totalBorrowShares","type":"uint128"},
	{"name":"lastUpdate","type":"uint128"},
	{"name":"fee","type":"uint128"}
]`

//nolint:gochecknoglobals // Parsed once, read-only
var (
	morphoABI = mustParseABI(`[
		{"name":"liquidate","type":"function","stateMutability":"nonpayable",
		 "inputs":[{"name":"marketParams","type":"tuple","components":` + marketParamsComponents + `},
		           {"name":"borrower","type":"address"},
		           {"name":"seizedAssets","type":"uint256"},
		           {"name":"repaidShares","type":"uint256"},
		           {"name":"data","type":"bytes"}],
		 "outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
		{"name":"position","type":"function","stateMutability":"view",
		 "inputs":[{"name":"id","type":"bytes32"},{"name":"user","type":"address"}],
		 "outputs":[{"name":"supplyShares","type":"uint256"},{"name":"borrowShares","type":"uint128"},{"name":"collateral","type":"uint128"}]},
		{"name":"market","type":"function","stateMutability":"view",
		 "inputs":[{"name":"id","type":"bytes32"}],
		 "outputs":` + marketComponents + `},
		{"name":"idToMarketParams","type":"function","stateMutability":"view",
		 "inputs":[{"name":"id","type":"bytes32"}],
		 "outputs":` + marketParamsComponents + `}
	]`)

	oracleABI = mustParseABI(`[
		{"name":"price","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
	]`)

	irmABI = mustParseABI(`[
		{"name":"borrowRateView","type":"function","stateMutability":"view",
		 "inputs":[{"name":"marketParams","type":"tuple","components":` + marketParamsComponents + `},
		           {"name":"market","type":"tuple","components":` + marketComponents + `}],
		 "outputs":[{"name":"","type":"uint256"}]}
	]`)
)

type marketParamsTuple struct {
	LoanToken       common.Address
	CollateralToken common.Address
	Oracle          common.Address
	Irm             common.Address
	Lltv            *big.Int
}

type marketTuple struct {
	TotalSupplyAssets *big.Int
	TotalSupplyShares *big.Int
	TotalBorrowAssets *big.Int
	TotalBorrowShares *big.Int
	LastUpdate        *big.Int
	Fee               *big.Int
}

func toParamsTuple(p types.MarketParams) marketParamsTuple {
	return marketParamsTuple{
		LoanToken:       p.LoanToken,
		CollateralToken: p.CollateralToken,
		Oracle:          p.Oracle,
		Irm:             p.IRM,
		Lltv:            p.LLTV,
	}
}

// PackLiquidate encodes Morpho.liquidate.
func PackLiquidate(params types.MarketParams, borrower common.Address, seizedAssets, repaidShares *big.Int, data []byte) ([]byte, error) {
	if data == nil {
		data = []byte{}
	}
	packed, err := morphoABI.Pack("liquidate", toParamsTuple(params), borrower, seizedAssets, repaidShares, data)
	if err != nil {
		return nil, fmt.Errorf("pack liquidate: %w", err)
	}
	return packed, nil
}

// Morpho reads market and position state from the Morpho Blue singleton.
type Morpho struct {
	caller  ContractCaller
	address common.Address
}

// NewMorpho binds a reader to the Morpho contract at address.
func NewMorpho(caller ContractCaller, address common.Address) *Morpho {
	return &Morpho{caller: caller, address: address}
}

// Address returns the Morpho contract address.
func (m *Morpho) Address() common.Address {
	return m.address
}

// Position reads a borrower's position.
func (m *Morpho) Position(ctx context.Context, id types.MarketID, user common.Address) (types.Position, error) {
	out, err := call(ctx, m.caller, morphoABI, m.address, "position", [32]byte(id), user)
	if err != nil {
		return types.Position{}, err
	}

	values, err := bigInts(out, 3)
	if err != nil {
		return types.Position{}, fmt.Errorf("decode position: %w", err)
	}

	return types.Position{
		Owner:        user,
		MarketID:     id,
		SupplyShares: values[0],
		BorrowShares: values[1],
		Collateral:   values[2],
		LastUpdate:   time.Now(),
	}, nil
}

// Market reads market totals. Params, oracle price and rate are left for the caller.
func (m *Morpho) Market(ctx context.Context, id types.MarketID) (types.Market, error) {
	out, err := call(ctx, m.caller, morphoABI, m.address, "market", [32]byte(id))
	if err != nil {
		return types.Market{}, err
	}

	values, err := bigInts(out, 6)
	if err != nil {
		return types.Market{}, fmt.Errorf("decode market: %w", err)
	}

	return types.Market{
		ID:                id,
		TotalSupplyAssets: values[0],
		TotalSupplyShares: values[1],
		TotalBorrowAssets: values[2],
		TotalBorrowShares: values[3],
		LastUpdate:        time.Unix(values[4].Int64(), 0),
		Fee:               values[5],
	}, nil
}

// MarketParams reads the parameters of a market id.
func (m *Morpho) MarketParams(ctx context.Context, id types.MarketID) (types.MarketParams, error) {
	out, err := call(ctx, m.caller, morphoABI, m.address, "idToMarketParams", [32]byte(id))
	if err != nil {
		return types.MarketParams{}, err
	}

	if len(out) != 5 {
		return types.MarketParams{}, fmt.Errorf("decode market params: got %d values", len(out))
	}

	loan, okLoan := out[0].(common.Address)
	collateral, okCollateral := out[1].(common.Address)
	oracle, okOracle := out[2].(common.Address)
	irm, okIRM := out[3].(common.Address)
	lltv, okLLTV := out[4].(*big.Int)
	if !okLoan || !okCollateral || !okOracle || !okIRM || !okLLTV {
		return types.MarketParams{}, fmt.Errorf("decode market params: unexpected types")
	}

	return types.MarketParams{
		LoanToken:       loan,
		CollateralToken: collateral,
		Oracle:          oracle,
		IRM:             irm,
		LLTV:            lltv,
	}, nil
}

// OraclePrice reads the collateral price of a Morpho oracle, scaled by 1e36.
func OraclePrice(ctx context.Context, caller ContractCaller, oracle common.Address) (*big.Int, error) {
	out, err := call(ctx, caller, oracleABI, oracle, "price")
	if err != nil {
		return nil, err
	}

	values, err := bigInts(out, 1)
	if err != nil {
		return nil, fmt.Errorf("decode price: %w", err)
	}

	return values[0], nil
}

// BorrowRate reads the per-second borrow rate the IRM would apply to market.
func BorrowRate(ctx context.Context, caller ContractCaller, market types.Market) (*big.Int, error) {
	state := marketTuple{
		TotalSupplyAssets: market.TotalSupplyAssets,
		TotalSupplyShares: market.TotalSupplyShares,
		TotalBorrowAssets: market.TotalBorrowAssets,
		TotalBorrowShares: market.TotalBorrowShares,
		LastUpdate:        big.NewInt(market.LastUpdate.Unix()),
		Fee:               market.Fee,
	}

	out, err := call(ctx, caller, irmABI, market.Params.IRM, "borrowRateView", toParamsTuple(market.Params), state)
	if err != nil {
		return nil, err
	}

	values, err := bigInts(out, 1)
	if err != nil {
		return nil, fmt.Errorf("decode borrow rate: %w", err)
	}

	return values[0], nil
}

func call(
	ctx context.Context,
	caller ContractCaller,
	contract abi.ABI,
	to common.Address,
	method string,
	args ...interface{},
) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	result, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}

	out, err := contract.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}

	return out, nil
}

func bigInts(values []interface{}, want int) ([]*big.Int, error) {
	if len(values) != want {
		return nil, fmt.Errorf("expected %d values, got %d", want, len(values))
	}

	out := make([]*big.Int, want)
	for i, v := range values {
		n, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("value %d is %T", i, v)
		}
		out[i] = n
	}

	return out, nil
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse ABI: %v", err))
	}
	return parsed
}
