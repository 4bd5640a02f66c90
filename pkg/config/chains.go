package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ChainProfile captures per-chain capabilities and addresses.
// Components consult these flags instead of branching on chain ids.
type ChainProfile struct {
	ChainID       int64
	Name          string
	MorphoAddress common.Address
	WrappedNative common.Address
	RelayURL      string
	RPCURL        string

	// SupportsSwapAggregator enables the funding and disposal swaps.
	SupportsSwapAggregator bool
	// SupportsProfitabilityCheck applies the minimum profit threshold.
	SupportsProfitabilityCheck bool
	// RequirePrices makes an unknown token price fatal for a position.
	RequirePrices bool
}

//nolint:gochecknoglobals // Static chain table
var chainProfiles = map[int64]ChainProfile{
	1: {
		ChainID:                    1,
		Name:                       "mainnet",
		MorphoAddress:              common.HexToAddress("0xBBBBBbbBBb9cC5e90e3b3Af64bdAF62C37EEFFCb"),
		WrappedNative:              common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		RelayURL:                   "https://relay.flashbots.net",
		RPCURL:                     "https://eth.llamarpc.com",
		SupportsSwapAggregator:     true,
		SupportsProfitabilityCheck: true,
		RequirePrices:              true,
	},
	11155111: {
		ChainID:                    11155111,
		Name:                       "sepolia",
		MorphoAddress:              common.HexToAddress("0xd011EE229E7459ba1ddd22631eF7bF528d424A14"),
		WrappedNative:              common.HexToAddress("0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14"),
		RelayURL:                   "https://relay-sepolia.flashbots.net",
		RPCURL:                     "https://ethereum-sepolia-rpc.publicnode.com",
		SupportsSwapAggregator:     false,
		SupportsProfitabilityCheck: false,
		RequirePrices:              false,
	},
}

// ProfileForChain returns the profile registered for chainID.
func ProfileForChain(chainID int64) (ChainProfile, error) {
	profile, ok := chainProfiles[chainID]
	if !ok {
		return ChainProfile{}, fmt.Errorf("unsupported chain id %d", chainID)
	}
	return profile, nil
}
