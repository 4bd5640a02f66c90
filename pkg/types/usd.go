package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PriceBook maps token addresses to USD prices scaled by 1e18.
type PriceBook map[common.Address]*big.Int

// Resolve returns token with its price filled in, preferring the token's own price.
func (p PriceBook) Resolve(token Token) (Token, error) {
	if token.HasPrice() {
		return token, nil
	}
	if price, ok := p[token.Address]; ok && price != nil {
		token.PriceUSD = new(big.Int).Set(price)
		return token, nil
	}
	return token, fmt.Errorf("token %s: %w", token.Address.Hex(), ErrUnknownTokenPrice)
}

// Merge copies every entry of other into p, keeping existing entries.
func (p PriceBook) Merge(other map[common.Address]*big.Int) {
	for addr, price := range other {
		if _, ok := p[addr]; !ok && price != nil {
			p[addr] = new(big.Int).Set(price)
		}
	}
}

// ToUSD values amount base units of token in USD scaled by 1e18.
func ToUSD(amount *big.Int, token Token) (*big.Int, error) {
	if !token.HasPrice() {
		return nil, fmt.Errorf("token %s: %w", token.Address.Hex(), ErrUnknownTokenPrice)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(token.Decimals)), nil)
	out := new(big.Int).Mul(amount, token.PriceUSD)
	return out.Quo(out, scale), nil
}

// FormatUSD renders a 1e18-scaled USD amount for logs and reports.
func FormatUSD(wad *big.Int) string {
	if wad == nil {
		return ""
	}
	return decimal.NewFromBigInt(wad, -18).StringFixed(2)
}
