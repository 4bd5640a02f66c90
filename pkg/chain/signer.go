package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeySigner signs transactions with a local private key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  gethtypes.Signer
	chainID *big.Int
}

// ParsePrivateKey decodes a hex private key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, errors.New("private key cannot be empty")
	}

	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return key, nil
}

// NewKeySigner creates a signer for chainID from a hex private key.
func NewKeySigner(hexKey string, chainID *big.Int) (*KeySigner, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("chain id must be positive")
	}

	key, err := ParsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}

	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  gethtypes.LatestSignerForChainID(chainID),
		chainID: new(big.Int).Set(chainID),
	}, nil
}

// Address returns the signing account.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer is bound to.
func (s *KeySigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs an unsigned transaction. The key is local so ctx is unused.
func (s *KeySigner) SignTx(_ context.Context, tx *gethtypes.Transaction) (*gethtypes.Transaction, error) {
	signed, err := gethtypes.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}

// PrivateKey exposes the key for relay request signing.
func (s *KeySigner) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}
