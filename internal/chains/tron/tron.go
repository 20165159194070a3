// Package tron implements TRON key generation: secp256k1 keypair, Keccak-256
// derivation as on EVM chains, then the 0x41-prefixed base58check encoding.
package tron

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"

	"custody-service/internal/domain"
)

type Chain struct{}

func New() *Chain {
	return &Chain{}
}

func (c *Chain) Network() domain.Network {
	return domain.NetworkTron
}

func (c *Chain) GenerateKeypair() (*domain.Keypair, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	privateKeyHex := hexutil.Encode(crypto.FromECDSA(privateKey))[2:]

	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key")
	}
	publicKeyHex := hexutil.Encode(crypto.FromECDSAPub(publicKeyECDSA))[2:]

	addr := address.PubkeyToAddress(*publicKeyECDSA)

	return &domain.Keypair{
		Address:    addr.String(),
		PublicKey:  publicKeyHex,
		PrivateKey: privateKeyHex,
	}, nil
}

func (c *Chain) ValidateAddress(addr string) error {
	if _, err := address.Base58ToAddress(addr); err != nil {
		return fmt.Errorf("%w: %q is not a valid tron address", domain.ErrInvalidAddressFormat, addr)
	}
	return nil
}

// NormalizeAddress trims only; base58 is case-sensitive.
func (c *Chain) NormalizeAddress(addr string) string {
	return strings.TrimSpace(addr)
}
