// Package solana implements Solana key generation: an ed25519 keypair whose
// address is the base58-encoded public key.
package solana

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"

	"custody-service/internal/domain"
)

type Chain struct{}

func New() *Chain {
	return &Chain{}
}

func (c *Chain) Network() domain.Network {
	return domain.NetworkSolana
}

func (c *Chain) GenerateKeypair() (*domain.Keypair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 keypair: %w", err)
	}

	// Solana convention: the secret key is the full 64-byte ed25519 private
	// key (seed || public key).
	return &domain.Keypair{
		Address:    base58.Encode(publicKey),
		PublicKey:  hex.EncodeToString(publicKey),
		PrivateKey: hex.EncodeToString(privateKey),
	}, nil
}

func (c *Chain) ValidateAddress(addr string) error {
	decoded := base58.Decode(addr)
	if len(decoded) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: %q is not a valid solana address", domain.ErrInvalidAddressFormat, addr)
	}
	return nil
}

// NormalizeAddress trims only; base58 is case-sensitive.
func (c *Chain) NormalizeAddress(addr string) string {
	return strings.TrimSpace(addr)
}
