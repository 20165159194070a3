// Package evm implements key generation and address encoding shared by all
// EVM-compatible networks (Ethereum, Polygon, Base). Addresses are derived
// the real way: secp256k1 keypair, Keccak-256 of the public key, last 20
// bytes, EIP-55 checksum encoding.
package evm

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"custody-service/internal/domain"
)

type Chain struct {
	network domain.Network
}

// New creates an EVM chain for the given network. All EVM networks share the
// same derivation; only the network tag differs.
func New(network domain.Network) *Chain {
	return &Chain{network: network}
}

func (c *Chain) Network() domain.Network {
	return c.network
}

// GenerateKeypair creates a fresh secp256k1 keypair and its EIP-55 address.
func (c *Chain) GenerateKeypair() (*domain.Keypair, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	return keypairFromECDSA(privateKey)
}

func keypairFromECDSA(privateKey *ecdsa.PrivateKey) (*domain.Keypair, error) {
	privateKeyHex := hexutil.Encode(crypto.FromECDSA(privateKey))[2:]

	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key")
	}
	publicKeyHex := hexutil.Encode(crypto.FromECDSAPub(publicKeyECDSA))[2:]

	address := crypto.PubkeyToAddress(*publicKeyECDSA).Hex()

	return &domain.Keypair{
		Address:    address,
		PublicKey:  publicKeyHex,
		PrivateKey: privateKeyHex,
	}, nil
}

// AddressFromPrivateKey re-derives the address for a hex private key. Used to
// verify custody key material round-trips.
func AddressFromPrivateKey(privateKeyHex string) (string, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}

	kp, err := keypairFromECDSA(privateKey)
	if err != nil {
		return "", err
	}
	return kp.Address, nil
}

func (c *Chain) ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: %q is not a valid %s address", domain.ErrInvalidAddressFormat, address, c.network)
	}
	return nil
}

// NormalizeAddress lowercases hex addresses so webhook lookups are
// case-insensitive regardless of EIP-55 checksumming.
func (c *Chain) NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
