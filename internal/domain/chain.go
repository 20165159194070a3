package domain

// Keypair is a freshly generated chain keypair. PrivateKey is hex encoded and
// only ever held in memory; persistence goes through the key vault.
type Keypair struct {
	Address    string
	PublicKey  string
	PrivateKey string
}

// Chain abstracts per-network key generation and address encoding.
// Implementations are pure and safe for concurrent use.
type Chain interface {
	// Network returns the network this chain serves.
	Network() Network

	// GenerateKeypair creates a new keypair with a chain-correct address.
	GenerateKeypair() (*Keypair, error)

	// ValidateAddress checks address format. Returns ErrInvalidAddressFormat
	// (possibly wrapped) on mismatch.
	ValidateAddress(address string) error

	// NormalizeAddress canonicalizes an address for case-insensitive lookup.
	NormalizeAddress(address string) string
}
