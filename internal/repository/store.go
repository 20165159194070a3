package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"custody-service/internal/domain"
)

// Store is the persistence boundary for the custody core. Postgres implements
// it for production; Memory implements identical semantics in-process for
// tests and local development.
//
// Every mutating method is a single atomic unit: it either applies completely
// or leaves no observable effect.
type Store interface {
	WalletStore
	AddressStore
	LedgerStore
	SecretStore
}

type WalletStore interface {
	// GetOrCreateWallet returns the user's wallet, creating it with a zero
	// balance on first access.
	GetOrCreateWallet(ctx context.Context, userID string) (*domain.Wallet, error)

	GetWallet(ctx context.Context, walletID string) (*domain.Wallet, error)

	GetWalletByUser(ctx context.Context, userID string) (*domain.Wallet, error)
}

type AddressStore interface {
	// CreateAddress persists a deposit address and allocates its
	// network-scoped derivation index in the same atomic unit. Returns
	// domain.ErrDuplicateAddress if the user already has an address on the
	// network. Indexes are never reused, even if the insert rolls back later
	// for unrelated reasons (gaps are fine).
	CreateAddress(ctx context.Context, addr *domain.DepositAddress) error

	GetAddress(ctx context.Context, id string) (*domain.DepositAddress, error)

	GetUserAddress(ctx context.Context, userID string, network domain.Network) (*domain.DepositAddress, error)

	// FindByAddress resolves a normalized on-chain address within a network.
	// Matching is case-insensitive for hex addresses.
	FindByAddress(ctx context.Context, network domain.Network, address string) (*domain.DepositAddress, error)

	// MarkKeyExported durably sets the key_exported audit flag. Reports
	// whether this call flipped it (false when already exported).
	MarkKeyExported(ctx context.Context, id string) (bool, error)
}

// CreditParams describes a confirmed deposit credit keyed by chain tx hash.
type CreditParams struct {
	WalletID     string
	AmountUSD    decimal.Decimal
	AmountCrypto decimal.Decimal
	Currency     string
	Network      domain.Network
	TxHash       string
	Metadata     map[string]any
}

// ReserveParams describes a withdrawal reservation: the balance is debited at
// request time and the transaction is left pending for the broadcaster.
type ReserveParams struct {
	WalletID    string
	AmountUSD   decimal.Decimal
	Currency    string
	Network     domain.Network
	Destination string
	Metadata    map[string]any
}

// UsageParams describes an atomic consumer-debit / counterparty-credit pair.
type UsageParams struct {
	ConsumerWalletID     string
	CounterpartyWalletID string
	AmountUSD            decimal.Decimal
	SplitRatio           decimal.Decimal
	Metadata             map[string]any
}

type LedgerStore interface {
	// CreditDeposit inserts a confirmed deposit transaction and increments
	// the wallet balance atomically. Idempotent on TxHash: when a transaction
	// with the hash already exists the existing row is returned with
	// created=false and nothing is mutated. The conflict is resolved by the
	// store's uniqueness guarantee, never by a check-then-insert.
	CreditDeposit(ctx context.Context, p CreditParams) (tx *domain.WalletTransaction, created bool, err error)

	// ReserveWithdrawal debits the balance and inserts a pending withdrawal
	// atomically, serialized against other mutations of the same wallet.
	// Returns domain.ErrInsufficientFunds without mutation if the balance
	// cannot cover the amount.
	ReserveWithdrawal(ctx context.Context, p ReserveParams) (*domain.WalletTransaction, error)

	// SettleWithdrawal moves a pending withdrawal to confirmed (no balance
	// change) or failed/cancelled (amount refunded to the wallet, linked
	// refund row recorded). Settling to the status the row already has is a
	// no-op; any other non-forward transition returns
	// domain.ErrInvalidTransition.
	SettleWithdrawal(ctx context.Context, txID string, outcome domain.TransactionStatus) (*domain.WalletTransaction, error)

	// ChargeUsage debits the consumer and credits the counterparty its split
	// in one atomic unit, recording two linked confirmed transactions.
	// Insufficient consumer funds mutate neither side.
	ChargeUsage(ctx context.Context, p UsageParams) (charge, earning *domain.WalletTransaction, err error)

	GetTransaction(ctx context.Context, id string) (*domain.WalletTransaction, error)

	ListTransactions(ctx context.Context, walletID string, limit int) ([]*domain.WalletTransaction, error)

	// ListPendingWithdrawals exposes the queue the out-of-band broadcaster
	// drains before calling SettleWithdrawal.
	ListPendingWithdrawals(ctx context.Context, limit int) ([]*domain.WalletTransaction, error)
}

type SecretStore interface {
	// GetNetworkSecret returns the webhook signing secret for a network, or
	// domain.ErrNotFound when none is configured.
	GetNetworkSecret(ctx context.Context, network domain.Network) (string, error)

	// UpsertNetworkSecret stores or replaces a network's signing secret.
	// Called at boot to sync env-configured secrets.
	UpsertNetworkSecret(ctx context.Context, network domain.Network, secret string) error
}
