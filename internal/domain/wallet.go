package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a user's USD balance. One wallet per user, created lazily on
// first access. The ledger is the only writer of BalanceUSD.
type Wallet struct {
	ID         string
	UserID     string
	BalanceUSD decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DepositAddress is a blockchain receive address provisioned for one user on
// one network. Immutable once created: webhooks reference it by address.
type DepositAddress struct {
	ID                  string
	UserID              string
	WalletID            string
	Network             Network
	Address             string
	EncryptedPrivateKey string
	DerivationIndex     int64
	KeyExported         bool
	CreatedAt           time.Time
}
