package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionTypeDeposit         TransactionType = "deposit"
	TransactionTypeWithdrawal      TransactionType = "withdrawal"
	TransactionTypeUsageCharge     TransactionType = "usage_charge"
	TransactionTypeRefund          TransactionType = "refund"
	TransactionTypeProviderEarning TransactionType = "provider_earning"
)

// TransactionStatus is the lifecycle state of a ledger entry. Transitions
// only move forward: pending -> confirmed | failed | cancelled.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// CanTransitionTo reports whether a status change is a legal forward move.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if s != TransactionStatusPending {
		return false
	}
	switch next {
	case TransactionStatusConfirmed, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	}
	return false
}

// WalletTransaction is an immutable ledger entry. TxHash, when present,
// uniquely identifies a chain event: a second row with the same hash must
// never be created.
type WalletTransaction struct {
	ID           string
	WalletID     string
	UserID       string
	Type         TransactionType
	Status       TransactionStatus
	AmountCrypto decimal.Decimal
	Currency     string
	Network      Network
	AmountUSD    decimal.Decimal
	TxHash       *string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
