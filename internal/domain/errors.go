package domain

import "errors"

// Sentinel errors returned by the custody core. Handlers map these to
// structured error codes; anything else surfaces as a generic internal error.
var (
	// ErrInvalidSignature means the webhook body did not match its HMAC
	// signature. The request is rejected with no mutation.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrDuplicateAddress means a deposit address already exists for the
	// (user, network) pair. Callers treat this as a successful no-op and
	// return the existing address.
	ErrDuplicateAddress = errors.New("deposit address already exists")

	// ErrInsufficientFunds means a debit would drive the balance negative.
	// Neither side of the operation is mutated.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAddressFormat means a withdrawal destination does not match
	// the network's address encoding. Rejected before any reservation.
	ErrInvalidAddressFormat = errors.New("invalid address format")

	// ErrIntegrity means ciphertext failed authentication on decrypt. This is
	// a hard failure: no partial plaintext is ever returned.
	ErrIntegrity = errors.New("ciphertext integrity check failed")

	// ErrUnpriced means no USD price is known for a currency. A zero price is
	// never a valid trade value.
	ErrUnpriced = errors.New("currency has no usd price")

	// ErrBelowMinimum means a withdrawal amount is under the configured
	// minimum. Rejected before any reservation.
	ErrBelowMinimum = errors.New("amount below minimum withdrawal")

	// ErrInvalidTransition means a transaction status change would move
	// backwards (e.g. settling an already-confirmed withdrawal).
	ErrInvalidTransition = errors.New("invalid transaction status transition")

	ErrNotFound = errors.New("not found")
)
