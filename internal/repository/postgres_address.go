package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"custody-service/internal/domain"
)

// CreateAddress allocates the network's next derivation index and inserts the
// address row in one transaction: a rolled-back insert never leaves a
// half-applied counter bump behind, and a committed counter bump without its
// address row cannot be observed.
func (s *Postgres) CreateAddress(ctx context.Context, addr *domain.DepositAddress) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	counterQuery := `
		INSERT INTO derivation_counters (network, next_index)
		VALUES ($1, 1)
		ON CONFLICT (network) DO UPDATE SET next_index = derivation_counters.next_index + 1
		RETURNING next_index - 1
	`

	var derivationIndex int64
	if err := tx.QueryRow(ctx, counterQuery, string(addr.Network)).Scan(&derivationIndex); err != nil {
		return fmt.Errorf("failed to allocate derivation index: %w", err)
	}

	insertQuery := `
		INSERT INTO deposit_addresses (
			id, user_id, wallet_id, network, address,
			encrypted_private_key, derivation_index, key_exported
		) VALUES ($1, $2, $3, $4, $5, $6, $7, false)
		RETURNING created_at
	`

	id := uuid.New().String()
	err = tx.QueryRow(
		ctx, insertQuery,
		id,
		addr.UserID,
		addr.WalletID,
		string(addr.Network),
		addr.Address,
		addr.EncryptedPrivateKey,
		derivationIndex,
	).Scan(&addr.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateAddress
		}
		return fmt.Errorf("failed to insert deposit address: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit deposit address: %w", err)
	}

	addr.ID = id
	addr.DerivationIndex = derivationIndex
	addr.KeyExported = false
	return nil
}

const addressColumns = `
	id, user_id, wallet_id, network, address,
	encrypted_private_key, derivation_index, key_exported, created_at
`

func scanDepositAddress(row rowScanner) (*domain.DepositAddress, error) {
	var a domain.DepositAddress
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.WalletID,
		&a.Network,
		&a.Address,
		&a.EncryptedPrivateKey,
		&a.DerivationIndex,
		&a.KeyExported,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan deposit address: %w", err)
	}
	return &a, nil
}

func (s *Postgres) GetAddress(ctx context.Context, id string) (*domain.DepositAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM deposit_addresses WHERE id = $1`

	a, err := scanDepositAddress(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("deposit address %s: %w", id, domain.ErrNotFound)
	}
	return a, err
}

func (s *Postgres) GetUserAddress(ctx context.Context, userID string, network domain.Network) (*domain.DepositAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM deposit_addresses WHERE user_id = $1 AND network = $2`

	a, err := scanDepositAddress(s.pool.QueryRow(ctx, query, userID, string(network)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("deposit address for user %s on %s: %w", userID, network, domain.ErrNotFound)
	}
	return a, err
}

func (s *Postgres) FindByAddress(ctx context.Context, network domain.Network, address string) (*domain.DepositAddress, error) {
	query := `
		SELECT ` + addressColumns + `
		FROM deposit_addresses
		WHERE network = $1 AND lower(address) = lower($2)
	`

	a, err := scanDepositAddress(s.pool.QueryRow(ctx, query, string(network), address))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("address %s on %s: %w", address, network, domain.ErrNotFound)
	}
	return a, err
}

func (s *Postgres) MarkKeyExported(ctx context.Context, id string) (bool, error) {
	// key_exported = false in the predicate makes the flip exactly-once under
	// concurrent exports.
	query := `
		UPDATE deposit_addresses
		SET key_exported = true
		WHERE id = $1 AND key_exported = false
	`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark key exported: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either already exported or unknown id; disambiguate for callers.
		if _, err := s.GetAddress(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
