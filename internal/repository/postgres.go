package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"custody-service/internal/domain"
)

// Postgres implements Store on pgx/v5. All money mutations run inside a
// database transaction scoped to the wallet row.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ============================================================================
// WALLETS
// ============================================================================

func (s *Postgres) GetOrCreateWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	// Insert-first so two concurrent first accesses cannot create two rows.
	query := `
		INSERT INTO wallets (id, user_id, balance_usd)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, balance_usd::text, created_at, updated_at
	`

	row := s.pool.QueryRow(ctx, query, uuid.New().String(), userID)
	return scanWallet(row)
}

func (s *Postgres) GetWallet(ctx context.Context, walletID string) (*domain.Wallet, error) {
	query := `
		SELECT id, user_id, balance_usd::text, created_at, updated_at
		FROM wallets
		WHERE id = $1
	`

	w, err := scanWallet(s.pool.QueryRow(ctx, query, walletID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wallet %s: %w", walletID, domain.ErrNotFound)
	}
	return w, err
}

func (s *Postgres) GetWalletByUser(ctx context.Context, userID string) (*domain.Wallet, error) {
	query := `
		SELECT id, user_id, balance_usd::text, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
	`

	w, err := scanWallet(s.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wallet for user %s: %w", userID, domain.ErrNotFound)
	}
	return w, err
}

// ============================================================================
// SECRETS
// ============================================================================

func (s *Postgres) GetNetworkSecret(ctx context.Context, network domain.Network) (string, error) {
	query := `SELECT secret FROM network_secrets WHERE network = $1`

	var secret string
	err := s.pool.QueryRow(ctx, query, string(network)).Scan(&secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("signing secret for %s: %w", network, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get signing secret: %w", err)
	}
	return secret, nil
}

func (s *Postgres) UpsertNetworkSecret(ctx context.Context, network domain.Network, secret string) error {
	query := `
		INSERT INTO network_secrets (network, secret)
		VALUES ($1, $2)
		ON CONFLICT (network) DO UPDATE SET secret = EXCLUDED.secret
	`
	if _, err := s.pool.Exec(ctx, query, string(network), secret); err != nil {
		return fmt.Errorf("failed to upsert signing secret: %w", err)
	}
	return nil
}

// ============================================================================
// SCAN HELPERS
// ============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var (
		w          domain.Wallet
		balanceStr string
	)
	if err := row.Scan(&w.ID, &w.UserID, &balanceStr, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance %q: %w", balanceStr, err)
	}
	w.BalanceUSD = balance

	return &w, nil
}

const transactionColumns = `
	id, wallet_id, user_id, transaction_type, status,
	amount_crypto::text, currency, network, amount_usd::text,
	tx_hash, metadata, created_at, updated_at
`

func scanTransaction(row rowScanner) (*domain.WalletTransaction, error) {
	var (
		tx              domain.WalletTransaction
		amountCryptoStr *string
		amountUSDStr    string
		currency        *string
		network         *string
		metadataRaw     []byte
	)

	err := row.Scan(
		&tx.ID,
		&tx.WalletID,
		&tx.UserID,
		&tx.Type,
		&tx.Status,
		&amountCryptoStr,
		&currency,
		&network,
		&amountUSDStr,
		&tx.TxHash,
		&metadataRaw,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.AmountUSD, err = decimal.NewFromString(amountUSDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount_usd %q: %w", amountUSDStr, err)
	}
	if amountCryptoStr != nil {
		tx.AmountCrypto, err = decimal.NewFromString(*amountCryptoStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount_crypto %q: %w", *amountCryptoStr, err)
		}
	}
	if currency != nil {
		tx.Currency = *currency
	}
	if network != nil {
		tx.Network = domain.Network(*network)
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}

	return &tx, nil
}

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return raw, nil
}
