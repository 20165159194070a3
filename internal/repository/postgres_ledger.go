package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"custody-service/internal/domain"
)

// CreditDeposit inserts the deposit row and bumps the balance in one
// transaction. Idempotency rides on the tx_hash unique index: the insert is
// attempted first and a conflict means a concurrent or earlier delivery
// already credited this chain event.
func (s *Postgres) CreditDeposit(ctx context.Context, p CreditParams) (*domain.WalletTransaction, bool, error) {
	metadataRaw, err := marshalMetadata(p.Metadata)
	if err != nil {
		return nil, false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO wallet_transactions (
			id, wallet_id, user_id, transaction_type, status,
			amount_crypto, currency, network, amount_usd, tx_hash, metadata
		)
		SELECT $1, w.id, w.user_id, 'deposit', 'confirmed',
		       $3::numeric, $4, $5, $6::numeric, $7, $8
		FROM wallets w
		WHERE w.id = $2
		ON CONFLICT (tx_hash) WHERE tx_hash IS NOT NULL DO NOTHING
		RETURNING ` + transactionColumns

	inserted, err := scanTransaction(tx.QueryRow(
		ctx, insertQuery,
		uuid.New().String(),
		p.WalletID,
		p.AmountCrypto.String(),
		p.Currency,
		string(p.Network),
		p.AmountUSD.String(),
		p.TxHash,
		metadataRaw,
	))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("failed to insert deposit: %w", err)
		}

		// No row: tx_hash conflict, or the wallet does not exist.
		existingQuery := `SELECT ` + transactionColumns + ` FROM wallet_transactions WHERE tx_hash = $1`
		existing, err := scanTransaction(tx.QueryRow(ctx, existingQuery, p.TxHash))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("wallet %s: %w", p.WalletID, domain.ErrNotFound)
		}
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	balanceQuery := `
		UPDATE wallets
		SET balance_usd = balance_usd + $2::numeric, updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, balanceQuery, p.WalletID, p.AmountUSD.String()); err != nil {
		return nil, false, fmt.Errorf("failed to credit balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit credit: %w", err)
	}

	return inserted, true, nil
}

// ReserveWithdrawal debits the balance at request time. The wallet row lock
// serializes concurrent reservations so a stale balance check can never let
// two of them both pass.
func (s *Postgres) ReserveWithdrawal(ctx context.Context, p ReserveParams) (*domain.WalletTransaction, error) {
	meta := p.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	meta["destination"] = p.Destination

	metadataRaw, err := marshalMetadata(meta)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `
		SELECT id, user_id, balance_usd::text, created_at, updated_at
		FROM wallets
		WHERE id = $1
		FOR UPDATE
	`
	wallet, err := scanWallet(tx.QueryRow(ctx, lockQuery, p.WalletID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wallet %s: %w", p.WalletID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if wallet.BalanceUSD.LessThan(p.AmountUSD) {
		return nil, domain.ErrInsufficientFunds
	}

	debitQuery := `
		UPDATE wallets
		SET balance_usd = balance_usd - $2::numeric, updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, debitQuery, p.WalletID, p.AmountUSD.String()); err != nil {
		return nil, fmt.Errorf("failed to debit balance: %w", err)
	}

	insertQuery := `
		INSERT INTO wallet_transactions (
			id, wallet_id, user_id, transaction_type, status,
			currency, network, amount_usd, metadata
		) VALUES ($1, $2, $3, 'withdrawal', 'pending', $4, $5, $6::numeric, $7)
		RETURNING ` + transactionColumns

	withdrawal, err := scanTransaction(tx.QueryRow(
		ctx, insertQuery,
		uuid.New().String(),
		wallet.ID,
		wallet.UserID,
		p.Currency,
		string(p.Network),
		p.AmountUSD.String(),
		metadataRaw,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert withdrawal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	return withdrawal, nil
}

func (s *Postgres) SettleWithdrawal(ctx context.Context, txID string, outcome domain.TransactionStatus) (*domain.WalletTransaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + transactionColumns + ` FROM wallet_transactions WHERE id = $1 FOR UPDATE`

	withdrawal, err := scanTransaction(tx.QueryRow(ctx, lockQuery, txID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", txID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if withdrawal.Type != domain.TransactionTypeWithdrawal {
		return nil, fmt.Errorf("transaction %s is not a withdrawal: %w", txID, domain.ErrInvalidTransition)
	}
	if withdrawal.Status == outcome {
		return withdrawal, nil
	}
	if !withdrawal.Status.CanTransitionTo(outcome) {
		return nil, fmt.Errorf("%s -> %s: %w", withdrawal.Status, outcome, domain.ErrInvalidTransition)
	}

	updateQuery := `
		UPDATE wallet_transactions
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + transactionColumns

	updated, err := scanTransaction(tx.QueryRow(ctx, updateQuery, txID, string(outcome)))
	if err != nil {
		return nil, fmt.Errorf("failed to update withdrawal status: %w", err)
	}

	if outcome == domain.TransactionStatusFailed || outcome == domain.TransactionStatusCancelled {
		refundQuery := `
			UPDATE wallets
			SET balance_usd = balance_usd + $2::numeric, updated_at = now()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, refundQuery, updated.WalletID, updated.AmountUSD.String()); err != nil {
			return nil, fmt.Errorf("failed to refund balance: %w", err)
		}

		refundMeta, err := marshalMetadata(map[string]any{"refunds": updated.ID})
		if err != nil {
			return nil, err
		}

		refundInsert := `
			INSERT INTO wallet_transactions (
				id, wallet_id, user_id, transaction_type, status,
				currency, network, amount_usd, metadata
			) VALUES ($1, $2, $3, 'refund', 'confirmed', $4, $5, $6::numeric, $7)
		`
		_, err = tx.Exec(
			ctx, refundInsert,
			uuid.New().String(),
			updated.WalletID,
			updated.UserID,
			updated.Currency,
			string(updated.Network),
			updated.AmountUSD.String(),
			refundMeta,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert refund: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	return updated, nil
}

// ChargeUsage locks both wallet rows in id order regardless of which side is
// the consumer, so concurrent opposite-direction charges cannot deadlock.
func (s *Postgres) ChargeUsage(ctx context.Context, p UsageParams) (*domain.WalletTransaction, *domain.WalletTransaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `
		SELECT id, user_id, balance_usd::text, created_at, updated_at
		FROM wallets
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, lockQuery, []string{p.ConsumerWalletID, p.CounterpartyWalletID})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock wallets: %w", err)
	}

	locked := make(map[string]*domain.Wallet, 2)
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			rows.Close()
			return nil, nil, err
		}
		locked[w.ID] = w
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to lock wallets: %w", err)
	}

	consumer, ok := locked[p.ConsumerWalletID]
	if !ok {
		return nil, nil, fmt.Errorf("wallet %s: %w", p.ConsumerWalletID, domain.ErrNotFound)
	}
	counterparty, ok := locked[p.CounterpartyWalletID]
	if !ok {
		return nil, nil, fmt.Errorf("wallet %s: %w", p.CounterpartyWalletID, domain.ErrNotFound)
	}

	if consumer.BalanceUSD.LessThan(p.AmountUSD) {
		return nil, nil, domain.ErrInsufficientFunds
	}

	share := p.AmountUSD.Mul(p.SplitRatio).Round(8)
	chargeID := uuid.New().String()

	meta := p.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	meta["charge_id"] = chargeID

	chargeMeta, err := marshalMetadata(meta)
	if err != nil {
		return nil, nil, err
	}
	earningMeta, err := marshalMetadata(map[string]any{"charge_id": chargeID})
	if err != nil {
		return nil, nil, err
	}

	balanceQuery := `
		UPDATE wallets
		SET balance_usd = balance_usd + $2::numeric, updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, balanceQuery, consumer.ID, p.AmountUSD.Neg().String()); err != nil {
		return nil, nil, fmt.Errorf("failed to debit consumer: %w", err)
	}
	if _, err := tx.Exec(ctx, balanceQuery, counterparty.ID, share.String()); err != nil {
		return nil, nil, fmt.Errorf("failed to credit counterparty: %w", err)
	}

	insertQuery := `
		INSERT INTO wallet_transactions (
			id, wallet_id, user_id, transaction_type, status,
			currency, amount_usd, metadata
		) VALUES ($1, $2, $3, $4, 'confirmed', 'USD', $5::numeric, $6)
		RETURNING ` + transactionColumns

	charge, err := scanTransaction(tx.QueryRow(
		ctx, insertQuery,
		chargeID, consumer.ID, consumer.UserID,
		string(domain.TransactionTypeUsageCharge),
		p.AmountUSD.String(), chargeMeta,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert usage charge: %w", err)
	}

	earning, err := scanTransaction(tx.QueryRow(
		ctx, insertQuery,
		uuid.New().String(), counterparty.ID, counterparty.UserID,
		string(domain.TransactionTypeProviderEarning),
		share.String(), earningMeta,
	))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert provider earning: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit usage charge: %w", err)
	}

	return charge, earning, nil
}

func (s *Postgres) GetTransaction(ctx context.Context, id string) (*domain.WalletTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM wallet_transactions WHERE id = $1`

	t, err := scanTransaction(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	return t, err
}

func (s *Postgres) ListTransactions(ctx context.Context, walletID string, limit int) ([]*domain.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (s *Postgres) ListPendingWithdrawals(ctx context.Context, limit int) ([]*domain.WalletTransaction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE status = 'pending' AND transaction_type = 'withdrawal'
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending withdrawals: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]*domain.WalletTransaction, error) {
	var out []*domain.WalletTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return out, nil
}
