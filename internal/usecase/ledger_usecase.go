package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custody-service/internal/domain"
	"custody-service/internal/pub"
	"custody-service/internal/repository"
)

// LedgerUsecase funnels every balance mutation through the store's atomic
// operations and publishes an event for each committed one. It is the only
// component that moves money.
type LedgerUsecase struct {
	store     repository.LedgerStore
	publisher pub.Publisher
	logger    *zap.Logger
}

func NewLedgerUsecase(store repository.LedgerStore, publisher pub.Publisher, logger *zap.Logger) *LedgerUsecase {
	return &LedgerUsecase{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// Credit applies a confirmed deposit, idempotent on the chain tx hash.
// Duplicate deliveries return the original transaction and mutate nothing.
func (uc *LedgerUsecase) Credit(ctx context.Context, p repository.CreditParams) (*domain.WalletTransaction, bool, error) {
	if p.TxHash == "" {
		return nil, false, fmt.Errorf("credit requires a tx hash")
	}
	if !p.AmountUSD.IsPositive() {
		return nil, false, fmt.Errorf("credit amount must be positive, got %s", p.AmountUSD)
	}

	tx, created, err := uc.store.CreditDeposit(ctx, p)
	if err != nil {
		return nil, false, fmt.Errorf("failed to credit wallet %s: %w", p.WalletID, err)
	}

	if !created {
		uc.logger.Info("duplicate credit ignored",
			zap.String("tx_hash", p.TxHash),
			zap.String("transaction_id", tx.ID),
		)
		return tx, false, nil
	}

	uc.logger.Info("wallet credited",
		zap.String("wallet_id", tx.WalletID),
		zap.String("transaction_id", tx.ID),
		zap.String("amount_usd", tx.AmountUSD.String()),
		zap.String("tx_hash", p.TxHash),
	)

	uc.publish(ctx, pub.FromTransaction(pub.EventDepositCredited, tx))

	return tx, true, nil
}

// Reserve debits the wallet at request time and leaves the withdrawal pending
// for the out-of-band broadcaster.
func (uc *LedgerUsecase) Reserve(ctx context.Context, p repository.ReserveParams) (*domain.WalletTransaction, error) {
	if !p.AmountUSD.IsPositive() {
		return nil, fmt.Errorf("reserve amount must be positive, got %s", p.AmountUSD)
	}

	tx, err := uc.store.ReserveWithdrawal(ctx, p)
	if err != nil {
		return nil, err
	}

	uc.logger.Info("withdrawal reserved",
		zap.String("wallet_id", tx.WalletID),
		zap.String("transaction_id", tx.ID),
		zap.String("amount_usd", tx.AmountUSD.String()),
	)

	uc.publish(ctx, pub.FromTransaction(pub.EventWithdrawalRequested, tx))

	return tx, nil
}

// Settle resolves a pending withdrawal: confirmed keeps the earlier debit,
// failed/cancelled refunds it.
func (uc *LedgerUsecase) Settle(ctx context.Context, txID string, outcome domain.TransactionStatus) (*domain.WalletTransaction, error) {
	switch outcome {
	case domain.TransactionStatusConfirmed, domain.TransactionStatusFailed, domain.TransactionStatusCancelled:
	default:
		return nil, fmt.Errorf("cannot settle to %s: %w", outcome, domain.ErrInvalidTransition)
	}

	tx, err := uc.store.SettleWithdrawal(ctx, txID, outcome)
	if err != nil {
		return nil, err
	}

	uc.logger.Info("withdrawal settled",
		zap.String("transaction_id", tx.ID),
		zap.String("outcome", string(outcome)),
	)

	uc.publish(ctx, pub.FromTransaction(pub.EventWithdrawalSettled, tx))

	return tx, nil
}

// ChargeUsage debits a consumer wallet and credits the counterparty its split
// of the amount, all-or-nothing.
func (uc *LedgerUsecase) ChargeUsage(ctx context.Context, p repository.UsageParams) (*domain.WalletTransaction, *domain.WalletTransaction, error) {
	if !p.AmountUSD.IsPositive() {
		return nil, nil, fmt.Errorf("usage amount must be positive, got %s", p.AmountUSD)
	}
	if p.SplitRatio.IsNegative() || p.SplitRatio.GreaterThan(decimal.NewFromInt(1)) {
		return nil, nil, fmt.Errorf("split ratio must be within [0, 1], got %s", p.SplitRatio)
	}

	charge, earning, err := uc.store.ChargeUsage(ctx, p)
	if err != nil {
		return nil, nil, err
	}

	uc.logger.Info("usage charged",
		zap.String("consumer_wallet_id", charge.WalletID),
		zap.String("counterparty_wallet_id", earning.WalletID),
		zap.String("amount_usd", charge.AmountUSD.String()),
		zap.String("earning_usd", earning.AmountUSD.String()),
	)

	uc.publish(ctx, pub.FromTransaction(pub.EventUsageCharged, charge))

	return charge, earning, nil
}

// PendingWithdrawals is the queue the broadcaster drains.
func (uc *LedgerUsecase) PendingWithdrawals(ctx context.Context, limit int) ([]*domain.WalletTransaction, error) {
	return uc.store.ListPendingWithdrawals(ctx, limit)
}

func (uc *LedgerUsecase) publish(ctx context.Context, event *pub.LedgerEvent) {
	if err := uc.publisher.Publish(ctx, event); err != nil {
		// The mutation has committed; a lost event is not a lost transaction.
		uc.logger.Warn("failed to publish ledger event",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}
