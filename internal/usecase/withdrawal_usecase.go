package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custody-service/internal/chains"
	"custody-service/internal/domain"
	"custody-service/internal/repository"
)

// WithdrawalUsecase validates payout requests and reserves funds. The actual
// on-chain broadcast happens out-of-band: a broadcaster drains
// PendingWithdrawals and settles each one.
type WithdrawalUsecase struct {
	store     repository.Store
	ledger    *LedgerUsecase
	registry  *chains.Registry
	minAmount decimal.Decimal
	logger    *zap.Logger
}

func NewWithdrawalUsecase(
	store repository.Store,
	ledger *LedgerUsecase,
	registry *chains.Registry,
	minAmount decimal.Decimal,
	logger *zap.Logger,
) *WithdrawalUsecase {
	return &WithdrawalUsecase{
		store:     store,
		ledger:    ledger,
		registry:  registry,
		minAmount: minAmount,
		logger:    logger,
	}
}

// WithdrawalRequest is a user-initiated payout.
type WithdrawalRequest struct {
	UserID    string
	Network   domain.Network
	Currency  string
	Address   string
	AmountUSD decimal.Decimal
}

// RequestWithdrawal validates the destination and amount, then reserves the
// funds. Validation failures happen strictly before the reservation so a
// rejected request has no side effects; an invalid destination address must
// never reach broadcast.
func (uc *WithdrawalUsecase) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*domain.WalletTransaction, error) {
	chain, err := uc.registry.Get(req.Network)
	if err != nil {
		return nil, err
	}

	if err := chain.ValidateAddress(req.Address); err != nil {
		return nil, err
	}

	if req.AmountUSD.LessThan(uc.minAmount) {
		return nil, fmt.Errorf("%w: minimum is $%s", domain.ErrBelowMinimum, uc.minAmount)
	}

	wallet, err := uc.store.GetOrCreateWallet(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	tx, err := uc.ledger.Reserve(ctx, repository.ReserveParams{
		WalletID:    wallet.ID,
		AmountUSD:   req.AmountUSD,
		Currency:    req.Currency,
		Network:     req.Network,
		Destination: chain.NormalizeAddress(req.Address),
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("withdrawal requested",
		zap.String("user_id", req.UserID),
		zap.String("network", string(req.Network)),
		zap.String("transaction_id", tx.ID),
		zap.String("amount_usd", tx.AmountUSD.String()),
	)

	return tx, nil
}

// Settle is the broadcaster's completion hook.
func (uc *WithdrawalUsecase) Settle(ctx context.Context, txID string, outcome domain.TransactionStatus) (*domain.WalletTransaction, error) {
	return uc.ledger.Settle(ctx, txID, outcome)
}

// PendingWithdrawals exposes the broadcast queue.
func (uc *WithdrawalUsecase) PendingWithdrawals(ctx context.Context, limit int) ([]*domain.WalletTransaction, error) {
	return uc.ledger.PendingWithdrawals(ctx, limit)
}
