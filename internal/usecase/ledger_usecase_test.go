package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"custody-service/internal/domain"
	"custody-service/internal/pub"
	"custody-service/internal/repository"
)

func newLedgerFixture(t *testing.T) (*LedgerUsecase, *repository.Memory) {
	t.Helper()
	store := repository.NewMemory()
	return NewLedgerUsecase(store, pub.NoopPublisher{}, zap.NewNop()), store
}

func fundWallet(t *testing.T, store *repository.Memory, ledger *LedgerUsecase, userID, amount string) *domain.Wallet {
	t.Helper()
	ctx := context.Background()

	wallet, err := store.GetOrCreateWallet(ctx, userID)
	require.NoError(t, err)

	_, _, err = ledger.Credit(ctx, repository.CreditParams{
		WalletID:     wallet.ID,
		AmountUSD:    decimal.RequireFromString(amount),
		AmountCrypto: decimal.RequireFromString(amount),
		Currency:     "USDC",
		Network:      domain.NetworkPolygon,
		TxHash:       "0xfund-" + userID,
	})
	require.NoError(t, err)

	wallet, err = store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	return wallet
}

func TestCreditIdempotentOnTxHash(t *testing.T) {
	ctx := context.Background()
	ledger, store := newLedgerFixture(t)

	wallet, err := store.GetOrCreateWallet(ctx, "user-1")
	require.NoError(t, err)

	params := repository.CreditParams{
		WalletID:     wallet.ID,
		AmountUSD:    decimal.RequireFromString("100"),
		AmountCrypto: decimal.RequireFromString("100"),
		Currency:     "USDT",
		Network:      domain.NetworkPolygon,
		TxHash:       "0xabc",
	}

	first, created, err := ledger.Credit(ctx, params)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := ledger.Credit(ctx, params)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	wallet, err = store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, wallet.BalanceUSD.Equal(decimal.RequireFromString("100")),
		"balance credited twice: %s", wallet.BalanceUSD)
}

func TestCreditConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	ledger, store := newLedgerFixture(t)

	wallet, err := store.GetOrCreateWallet(ctx, "user-1")
	require.NoError(t, err)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		createdCount int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := ledger.Credit(ctx, repository.CreditParams{
				WalletID:  wallet.ID,
				AmountUSD: decimal.RequireFromString("50"),
				Currency:  "ETH",
				Network:   domain.NetworkEthereum,
				TxHash:    "0xsame-hash",
			})
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)

	wallet, err = store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, wallet.BalanceUSD.Equal(decimal.RequireFromString("50")))
}

func TestCreditValidation(t *testing.T) {
	ctx := context.Background()
	ledger, store := newLedgerFixture(t)

	wallet, err := store.GetOrCreateWallet(ctx, "user-1")
	require.NoError(t, err)

	t.Run("requires tx hash", func(t *testing.T) {
		_, _, err := ledger.Credit(ctx, repository.CreditParams{
			WalletID:  wallet.ID,
			AmountUSD: decimal.NewFromInt(10),
		})
		assert.Error(t, err)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		_, _, err := ledger.Credit(ctx, repository.CreditParams{
			WalletID:  wallet.ID,
			AmountUSD: decimal.Zero,
			TxHash:    "0xzero",
		})
		assert.Error(t, err)
	})
}

func TestReserveInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	ledger, store := newLedgerFixture(t)
	wallet := fundWallet(t, store, ledger, "user-1", "30")

	_, err := ledger.Reserve(ctx, repository.ReserveParams{
		WalletID:    wallet.ID,
		AmountUSD:   decimal.RequireFromString("30.01"),
		Currency:    "USDC",
		Network:     domain.NetworkPolygon,
		Destination: "0xdest",
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// A rejected reservation leaves the balance untouched.
	wallet, err = store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, wallet.BalanceUSD.Equal(decimal.RequireFromString("30")))
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	ledger, store := newLedgerFixture(t)
	wallet := fundWallet(t, store, ledger, "user-1", "100")

	// 25 concurrent $10 reserves against a $100 balance: exactly 10 may win.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(ctx, repository.ReserveParams{
				WalletID:    wallet.ID,
				AmountUSD:   decimal.NewFromInt(10),
				Currency:    "USDC",
				Network:     domain.NetworkPolygon,
				Destination: "0xdest",
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)

	wallet, err := store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, wallet.BalanceUSD.IsZero(), "balance %s", wallet.BalanceUSD)
}

func TestSettleConfirmedKeepsDebit(t *testing.T) {
	ctx := context.Background()
	ledger, store := newLedgerFixture(t)
	wallet := fundWallet(t, store, ledger, "user-1", "100")

	tx, err := ledger.Reserve(ctx, repository.ReserveParams{
		WalletID:    wallet.ID,
		AmountUSD:   decimal.NewFromInt(40),
		Currency:    "USDC",
		Network:     domain.NetworkPolygon,
		Destination: "0xdest",
	})
	require.NoError(t, err)

	settled, err := ledger.Settle(ctx, tx.ID, domain.TransactionStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusConfirmed, settled.Status)

	wallet, err = store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, wallet.BalanceUSD.Equal(decimal.NewFromInt(60)))
}

func TestSettleFailedRefunds(t *testing.T) {
	ctx := context.Background()
	ledger, store := newLedgerFixture(t)
	wallet := fundWallet(t, store, ledger, "user-1", "100")

	tx, err := ledger.Reserve(ctx, repository.ReserveParams{
		WalletID:    wallet.ID,
		AmountUSD:   decimal.NewFromInt(40),
		Currency:    "USDC",
		Network:     domain.NetworkPolygon,
		Destination: "0xdest",
	})
	require.NoError(t, err)

	_, err = ledger.Settle(ctx, tx.ID, domain.TransactionStatusFailed)
	require.NoError(t, err)

	wallet, err = store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, wallet.BalanceUSD.Equal(decimal.NewFromInt(100)), "refund missing: %s", wallet.BalanceUSD)

	// A linked refund row is recorded.
	txs, err := store.ListTransactions(ctx, wallet.ID, 0)
	require.NoError(t, err)

	var refund *domain.WalletTransaction
	for _, entry := range txs {
		if entry.Type == domain.TransactionTypeRefund {
			refund = entry
		}
	}
	require.NotNil(t, refund, "no refund transaction recorded")
	assert.Equal(t, tx.ID, refund.Metadata["refunds"])
	assert.True(t, refund.AmountUSD.Equal(decimal.NewFromInt(40)))
}

func TestSettleTransitions(t *testing.T) {
	ctx := context.Background()
	ledger, store := newLedgerFixture(t)
	wallet := fundWallet(t, store, ledger, "user-1", "100")

	tx, err := ledger.Reserve(ctx, repository.ReserveParams{
		WalletID:    wallet.ID,
		AmountUSD:   decimal.NewFromInt(10),
		Currency:    "USDC",
		Network:     domain.NetworkPolygon,
		Destination: "0xdest",
	})
	require.NoError(t, err)

	_, err = ledger.Settle(ctx, tx.ID, domain.TransactionStatusConfirmed)
	require.NoError(t, err)

	t.Run("same status settle is a no-op", func(t *testing.T) {
		settled, err := ledger.Settle(ctx, tx.ID, domain.TransactionStatusConfirmed)
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusConfirmed, settled.Status)
	})

	t.Run("confirmed cannot become failed", func(t *testing.T) {
		_, err := ledger.Settle(ctx, tx.ID, domain.TransactionStatusFailed)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		// No spurious refund.
		wallet, err := store.GetWallet(ctx, wallet.ID)
		require.NoError(t, err)
		assert.True(t, wallet.BalanceUSD.Equal(decimal.NewFromInt(90)))
	})

	t.Run("cannot settle to pending", func(t *testing.T) {
		_, err := ledger.Settle(ctx, tx.ID, domain.TransactionStatusPending)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		_, err := ledger.Settle(ctx, "no-such-tx", domain.TransactionStatusConfirmed)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestChargeUsage(t *testing.T) {
	ctx := context.Background()
	ledger, store := newLedgerFixture(t)

	consumer := fundWallet(t, store, ledger, "consumer", "100")
	provider := fundWallet(t, store, ledger, "provider", "5")

	charge, earning, err := ledger.ChargeUsage(ctx, repository.UsageParams{
		ConsumerWalletID:     consumer.ID,
		CounterpartyWalletID: provider.ID,
		AmountUSD:            decimal.NewFromInt(10),
		SplitRatio:           decimal.RequireFromString("0.8"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionTypeUsageCharge, charge.Type)
	assert.Equal(t, domain.TransactionTypeProviderEarning, earning.Type)
	assert.True(t, earning.AmountUSD.Equal(decimal.NewFromInt(8)))
	assert.Equal(t, charge.ID, earning.Metadata["charge_id"])

	consumer, err = store.GetWallet(ctx, consumer.ID)
	require.NoError(t, err)
	provider, err = store.GetWallet(ctx, provider.ID)
	require.NoError(t, err)

	assert.True(t, consumer.BalanceUSD.Equal(decimal.NewFromInt(90)))
	assert.True(t, provider.BalanceUSD.Equal(decimal.NewFromInt(13)))
}

func TestChargeUsageInsufficientFundsMutatesNothing(t *testing.T) {
	ctx := context.Background()
	ledger, store := newLedgerFixture(t)

	consumer := fundWallet(t, store, ledger, "consumer", "5")
	provider := fundWallet(t, store, ledger, "provider", "0.01")

	_, _, err := ledger.ChargeUsage(ctx, repository.UsageParams{
		ConsumerWalletID:     consumer.ID,
		CounterpartyWalletID: provider.ID,
		AmountUSD:            decimal.NewFromInt(10),
		SplitRatio:           decimal.RequireFromString("0.5"),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	consumer, err = store.GetWallet(ctx, consumer.ID)
	require.NoError(t, err)
	provider, err = store.GetWallet(ctx, provider.ID)
	require.NoError(t, err)

	assert.True(t, consumer.BalanceUSD.Equal(decimal.NewFromInt(5)))
	assert.True(t, provider.BalanceUSD.Equal(decimal.RequireFromString("0.01")))
}

func TestChargeUsageRejectsBadRatio(t *testing.T) {
	ctx := context.Background()
	ledger, store := newLedgerFixture(t)

	consumer := fundWallet(t, store, ledger, "consumer", "100")
	provider := fundWallet(t, store, ledger, "provider", "100")

	for _, ratio := range []string{"-0.1", "1.5"} {
		_, _, err := ledger.ChargeUsage(ctx, repository.UsageParams{
			ConsumerWalletID:     consumer.ID,
			CounterpartyWalletID: provider.ID,
			AmountUSD:            decimal.NewFromInt(1),
			SplitRatio:           decimal.RequireFromString(ratio),
		})
		assert.Error(t, err, "ratio %s", ratio)
	}
}

// The ledger must conserve money: across any mix of operations, every wallet
// balance equals the signed sum of its confirmed transactions, and a pending
// withdrawal holds its amount out of the balance.
func TestLedgerConservation(t *testing.T) {
	ctx := context.Background()
	ledger, store := newLedgerFixture(t)

	wallet, err := store.GetOrCreateWallet(ctx, "user-1")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, _, err := ledger.Credit(ctx, repository.CreditParams{
			WalletID:  wallet.ID,
			AmountUSD: decimal.RequireFromString("12.5"),
			Currency:  "USDT",
			Network:   domain.NetworkTron,
			TxHash:    fmt.Sprintf("0xdep-%d", i),
		})
		require.NoError(t, err)
	}

	var pending []*domain.WalletTransaction
	for i := 0; i < 5; i++ {
		tx, err := ledger.Reserve(ctx, repository.ReserveParams{
			WalletID:    wallet.ID,
			AmountUSD:   decimal.NewFromInt(15),
			Currency:    "USDT",
			Network:     domain.NetworkTron,
			Destination: "TLyqzVGLV1srkB7dToTAEqgDSfPtXRJZYH",
		})
		require.NoError(t, err)
		pending = append(pending, tx)
	}

	// Confirm two, fail two, leave one pending.
	_, err = ledger.Settle(ctx, pending[0].ID, domain.TransactionStatusConfirmed)
	require.NoError(t, err)
	_, err = ledger.Settle(ctx, pending[1].ID, domain.TransactionStatusConfirmed)
	require.NoError(t, err)
	_, err = ledger.Settle(ctx, pending[2].ID, domain.TransactionStatusFailed)
	require.NoError(t, err)
	_, err = ledger.Settle(ctx, pending[3].ID, domain.TransactionStatusCancelled)
	require.NoError(t, err)

	// 125 deposited, 75 reserved, 30 refunded: 125 - 45 confirmed - 15 pending.
	wallet, err = store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, wallet.BalanceUSD.Equal(decimal.NewFromInt(65)), "balance %s", wallet.BalanceUSD)

	// Replaying the ledger reproduces the balance.
	txs, err := store.ListTransactions(ctx, wallet.ID, 0)
	require.NoError(t, err)

	replayed := decimal.Zero
	for _, tx := range txs {
		switch tx.Type {
		case domain.TransactionTypeDeposit, domain.TransactionTypeRefund:
			if tx.Status == domain.TransactionStatusConfirmed {
				replayed = replayed.Add(tx.AmountUSD)
			}
		case domain.TransactionTypeWithdrawal:
			// Debited at reserve time regardless of eventual outcome.
			replayed = replayed.Sub(tx.AmountUSD)
		}
	}
	assert.True(t, replayed.Equal(wallet.BalanceUSD), "replayed %s, balance %s", replayed, wallet.BalanceUSD)

	queue, err := ledger.PendingWithdrawals(ctx, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, pending[4].ID, queue[0].ID)
}
