package usecase

import (
	"context"
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

func newWithdrawalFixture(t *testing.T) (*WithdrawalUsecase, *LedgerUsecase, *repository.Memory) {
	t.Helper()

	store := repository.NewMemory()
	ledger := NewLedgerUsecase(store, pub.NoopPublisher{}, zap.NewNop())
	uc := NewWithdrawalUsecase(store, ledger, newTestRegistry(), decimal.NewFromInt(10), zap.NewNop())
	return uc, ledger, store
}

func TestRequestWithdrawal(t *testing.T) {
	ctx := context.Background()
	uc, ledger, store := newWithdrawalFixture(t)
	wallet := fundWallet(t, store, ledger, "user-1", "50")

	tx, err := uc.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID:    "user-1",
		Network:   domain.NetworkEthereum,
		Currency:  "USDC",
		Address:   "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		AmountUSD: decimal.NewFromInt(40),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionTypeWithdrawal, tx.Type)
	assert.Equal(t, domain.TransactionStatusPending, tx.Status)
	// Destination is stored normalized so the broadcaster never sees mixed case.
	assert.Equal(t, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", tx.Metadata["destination"])

	wallet, err = store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, wallet.BalanceUSD.Equal(decimal.NewFromInt(10)), "balance %s", wallet.BalanceUSD)
}

func TestRequestWithdrawalRejectsInvalidAddress(t *testing.T) {
	ctx := context.Background()
	uc, ledger, store := newWithdrawalFixture(t)
	wallet := fundWallet(t, store, ledger, "user-1", "100")

	_, err := uc.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID:    "user-1",
		Network:   domain.NetworkEthereum,
		Currency:  "USDC",
		Address:   "not-an-address",
		AmountUSD: decimal.NewFromInt(40),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAddressFormat)

	// Rejected before any reservation: nothing debited, nothing queued.
	wallet, err = store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, wallet.BalanceUSD.Equal(decimal.NewFromInt(100)))

	queue, err := uc.PendingWithdrawals(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestRequestWithdrawalCrossChainAddressRejected(t *testing.T) {
	ctx := context.Background()
	uc, ledger, store := newWithdrawalFixture(t)
	fundWallet(t, store, ledger, "user-1", "100")

	// A valid tron address is not a valid ethereum destination.
	_, err := uc.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID:    "user-1",
		Network:   domain.NetworkEthereum,
		Currency:  "USDT",
		Address:   "TLyqzVGLV1srkB7dToTAEqgDSfPtXRJZYH",
		AmountUSD: decimal.NewFromInt(40),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAddressFormat)
}

func TestRequestWithdrawalBelowMinimum(t *testing.T) {
	ctx := context.Background()
	uc, ledger, store := newWithdrawalFixture(t)
	fundWallet(t, store, ledger, "user-1", "100")

	_, err := uc.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID:    "user-1",
		Network:   domain.NetworkEthereum,
		Currency:  "USDC",
		Address:   "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		AmountUSD: decimal.RequireFromString("9.99"),
	})
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)
}

func TestRequestWithdrawalInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	uc, ledger, store := newWithdrawalFixture(t)
	wallet := fundWallet(t, store, ledger, "user-1", "50")

	// First reservation takes 40 of 50; the second cannot cover another 50.
	_, err := uc.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID:    "user-1",
		Network:   domain.NetworkEthereum,
		Currency:  "USDC",
		Address:   "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		AmountUSD: decimal.NewFromInt(40),
	})
	require.NoError(t, err)

	_, err = uc.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID:    "user-1",
		Network:   domain.NetworkEthereum,
		Currency:  "USDC",
		Address:   "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		AmountUSD: decimal.NewFromInt(50),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	wallet, err = store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, wallet.BalanceUSD.Equal(decimal.NewFromInt(10)), "balance %s", wallet.BalanceUSD)
}

func TestConcurrentWithdrawalsAgainstSameBalance(t *testing.T) {
	ctx := context.Background()
	uc, ledger, store := newWithdrawalFixture(t)
	wallet := fundWallet(t, store, ledger, "user-1", "50")

	// Two racing $40 requests against $50: exactly one can win.
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.RequestWithdrawal(ctx, WithdrawalRequest{
				UserID:    "user-1",
				Network:   domain.NetworkEthereum,
				Currency:  "USDC",
				Address:   "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
				AmountUSD: decimal.NewFromInt(40),
			})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	wallet, err := store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, wallet.BalanceUSD.Equal(decimal.NewFromInt(10)), "balance %s", wallet.BalanceUSD)
}

func TestBroadcasterDrainAndSettle(t *testing.T) {
	ctx := context.Background()
	uc, ledger, store := newWithdrawalFixture(t)
	wallet := fundWallet(t, store, ledger, "user-1", "100")

	tx, err := uc.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID:    "user-1",
		Network:   domain.NetworkSolana,
		Currency:  "SOL",
		Address:   "4Nd1mnszWRvFdAbjMqv1Zvhgr31sVXh9AkCDHWMtMv9c",
		AmountUSD: decimal.NewFromInt(30),
	})
	require.NoError(t, err)

	queue, err := uc.PendingWithdrawals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, tx.ID, queue[0].ID)

	settled, err := uc.Settle(ctx, tx.ID, domain.TransactionStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, settled.Status)

	// Failed broadcast refunds the reservation and empties the queue.
	wallet, err = store.GetWallet(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, wallet.BalanceUSD.Equal(decimal.NewFromInt(100)))

	queue, err = uc.PendingWithdrawals(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, queue)
}
