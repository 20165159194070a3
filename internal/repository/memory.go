package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"custody-service/internal/domain"
)

// Memory is an in-process Store with the same atomicity and idempotency
// semantics as the Postgres implementation. Used by the test suites and for
// local development without a database.
type Memory struct {
	mu sync.Mutex

	wallets       map[string]*domain.Wallet
	walletsByUser map[string]string

	addresses     map[string]*domain.DepositAddress
	addrByUserNet map[string]string
	addrByNetAddr map[string]string
	counters      map[domain.Network]int64

	txs      map[string]*domain.WalletTransaction
	txByHash map[string]string
	txOrder  []string

	secrets map[domain.Network]string
}

func NewMemory() *Memory {
	return &Memory{
		wallets:       make(map[string]*domain.Wallet),
		walletsByUser: make(map[string]string),
		addresses:     make(map[string]*domain.DepositAddress),
		addrByUserNet: make(map[string]string),
		addrByNetAddr: make(map[string]string),
		counters:      make(map[domain.Network]int64),
		txs:           make(map[string]*domain.WalletTransaction),
		txByHash:      make(map[string]string),
		secrets:       make(map[domain.Network]string),
	}
}

// SetNetworkSecret configures a webhook signing secret.
func (m *Memory) SetNetworkSecret(network domain.Network, secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[network] = secret
}

func (m *Memory) UpsertNetworkSecret(ctx context.Context, network domain.Network, secret string) error {
	m.SetNetworkSecret(network, secret)
	return nil
}

// ============================================================================
// WALLETS
// ============================================================================

func (m *Memory) GetOrCreateWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.walletsByUser[userID]; ok {
		return copyWallet(m.wallets[id]), nil
	}

	now := time.Now().UTC()
	w := &domain.Wallet{
		ID:         uuid.New().String(),
		UserID:     userID,
		BalanceUSD: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.wallets[w.ID] = w
	m.walletsByUser[userID] = w.ID

	return copyWallet(w), nil
}

func (m *Memory) GetWallet(ctx context.Context, walletID string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", walletID, domain.ErrNotFound)
	}
	return copyWallet(w), nil
}

func (m *Memory) GetWalletByUser(ctx context.Context, userID string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.walletsByUser[userID]
	if !ok {
		return nil, fmt.Errorf("wallet for user %s: %w", userID, domain.ErrNotFound)
	}
	return copyWallet(m.wallets[id]), nil
}

// ============================================================================
// DEPOSIT ADDRESSES
// ============================================================================

func userNetKey(userID string, network domain.Network) string {
	return userID + "|" + string(network)
}

func netAddrKey(network domain.Network, address string) string {
	return string(network) + "|" + strings.ToLower(address)
}

func (m *Memory) CreateAddress(ctx context.Context, addr *domain.DepositAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.addrByUserNet[userNetKey(addr.UserID, addr.Network)]; ok {
		return domain.ErrDuplicateAddress
	}

	idx := m.counters[addr.Network]
	m.counters[addr.Network] = idx + 1

	stored := *addr
	stored.ID = uuid.New().String()
	stored.DerivationIndex = idx
	stored.CreatedAt = time.Now().UTC()

	m.addresses[stored.ID] = &stored
	m.addrByUserNet[userNetKey(stored.UserID, stored.Network)] = stored.ID
	m.addrByNetAddr[netAddrKey(stored.Network, stored.Address)] = stored.ID

	*addr = stored
	return nil
}

func (m *Memory) GetAddress(ctx context.Context, id string) (*domain.DepositAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.addresses[id]
	if !ok {
		return nil, fmt.Errorf("deposit address %s: %w", id, domain.ErrNotFound)
	}
	return copyAddress(a), nil
}

func (m *Memory) GetUserAddress(ctx context.Context, userID string, network domain.Network) (*domain.DepositAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.addrByUserNet[userNetKey(userID, network)]
	if !ok {
		return nil, fmt.Errorf("deposit address for user %s on %s: %w", userID, network, domain.ErrNotFound)
	}
	return copyAddress(m.addresses[id]), nil
}

func (m *Memory) FindByAddress(ctx context.Context, network domain.Network, address string) (*domain.DepositAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.addrByNetAddr[netAddrKey(network, address)]
	if !ok {
		return nil, fmt.Errorf("address %s on %s: %w", address, network, domain.ErrNotFound)
	}
	return copyAddress(m.addresses[id]), nil
}

func (m *Memory) MarkKeyExported(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.addresses[id]
	if !ok {
		return false, fmt.Errorf("deposit address %s: %w", id, domain.ErrNotFound)
	}
	if a.KeyExported {
		return false, nil
	}
	a.KeyExported = true
	return true, nil
}

// ============================================================================
// LEDGER
// ============================================================================

func (m *Memory) CreditDeposit(ctx context.Context, p CreditParams) (*domain.WalletTransaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Uniqueness on tx_hash resolves duplicate deliveries; under the lock
	// this is equivalent to the database constraint.
	if existingID, ok := m.txByHash[p.TxHash]; ok {
		return copyTx(m.txs[existingID]), false, nil
	}

	w, ok := m.wallets[p.WalletID]
	if !ok {
		return nil, false, fmt.Errorf("wallet %s: %w", p.WalletID, domain.ErrNotFound)
	}

	hash := p.TxHash
	now := time.Now().UTC()
	tx := &domain.WalletTransaction{
		ID:           uuid.New().String(),
		WalletID:     w.ID,
		UserID:       w.UserID,
		Type:         domain.TransactionTypeDeposit,
		Status:       domain.TransactionStatusConfirmed,
		AmountCrypto: p.AmountCrypto,
		Currency:     p.Currency,
		Network:      p.Network,
		AmountUSD:    p.AmountUSD,
		TxHash:       &hash,
		Metadata:     p.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	m.txs[tx.ID] = tx
	m.txByHash[hash] = tx.ID
	m.txOrder = append(m.txOrder, tx.ID)

	w.BalanceUSD = w.BalanceUSD.Add(p.AmountUSD)
	w.UpdatedAt = now

	return copyTx(tx), true, nil
}

func (m *Memory) ReserveWithdrawal(ctx context.Context, p ReserveParams) (*domain.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[p.WalletID]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", p.WalletID, domain.ErrNotFound)
	}

	if w.BalanceUSD.LessThan(p.AmountUSD) {
		return nil, domain.ErrInsufficientFunds
	}

	meta := p.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	meta["destination"] = p.Destination

	now := time.Now().UTC()
	tx := &domain.WalletTransaction{
		ID:        uuid.New().String(),
		WalletID:  w.ID,
		UserID:    w.UserID,
		Type:      domain.TransactionTypeWithdrawal,
		Status:    domain.TransactionStatusPending,
		Currency:  p.Currency,
		Network:   p.Network,
		AmountUSD: p.AmountUSD,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.txs[tx.ID] = tx
	m.txOrder = append(m.txOrder, tx.ID)

	w.BalanceUSD = w.BalanceUSD.Sub(p.AmountUSD)
	w.UpdatedAt = now

	return copyTx(tx), nil
}

func (m *Memory) SettleWithdrawal(ctx context.Context, txID string, outcome domain.TransactionStatus) (*domain.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[txID]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", txID, domain.ErrNotFound)
	}
	if tx.Type != domain.TransactionTypeWithdrawal {
		return nil, fmt.Errorf("transaction %s is not a withdrawal: %w", txID, domain.ErrInvalidTransition)
	}
	if tx.Status == outcome {
		return copyTx(tx), nil
	}
	if !tx.Status.CanTransitionTo(outcome) {
		return nil, fmt.Errorf("%s -> %s: %w", tx.Status, outcome, domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	tx.Status = outcome
	tx.UpdatedAt = now

	if outcome == domain.TransactionStatusFailed || outcome == domain.TransactionStatusCancelled {
		w := m.wallets[tx.WalletID]
		w.BalanceUSD = w.BalanceUSD.Add(tx.AmountUSD)
		w.UpdatedAt = now

		refund := &domain.WalletTransaction{
			ID:        uuid.New().String(),
			WalletID:  tx.WalletID,
			UserID:    tx.UserID,
			Type:      domain.TransactionTypeRefund,
			Status:    domain.TransactionStatusConfirmed,
			Currency:  tx.Currency,
			Network:   tx.Network,
			AmountUSD: tx.AmountUSD,
			Metadata:  map[string]any{"refunds": tx.ID},
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.txs[refund.ID] = refund
		m.txOrder = append(m.txOrder, refund.ID)
	}

	return copyTx(tx), nil
}

func (m *Memory) ChargeUsage(ctx context.Context, p UsageParams) (*domain.WalletTransaction, *domain.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	consumer, ok := m.wallets[p.ConsumerWalletID]
	if !ok {
		return nil, nil, fmt.Errorf("wallet %s: %w", p.ConsumerWalletID, domain.ErrNotFound)
	}
	counterparty, ok := m.wallets[p.CounterpartyWalletID]
	if !ok {
		return nil, nil, fmt.Errorf("wallet %s: %w", p.CounterpartyWalletID, domain.ErrNotFound)
	}

	if consumer.BalanceUSD.LessThan(p.AmountUSD) {
		return nil, nil, domain.ErrInsufficientFunds
	}

	share := p.AmountUSD.Mul(p.SplitRatio).Round(8)
	chargeID := uuid.New().String()
	now := time.Now().UTC()

	meta := p.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	meta["charge_id"] = chargeID

	charge := &domain.WalletTransaction{
		ID:        chargeID,
		WalletID:  consumer.ID,
		UserID:    consumer.UserID,
		Type:      domain.TransactionTypeUsageCharge,
		Status:    domain.TransactionStatusConfirmed,
		Currency:  "USD",
		AmountUSD: p.AmountUSD,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	earning := &domain.WalletTransaction{
		ID:        uuid.New().String(),
		WalletID:  counterparty.ID,
		UserID:    counterparty.UserID,
		Type:      domain.TransactionTypeProviderEarning,
		Status:    domain.TransactionStatusConfirmed,
		Currency:  "USD",
		AmountUSD: share,
		Metadata:  map[string]any{"charge_id": chargeID},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.txs[charge.ID] = charge
	m.txs[earning.ID] = earning
	m.txOrder = append(m.txOrder, charge.ID, earning.ID)

	consumer.BalanceUSD = consumer.BalanceUSD.Sub(p.AmountUSD)
	consumer.UpdatedAt = now
	counterparty.BalanceUSD = counterparty.BalanceUSD.Add(share)
	counterparty.UpdatedAt = now

	return copyTx(charge), copyTx(earning), nil
}

func (m *Memory) GetTransaction(ctx context.Context, id string) (*domain.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	return copyTx(tx), nil
}

func (m *Memory) ListTransactions(ctx context.Context, walletID string, limit int) ([]*domain.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.WalletTransaction
	for i := len(m.txOrder) - 1; i >= 0; i-- {
		tx := m.txs[m.txOrder[i]]
		if tx.WalletID != walletID {
			continue
		}
		out = append(out, copyTx(tx))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListPendingWithdrawals(ctx context.Context, limit int) ([]*domain.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.WalletTransaction
	for _, id := range m.txOrder {
		tx := m.txs[id]
		if tx.Type != domain.TransactionTypeWithdrawal || tx.Status != domain.TransactionStatusPending {
			continue
		}
		out = append(out, copyTx(tx))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ============================================================================
// SECRETS
// ============================================================================

func (m *Memory) GetNetworkSecret(ctx context.Context, network domain.Network) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	secret, ok := m.secrets[network]
	if !ok || secret == "" {
		return "", fmt.Errorf("signing secret for %s: %w", network, domain.ErrNotFound)
	}
	return secret, nil
}

// ============================================================================
// COPY HELPERS
// ============================================================================

func copyWallet(w *domain.Wallet) *domain.Wallet {
	cp := *w
	return &cp
}

func copyAddress(a *domain.DepositAddress) *domain.DepositAddress {
	cp := *a
	return &cp
}

func copyTx(tx *domain.WalletTransaction) *domain.WalletTransaction {
	cp := *tx
	if tx.TxHash != nil {
		hash := *tx.TxHash
		cp.TxHash = &hash
	}
	if tx.Metadata != nil {
		cp.Metadata = make(map[string]any, len(tx.Metadata))
		for k, v := range tx.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
