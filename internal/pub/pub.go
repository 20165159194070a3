// Package pub publishes ledger events for downstream consumers (notification
// and analytics services subscribe to the channel).
package pub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"custody-service/internal/domain"
)

const LedgerEventsChannel = "ledger_events"

// Event types.
const (
	EventDepositCredited     = "deposit.credited"
	EventWithdrawalRequested = "withdrawal.requested"
	EventWithdrawalSettled   = "withdrawal.settled"
	EventUsageCharged        = "usage.charged"
)

type LedgerEvent struct {
	EventType     string                   `json:"event_type"`
	UserID        string                   `json:"user_id"`
	WalletID      string                   `json:"wallet_id"`
	TransactionID string                   `json:"transaction_id"`
	Type          domain.TransactionType   `json:"transaction_type"`
	Status        domain.TransactionStatus `json:"status"`
	AmountUSD     decimal.Decimal          `json:"amount_usd"`
	Currency      string                   `json:"currency,omitempty"`
	Network       domain.Network           `json:"network,omitempty"`
	TxHash        string                   `json:"tx_hash,omitempty"`
	Timestamp     time.Time                `json:"timestamp"`
}

// Publisher is best-effort: the ledger mutation has already committed by the
// time an event is published, so publish failures are logged by callers, not
// propagated.
type Publisher interface {
	Publish(ctx context.Context, event *LedgerEvent) error
}

// RedisPublisher publishes events on a redis pub/sub channel.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, event *LedgerEvent) error {
	event.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.rdb.Publish(ctx, LedgerEventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NoopPublisher is used when no redis endpoint is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event *LedgerEvent) error {
	return nil
}

// FromTransaction builds an event from a committed ledger row.
func FromTransaction(eventType string, tx *domain.WalletTransaction) *LedgerEvent {
	event := &LedgerEvent{
		EventType:     eventType,
		UserID:        tx.UserID,
		WalletID:      tx.WalletID,
		TransactionID: tx.ID,
		Type:          tx.Type,
		Status:        tx.Status,
		AmountUSD:     tx.AmountUSD,
		Currency:      tx.Currency,
		Network:       tx.Network,
	}
	if tx.TxHash != nil {
		event.TxHash = *tx.TxHash
	}
	return event
}
