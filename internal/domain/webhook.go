package domain

import "github.com/shopspring/decimal"

// ActivityWebhook is the chain-activity provider's notification body.
// Delivery is at-least-once; the tx hash is the idempotency key.
type ActivityWebhook struct {
	ID    string        `json:"id,omitempty"`
	Event ActivityEvent `json:"event"`
}

type ActivityEvent struct {
	Network  string         `json:"network"`
	Activity []ActivityItem `json:"activity"`
}

// ActivityItem is one transfer within a webhook batch.
type ActivityItem struct {
	FromAddress string          `json:"fromAddress"`
	ToAddress   string          `json:"toAddress"`
	Asset       string          `json:"asset"`
	Value       decimal.Decimal `json:"value"`
	Hash        string          `json:"hash"`
	Category    string          `json:"category"`
	BlockNum    string          `json:"blockNum"`
}
