package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"custody-service/internal/domain"
	"custody-service/internal/ingest"
	"custody-service/internal/pricing"
	"custody-service/internal/repository"
)

// DepositUsecase consumes chain-activity webhooks and turns transfers to our
// deposit addresses into ledger credits. Delivery is at-least-once; the
// ledger's tx-hash idempotency is the sole defense against double-crediting.
type DepositUsecase struct {
	store  repository.Store
	ledger *LedgerUsecase
	oracle *pricing.Oracle
	logger *zap.Logger
}

func NewDepositUsecase(
	store repository.Store,
	ledger *LedgerUsecase,
	oracle *pricing.Oracle,
	logger *zap.Logger,
) *DepositUsecase {
	return &DepositUsecase{
		store:  store,
		ledger: ledger,
		oracle: oracle,
		logger: logger,
	}
}

// VerifySignature checks the webhook HMAC for a network. When no secret is
// configured (test environments) verification is skipped — explicitly, with a
// warning — never as a silent default.
func (uc *DepositUsecase) VerifySignature(ctx context.Context, network domain.Network, body []byte, signature string) error {
	secret, err := uc.store.GetNetworkSecret(ctx, network)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			uc.logger.Warn("no signing secret configured, skipping webhook signature verification",
				zap.String("network", string(network)),
			)
			return nil
		}
		return err
	}

	if !ingest.Verify(secret, body, signature) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Result reports how much of a webhook batch was applied.
type Result struct {
	Processed int
	Total     int
}

// Process credits every resolvable activity item in the batch. A malformed or
// unresolvable item is logged and skipped; it never aborts the rest of the
// batch.
func (uc *DepositUsecase) Process(ctx context.Context, webhook *domain.ActivityWebhook) (*Result, error) {
	network, ok := domain.ParseNetwork(webhook.Event.Network)
	if !ok {
		return nil, fmt.Errorf("unsupported webhook network %q", webhook.Event.Network)
	}

	result := &Result{Total: len(webhook.Event.Activity)}

	for i := range webhook.Event.Activity {
		item := &webhook.Event.Activity[i]
		if err := uc.processItem(ctx, network, item); err != nil {
			uc.logger.Warn("skipping activity item",
				zap.String("network", string(network)),
				zap.String("tx_hash", item.Hash),
				zap.String("to_address", item.ToAddress),
				zap.Error(err),
			)
			continue
		}
		result.Processed++
	}

	uc.logger.Info("webhook batch processed",
		zap.String("network", string(network)),
		zap.Int("processed", result.Processed),
		zap.Int("total", result.Total),
	)

	return result, nil
}

func (uc *DepositUsecase) processItem(ctx context.Context, network domain.Network, item *domain.ActivityItem) error {
	if item.Hash == "" {
		return fmt.Errorf("activity item has no tx hash")
	}
	if !item.Value.IsPositive() {
		return fmt.Errorf("non-positive amount %s", item.Value)
	}

	addr, err := uc.store.FindByAddress(ctx, network, item.ToAddress)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("destination is not one of our deposit addresses")
		}
		return err
	}

	price := uc.oracle.PriceUSD(ctx, item.Asset)
	if !price.IsPositive() {
		// Zero means unpriced, never a free deposit.
		return fmt.Errorf("%w: %s", domain.ErrUnpriced, item.Asset)
	}

	amountUSD := item.Value.Mul(price).Round(8)

	_, created, err := uc.ledger.Credit(ctx, repository.CreditParams{
		WalletID:     addr.WalletID,
		AmountUSD:    amountUSD,
		AmountCrypto: item.Value,
		Currency:     item.Asset,
		Network:      network,
		TxHash:       item.Hash,
		Metadata: map[string]any{
			"from_address": item.FromAddress,
			"to_address":   item.ToAddress,
			"category":     item.Category,
			"block_num":    item.BlockNum,
			"address_id":   addr.ID,
		},
	})
	if err != nil {
		return err
	}
	if !created {
		uc.logger.Info("webhook redelivery deduplicated",
			zap.String("tx_hash", item.Hash),
			zap.String("network", string(network)),
		)
	}

	return nil
}
