// Package pricing converts crypto amounts to USD with a TTL cache over an
// upstream simple-price API, a stale-cache fallback, and hardcoded defaults
// of last resort. The oracle never blocks callers beyond the fetch timeout
// and never fails a caller: an unknown currency resolves to a zero price,
// which callers must treat as "unpriced", not as a valid value.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custody-service/internal/domain"
)

const DefaultUpstreamURL = "https://api.coingecko.com/api/v3/simple/price" +
	"?ids=ethereum,matic-network,solana,tron&vs_currencies=usd"

// coinIDs maps upstream coin ids to ledger currency symbols.
var coinIDs = map[string]string{
	"ethereum":      "ETH",
	"matic-network": "MATIC",
	"solana":        "SOL",
	"tron":          "TRX",
}

// fallbackPrices serves requests when no fetch has ever succeeded. Stale by
// construction; only the last line of defense.
var fallbackPrices = map[string]decimal.Decimal{
	"ETH":   decimal.NewFromInt(2500),
	"MATIC": decimal.RequireFromString("0.5"),
	"SOL":   decimal.NewFromInt(150),
	"TRX":   decimal.RequireFromString("0.12"),
}

type Oracle struct {
	url    string
	client *http.Client
	ttl    time.Duration
	logger *zap.Logger

	mu        sync.RWMutex
	cached    map[string]decimal.Decimal
	fetchedAt time.Time
}

func NewOracle(url string, ttl, timeout time.Duration, logger *zap.Logger) *Oracle {
	if url == "" {
		url = DefaultUpstreamURL
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Oracle{
		url:    url,
		client: &http.Client{Timeout: timeout},
		ttl:    ttl,
		logger: logger,
	}
}

// Prices returns {currency -> usd price}. Resolution order: fresh cache,
// upstream fetch, stale cache, hardcoded fallback. Stablecoins are always 1.
func (o *Oracle) Prices(ctx context.Context) map[string]decimal.Decimal {
	o.mu.RLock()
	if o.cached != nil && time.Since(o.fetchedAt) < o.ttl {
		prices := o.cached
		o.mu.RUnlock()
		return withStablecoins(prices)
	}
	o.mu.RUnlock()

	fetched, err := o.fetch(ctx)
	if err == nil {
		o.mu.Lock()
		o.cached = fetched
		o.fetchedAt = time.Now()
		o.mu.Unlock()
		return withStablecoins(fetched)
	}

	o.logger.Warn("price fetch failed, serving fallback", zap.Error(err))

	o.mu.RLock()
	stale := o.cached
	o.mu.RUnlock()
	if stale != nil {
		return withStablecoins(stale)
	}

	return withStablecoins(fallbackPrices)
}

// PriceUSD resolves a single currency. A zero result means unpriced.
func (o *Oracle) PriceUSD(ctx context.Context, currency string) decimal.Decimal {
	currency = strings.ToUpper(currency)
	if domain.IsStablecoin(currency) {
		return decimal.NewFromInt(1)
	}
	return o.Prices(ctx)[currency]
}

func (o *Oracle) fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price upstream unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price upstream returned %d", resp.StatusCode)
	}

	var body map[string]struct {
		USD decimal.Decimal `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(body))
	for id, quote := range body {
		symbol, ok := coinIDs[id]
		if !ok {
			continue
		}
		if quote.USD.IsPositive() {
			prices[symbol] = quote.USD
		}
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("price response contained no usable quotes")
	}

	return prices, nil
}

func withStablecoins(prices map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(prices)+2)
	for k, v := range prices {
		out[k] = v
	}
	out["USDT"] = decimal.NewFromInt(1)
	out["USDC"] = decimal.NewFromInt(1)
	return out
}
