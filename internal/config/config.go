package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"custody-service/internal/domain"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Security   SecurityConfig
	Price      PriceConfig
	Withdrawal WithdrawalConfig
	Webhook    WebhookConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	// URL is the Postgres connection string. When empty the service runs on
	// the in-memory store (local development only).
	URL string
}

type RedisConfig struct {
	// Addr enables the ledger-event publisher when set.
	Addr     string
	Password string
}

type SecurityConfig struct {
	// MasterKey is the 32-byte (raw or base64) AES-256 key for the key vault.
	MasterKey string
}

type PriceConfig struct {
	UpstreamURL string
	TTL         time.Duration
	Timeout     time.Duration
}

type WithdrawalConfig struct {
	MinAmountUSD decimal.Decimal
}

type WebhookConfig struct {
	// Secrets are per-network signing secrets from env
	// (WEBHOOK_SECRET_<NETWORK>), synced into the network_secrets table at
	// boot. A network with no secret anywhere skips signature verification,
	// explicitly.
	Secrets map[domain.Network]string
}

func Load() (*Config, error) {
	masterKey := os.Getenv("CUSTODY_MASTER_KEY")
	if masterKey == "" {
		return nil, fmt.Errorf("CUSTODY_MASTER_KEY is required")
	}

	minWithdrawal, err := decimal.NewFromString(getEnv("WITHDRAWAL_MIN_USD", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WITHDRAWAL_MIN_USD: %w", err)
	}

	secrets := make(map[domain.Network]string)
	for _, network := range domain.Networks() {
		envKey := "WEBHOOK_SECRET_" + strings.ToUpper(string(network))
		if secret := os.Getenv(envKey); secret != "" {
			secrets[network] = secret
		}
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8085"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Security: SecurityConfig{
			MasterKey: masterKey,
		},
		Price: PriceConfig{
			UpstreamURL: getEnv("PRICE_UPSTREAM_URL", ""),
			TTL:         getEnvAsDuration("PRICE_CACHE_TTL", 5*time.Minute),
			Timeout:     getEnvAsDuration("PRICE_FETCH_TIMEOUT", 5*time.Second),
		},
		Withdrawal: WithdrawalConfig{
			MinAmountUSD: minWithdrawal,
		},
		Webhook: WebhookConfig{
			Secrets: secrets,
		},
	}, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
