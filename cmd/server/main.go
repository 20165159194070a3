package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"custody-service/internal/chains"
	"custody-service/internal/chains/evm"
	"custody-service/internal/chains/solana"
	"custody-service/internal/chains/tron"
	"custody-service/internal/config"
	"custody-service/internal/domain"
	"custody-service/internal/handler"
	"custody-service/internal/pricing"
	"custody-service/internal/pub"
	"custody-service/internal/repository"
	"custody-service/internal/router"
	"custody-service/internal/security"
	"custody-service/internal/usecase"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store: Postgres in production, in-memory when no DATABASE_URL is set.
	var store repository.Store
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		store = repository.NewPostgres(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store = repository.NewMemory()
	}

	for network, secret := range cfg.Webhook.Secrets {
		if err := store.UpsertNetworkSecret(ctx, network, secret); err != nil {
			logger.Fatal("failed to sync webhook secret",
				zap.String("network", string(network)),
				zap.Error(err),
			)
		}
	}

	vault, err := security.NewKeyVault(cfg.Security.MasterKey)
	if err != nil {
		logger.Fatal("failed to initialize key vault", zap.Error(err))
	}

	registry := chains.NewRegistry()
	registry.Register(evm.New(domain.NetworkEthereum))
	registry.Register(evm.New(domain.NetworkPolygon))
	registry.Register(evm.New(domain.NetworkBase))
	registry.Register(tron.New())
	registry.Register(solana.New())

	oracle := pricing.NewOracle(cfg.Price.UpstreamURL, cfg.Price.TTL, cfg.Price.Timeout, logger)

	var publisher pub.Publisher = pub.NoopPublisher{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()
		publisher = pub.NewRedisPublisher(rdb)
	}

	ledgerUC := usecase.NewLedgerUsecase(store, publisher, logger)
	walletUC := usecase.NewWalletUsecase(store, registry, vault, logger)
	depositUC := usecase.NewDepositUsecase(store, ledgerUC, oracle, logger)
	withdrawalUC := usecase.NewWithdrawalUsecase(store, ledgerUC, registry, cfg.Withdrawal.MinAmountUSD, logger)

	routes := router.SetupRoutes(
		handler.NewWebhookHandler(depositUC, logger),
		handler.NewWalletHandler(walletUC, logger),
		handler.NewWithdrawalHandler(withdrawalUC, logger),
		logger,
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      routes,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("custody service listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
