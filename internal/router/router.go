package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"custody-service/internal/handler"
)

func SetupRoutes(
	webhookHandler *handler.WebhookHandler,
	walletHandler *handler.WalletHandler,
	withdrawalHandler *handler.WithdrawalHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-Signature"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Chain-activity provider delivers here, at least once per event.
		r.Post("/webhooks/activity", webhookHandler.HandleActivity)

		// User-facing wallet surface (gateway-authenticated).
		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", walletHandler.GetWallet)
			r.Get("/transactions", walletHandler.ListTransactions)
			r.Post("/addresses", walletHandler.CreateAddress)
			r.Post("/addresses/{id}/export", walletHandler.ExportKey)
			r.Post("/withdrawals", withdrawalHandler.RequestWithdrawal)
		})

		// Broadcaster surface: drains the pending queue and reports outcomes.
		r.Route("/broadcaster", func(r chi.Router) {
			r.Get("/withdrawals", withdrawalHandler.ListPending)
			r.Post("/settle", withdrawalHandler.Settle)
		})
	})

	return r
}

// LoggerMiddleware logs HTTP requests.
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
