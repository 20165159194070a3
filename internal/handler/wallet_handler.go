package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"custody-service/internal/domain"
	"custody-service/internal/usecase"
)

// UserIDHeader is injected by the API gateway after authentication.
const UserIDHeader = "X-User-ID"

type WalletHandler struct {
	wallets *usecase.WalletUsecase
	logger  *zap.Logger
}

func NewWalletHandler(wallets *usecase.WalletUsecase, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{
		wallets: wallets,
		logger:  logger,
	}
}

func authenticatedUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(UserIDHeader)
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "missing user identity")
		return "", false
	}
	return userID, true
}

// GetWallet returns the user's wallet, creating it on first access.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	wallet, err := h.wallets.GetOrCreateWallet(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get wallet", zap.String("user_id", userID), zap.Error(err))
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"wallet_id":   wallet.ID,
		"balance_usd": wallet.BalanceUSD,
	})
}

type createAddressRequest struct {
	Network string `json:"network"`
}

// CreateAddress provisions a deposit address for the user on a network.
// Re-requesting an existing address succeeds with existing=true.
func (h *WalletHandler) CreateAddress(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	var req createAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	network, ok := domain.ParseNetwork(req.Network)
	if !ok {
		respondError(w, http.StatusBadRequest, "bad_request", "unsupported network")
		return
	}

	addr, existing, err := h.wallets.CreateDepositAddress(r.Context(), userID, network)
	if err != nil {
		h.logger.Error("failed to create deposit address",
			zap.String("user_id", userID),
			zap.String("network", string(network)),
			zap.Error(err),
		)
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"address":  addr.Address,
		"network":  addr.Network,
		"existing": existing,
	})
}

// ExportKey releases the plaintext private key to the owning user and records
// the export.
func (h *WalletHandler) ExportKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	addressID := chi.URLParam(r, "id")

	export, err := h.wallets.ExportKey(r.Context(), userID, addressID)
	if err != nil {
		h.logger.Error("failed to export key",
			zap.String("user_id", userID),
			zap.String("address_id", addressID),
			zap.Error(err),
		)
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"network":     export.Network,
		"address":     export.Address,
		"private_key": export.PrivateKey,
		"warning":     export.Warning,
	})
}

// ListTransactions returns the user's ledger history, newest first.
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	txs, err := h.wallets.Transactions(r.Context(), userID, 50)
	if err != nil {
		h.logger.Error("failed to list transactions", zap.String("user_id", userID), zap.Error(err))
		respondDomainError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		entry := map[string]any{
			"id":            tx.ID,
			"type":          tx.Type,
			"status":        tx.Status,
			"amount_usd":    tx.AmountUSD,
			"currency":      tx.Currency,
			"network":       tx.Network,
			"amount_crypto": tx.AmountCrypto,
			"created_at":    tx.CreatedAt,
		}
		if tx.TxHash != nil {
			entry["tx_hash"] = *tx.TxHash
		}
		out = append(out, entry)
	}

	respondJSON(w, http.StatusOK, map[string]any{"transactions": out})
}
