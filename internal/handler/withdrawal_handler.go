package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custody-service/internal/domain"
	"custody-service/internal/usecase"
)

type WithdrawalHandler struct {
	withdrawals *usecase.WithdrawalUsecase
	logger      *zap.Logger
}

func NewWithdrawalHandler(withdrawals *usecase.WithdrawalUsecase, logger *zap.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawals: withdrawals,
		logger:      logger,
	}
}

type withdrawalRequest struct {
	Network   string          `json:"network"`
	Currency  string          `json:"currency"`
	Address   string          `json:"address"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
}

// RequestWithdrawal validates and reserves a payout. The response transaction
// stays pending until the broadcaster settles it.
func (h *WithdrawalHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	network, ok := domain.ParseNetwork(req.Network)
	if !ok {
		respondError(w, http.StatusBadRequest, "bad_request", "unsupported network")
		return
	}

	tx, err := h.withdrawals.RequestWithdrawal(r.Context(), usecase.WithdrawalRequest{
		UserID:    userID,
		Network:   network,
		Currency:  req.Currency,
		Address:   req.Address,
		AmountUSD: req.AmountUSD,
	})
	if err != nil {
		h.logger.Warn("withdrawal rejected",
			zap.String("user_id", userID),
			zap.String("network", string(network)),
			zap.Error(err),
		)
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"transaction_id": tx.ID,
		"message":        "withdrawal accepted and queued for broadcast",
	})
}

// ListPending exposes the broadcast queue to the out-of-band broadcaster.
func (h *WithdrawalHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	txs, err := h.withdrawals.PendingWithdrawals(r.Context(), 100)
	if err != nil {
		h.logger.Error("failed to list pending withdrawals", zap.Error(err))
		respondDomainError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		out = append(out, map[string]any{
			"transaction_id": tx.ID,
			"wallet_id":      tx.WalletID,
			"network":        tx.Network,
			"currency":       tx.Currency,
			"amount_usd":     tx.AmountUSD,
			"destination":    tx.Metadata["destination"],
			"created_at":     tx.CreatedAt,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{"withdrawals": out})
}

type settleRequest struct {
	TransactionID string `json:"transaction_id"`
	Outcome       string `json:"outcome"`
}

// Settle is called by the broadcaster after a broadcast attempt resolves.
func (h *WithdrawalHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	tx, err := h.withdrawals.Settle(r.Context(), req.TransactionID, domain.TransactionStatus(req.Outcome))
	if err != nil {
		h.logger.Warn("settlement rejected",
			zap.String("transaction_id", req.TransactionID),
			zap.String("outcome", req.Outcome),
			zap.Error(err),
		)
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"transaction_id": tx.ID,
		"status":         tx.Status,
	})
}
