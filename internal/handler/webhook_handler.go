package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"custody-service/internal/domain"
	"custody-service/internal/usecase"
)

// SignatureHeader carries the provider's hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Signature"

const maxWebhookBody = 1 << 20 // 1 MiB

type WebhookHandler struct {
	deposits *usecase.DepositUsecase
	logger   *zap.Logger
}

func NewWebhookHandler(deposits *usecase.DepositUsecase, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		deposits: deposits,
		logger:   logger,
	}
}

// HandleActivity ingests a chain-activity webhook. The signature is verified
// over the raw body before any item is processed; a partial batch still
// returns 200 with processed < total.
func (h *WebhookHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		respondError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}

	var webhook domain.ActivityWebhook
	if err := json.Unmarshal(body, &webhook); err != nil {
		h.logger.Warn("unparseable webhook body", zap.Error(err))
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	network, ok := domain.ParseNetwork(webhook.Event.Network)
	if !ok {
		respondError(w, http.StatusBadRequest, "bad_request", "unsupported network")
		return
	}

	if err := h.deposits.VerifySignature(ctx, network, body, r.Header.Get(SignatureHeader)); err != nil {
		h.logger.Warn("webhook rejected",
			zap.String("network", string(network)),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		respondDomainError(w, err)
		return
	}

	result, err := h.deposits.Process(ctx, &webhook)
	if err != nil {
		h.logger.Error("failed to process webhook", zap.Error(err))
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"processed": result.Processed,
		"total":     result.Total,
	})
}
