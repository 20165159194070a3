package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"custody-service/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Success: false, Code: code, Message: message})
}

// respondDomainError maps the error taxonomy to structured codes. Validation
// failures carry their message through; anything unrecognized is an internal
// error and its details stay in the logs.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		respondError(w, http.StatusUnauthorized, "invalid_signature", "webhook signature verification failed")
	case errors.Is(err, domain.ErrInvalidAddressFormat):
		respondError(w, http.StatusBadRequest, "invalid_address", err.Error())
	case errors.Is(err, domain.ErrBelowMinimum):
		respondError(w, http.StatusBadRequest, "below_minimum", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		respondError(w, http.StatusBadRequest, "insufficient_funds", "wallet balance is insufficient for this withdrawal")
	case errors.Is(err, domain.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "resource not found")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
