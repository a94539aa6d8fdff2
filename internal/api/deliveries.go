package api

import (
	"log/slog"
	"net/http"
)

type DeliveryHandler struct {
	ledger LedgerReader
	logger *slog.Logger
}

func NewDeliveryHandler(l LedgerReader, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{ledger: l, logger: logger}
}

// Recent returns the latest attempts across all webhooks.
func (h *DeliveryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := pagination(r)
	attempts, err := h.ledger.Recent(r.Context(), limit)
	if err != nil {
		respondServiceError(w, h.logger, "failed to list recent deliveries", err)
		return
	}
	respondJSON(w, http.StatusOK, attempts)
}

// Stats aggregates the ledger, optionally filtered by ?webhook_id=.
func (h *DeliveryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats(r.Context(), r.URL.Query().Get("webhook_id"))
	if err != nil {
		respondServiceError(w, h.logger, "failed to compute delivery stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
