package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/go-chi/chi/v5"
)

// WebhookAdmin is the registry's mutation and lookup surface.
type WebhookAdmin interface {
	Create(ctx context.Context, req domain.CreateWebhookRequest) (*domain.Webhook, error)
	Update(ctx context.Context, id string, req domain.UpdateWebhookRequest) (*domain.Webhook, error)
	SetActive(ctx context.Context, id string, active bool) (*domain.Webhook, error)
	Delete(ctx context.Context, id string) error
	Webhook(ctx context.Context, id string) (*domain.Webhook, error)
	ActiveWebhooks(ctx context.Context) ([]domain.Webhook, error)
}

type WebhookHandler struct {
	registry WebhookAdmin
	ledger   LedgerReader
	logger   *slog.Logger
}

func NewWebhookHandler(registry WebhookAdmin, l LedgerReader, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{registry: registry, ledger: l, logger: logger}
}

// Create registers a webhook. The response is the only place the signing
// secret is ever returned.
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	wh, err := h.registry.Create(r.Context(), req)
	if err != nil {
		respondServiceError(w, h.logger, "failed to create webhook", err)
		return
	}

	respondJSON(w, http.StatusCreated, domain.CreateWebhookResponse{
		ID:         wh.ID,
		Name:       wh.Name,
		URL:        wh.URL,
		EventTypes: wh.EventTypes,
		SecretKey:  wh.SecretKey,
	})
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.registry.ActiveWebhooks(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, "failed to list webhooks", err)
		return
	}
	respondJSON(w, http.StatusOK, webhooks)
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	wh, err := h.registry.Webhook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.logger, "failed to get webhook", err)
		return
	}
	if wh == nil {
		respondError(w, http.StatusNotFound, "webhook not found")
		return
	}
	respondJSON(w, http.StatusOK, wh)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Empty() {
		respondError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	wh, err := h.registry.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondServiceError(w, h.logger, "failed to update webhook", err)
		return
	}
	respondJSON(w, http.StatusOK, wh)
}

func (h *WebhookHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *WebhookHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *WebhookHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	wh, err := h.registry.SetActive(r.Context(), chi.URLParam(r, "id"), active)
	if err != nil {
		respondServiceError(w, h.logger, "failed to toggle webhook", err)
		return
	}
	respondJSON(w, http.StatusOK, wh)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, h.logger, "failed to delete webhook", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deliveries pages through the webhook's ledger, newest first. History is
// kept for deleted and inactive webhooks, so no existence check is made.
func (h *WebhookHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	attempts, err := h.ledger.ByWebhook(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		respondServiceError(w, h.logger, "failed to list deliveries", err)
		return
	}
	respondJSON(w, http.StatusOK, attempts)
}

func (h *WebhookHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.logger, "failed to compute delivery stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
