package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/Priya8975/hookrelay/internal/ledger"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type Ingestor interface {
	Submit(ctx context.Context, req domain.SubmitEventRequest) (*domain.Event, error)
}

type EventReader interface {
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	ListEvents(ctx context.Context, eventType string, limit, offset int) ([]domain.Event, error)
	EventStatsByType(ctx context.Context) ([]domain.EventTypeStats, error)
}

type LedgerReader interface {
	ByEvent(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error)
	ByWebhook(ctx context.Context, webhookID string, limit, offset int) ([]domain.DeliveryAttempt, error)
	Recent(ctx context.Context, limit int) ([]domain.DeliveryAttempt, error)
	Stats(ctx context.Context, webhookID string) (*domain.DeliveryStats, error)
}

type Redeliverer interface {
	Redeliver(ctx context.Context, eventID, webhookID string) (*domain.RetryTask, error)
}

type EventHandler struct {
	ingestor Ingestor
	events   EventReader
	ledger   LedgerReader
	retries  Redeliverer
	logger   *slog.Logger
}

func NewEventHandler(i Ingestor, e EventReader, l LedgerReader, rd Redeliverer, logger *slog.Logger) *EventHandler {
	return &EventHandler{ingestor: i, events: e, ledger: l, retries: rd, logger: logger}
}

type submitEventResponse struct {
	Event     *domain.Event `json:"event"`
	Duplicate bool          `json:"duplicate"`
}

// Create ingests an event. A repeated idempotency key answers 409 with the
// event accepted the first time.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	event, err := h.ingestor.Submit(r.Context(), req)
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, submitEventResponse{Event: event})
	case errors.Is(err, domain.ErrDuplicateEvent):
		respondJSON(w, http.StatusConflict, submitEventResponse{Event: event, Duplicate: true})
	default:
		var pe *domain.PersistenceError
		if event != nil && errors.As(err, &pe) {
			// Stored but not queued; the stalled-event sweep will pick it up.
			h.logger.Warn("event stored but not enqueued", "event_id", event.ID, "error", err)
			respondJSON(w, http.StatusAccepted, submitEventResponse{Event: event})
			return
		}
		respondServiceError(w, h.logger, "failed to ingest event", err)
	}
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	events, err := h.events.ListEvents(r.Context(), r.URL.Query().Get("type"),
		ledger.ClampLimit(limit, ledger.DefaultPageSize), offset)
	if err != nil {
		respondServiceError(w, h.logger, "failed to list events", err)
		return
	}

	respondJSON(w, http.StatusOK, events)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	event, ok := h.loadEvent(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, event)
}

func (h *EventHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.events.EventStatsByType(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, "failed to compute event stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Deliveries lists every attempt for the event, oldest first.
func (h *EventHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	event, ok := h.loadEvent(w, r)
	if !ok {
		return
	}

	attempts, err := h.ledger.ByEvent(r.Context(), event.ID)
	if err != nil {
		respondServiceError(w, h.logger, "failed to list deliveries", err)
		return
	}
	respondJSON(w, http.StatusOK, attempts)
}

func (h *EventHandler) Redeliver(w http.ResponseWriter, r *http.Request) {
	task, err := h.retries.Redeliver(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "webhookId"))
	if err != nil {
		respondServiceError(w, h.logger, "failed to schedule redelivery", err)
		return
	}
	respondJSON(w, http.StatusAccepted, task)
}

func (h *EventHandler) loadEvent(w http.ResponseWriter, r *http.Request) (*domain.Event, bool) {
	event, err := h.events.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.logger, "failed to get event", err)
		return nil, false
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "event not found")
		return nil, false
	}
	return event, true
}
