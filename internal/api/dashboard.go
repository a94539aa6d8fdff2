package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/Priya8975/hookrelay/internal/metrics"
)

type WebhookCounter interface {
	CountActiveWebhooks(ctx context.Context) (int64, error)
}

// ClientCounter reports connected live-feed clients.
type ClientCounter interface {
	ClientCount() int
}

type DashboardHandler struct {
	events     EventReader
	ledger     LedgerReader
	webhooks   WebhookCounter
	queueDepth metrics.Depth
	retryDepth metrics.Depth
	clients    ClientCounter
	logger     *slog.Logger
}

func NewDashboardHandler(e EventReader, l LedgerReader, wc WebhookCounter, queueDepth, retryDepth metrics.Depth, clients ClientCounter, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		events:     e,
		ledger:     l,
		webhooks:   wc,
		queueDepth: queueDepth,
		retryDepth: retryDepth,
		clients:    clients,
		logger:     logger,
	}
}

type overviewResponse struct {
	Events           []domain.EventTypeStats `json:"events"`
	Deliveries       *domain.DeliveryStats   `json:"deliveries"`
	ActiveWebhooks   int64                   `json:"active_webhooks"`
	QueueDepth       int64                   `json:"queue_depth"`
	ScheduledRetries int64                   `json:"scheduled_retries"`
	WebSocketClients int                     `json:"websocket_clients"`
}

// Overview returns the aggregated numbers shown on the dashboard. Queue
// sizes that cannot be read are reported as -1 rather than failing.
func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	events, err := h.events.EventStatsByType(ctx)
	if err != nil {
		respondServiceError(w, h.logger, "failed to compute event stats", err)
		return
	}
	deliveries, err := h.ledger.Stats(ctx, "")
	if err != nil {
		respondServiceError(w, h.logger, "failed to compute delivery stats", err)
		return
	}
	active, err := h.webhooks.CountActiveWebhooks(ctx)
	if err != nil {
		respondServiceError(w, h.logger, "failed to count webhooks", err)
		return
	}

	resp := overviewResponse{
		Events:           events,
		Deliveries:       deliveries,
		ActiveWebhooks:   active,
		QueueDepth:       h.depth(ctx, "queue", h.queueDepth),
		ScheduledRetries: h.depth(ctx, "retries", h.retryDepth),
	}
	if h.clients != nil {
		resp.WebSocketClients = h.clients.ClientCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *DashboardHandler) depth(ctx context.Context, name string, d metrics.Depth) int64 {
	if d == nil {
		return -1
	}
	n, err := d(ctx)
	if err != nil {
		h.logger.Warn("failed to read depth", "name", name, "error", err)
		return -1
	}
	return n
}
