package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/hookrelay/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LiveFeed upgrades a request to the delivery event stream.
type LiveFeed interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

// Deps are the services the HTTP layer is built on. Hub, Metrics and the
// depth readers are optional.
type Deps struct {
	Ingestor Ingestor
	Events   EventReader
	Ledger   LedgerReader
	Retries  Redeliverer
	Webhooks WebhookAdmin
	Counter  WebhookCounter

	Hub        LiveFeed
	Clients    ClientCounter
	Metrics    http.Handler
	QueueDepth metrics.Depth
	RetryDepth metrics.Depth
	Checks     map[string]Pinger

	AllowedOrigins []string
	Version        string
	Logger         *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&slogFormatter{logger: d.Logger}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(corsMiddleware(d.AllowedOrigins))

	eventHandler := NewEventHandler(d.Ingestor, d.Events, d.Ledger, d.Retries, d.Logger)
	webhookHandler := NewWebhookHandler(d.Webhooks, d.Ledger, d.Logger)
	deliveryHandler := NewDeliveryHandler(d.Ledger, d.Logger)

	if d.Hub != nil {
		r.Get("/ws", d.Hub.HandleWebSocket)
	}
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(d.Version, d.Checks))

		r.Route("/events", func(r chi.Router) {
			r.Post("/", eventHandler.Create)
			r.Get("/", eventHandler.List)
			r.Get("/stats", eventHandler.Stats)
			r.Get("/{id}", eventHandler.Get)
			r.Get("/{id}/deliveries", eventHandler.Deliveries)
			r.Post("/{id}/redeliver/{webhookId}", eventHandler.Redeliver)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", webhookHandler.Create)
			r.Get("/", webhookHandler.List)
			r.Get("/{id}", webhookHandler.Get)
			r.Patch("/{id}", webhookHandler.Update)
			r.Delete("/{id}", webhookHandler.Delete)
			r.Post("/{id}/activate", webhookHandler.Activate)
			r.Post("/{id}/deactivate", webhookHandler.Deactivate)
			r.Get("/{id}/deliveries", webhookHandler.Deliveries)
			r.Get("/{id}/stats", webhookHandler.Stats)
		})

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/recent", deliveryHandler.Recent)
			r.Get("/stats", deliveryHandler.Stats)
		})

		if d.Counter != nil {
			dash := NewDashboardHandler(d.Events, d.Ledger, d.Counter, d.QueueDepth, d.RetryDepth, d.Clients, d.Logger)
			r.Get("/dashboard/overview", dash.Overview)
		}
	})

	return r
}

// slogFormatter plugs slog into chi's RequestLogger: one line per request,
// plus panics caught by Recoverer.
type slogFormatter struct {
	logger *slog.Logger
}

func (f *slogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &slogEntry{logger: f.logger.With(
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
	)}
}

type slogEntry struct {
	logger *slog.Logger
}

func (e *slogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	e.logger.Info("http request",
		"status", status,
		"bytes", bytes,
		"duration_ms", elapsed.Milliseconds(),
	)
}

func (e *slogEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error("handler panicked", "panic", fmt.Sprint(v), "stack", string(stack))
}

// corsMiddleware allows the listed origins, or any origin when none are
// configured.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if len(set) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if _, ok := set[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
