// Command mock-endpoints is a local webhook receiver for exercising the
// delivery pipeline: it answers with fixed statuses, delays or flaps, and
// checks the X-Signature header when WEBHOOK_SECRET is set.
package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Priya8975/hookrelay/internal/engine"
	"github.com/Priya8975/hookrelay/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type receiver struct {
	signer *engine.Signer
	secret string
	strict bool
	logger *slog.Logger

	total    atomic.Int64
	verified atomic.Int64
	rejected atomic.Int64

	mu    sync.Mutex
	flaky map[string]int
}

func main() {
	logger := logging.New(os.Stdout, os.Getenv("LOG_LEVEL"))

	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	strict, _ := strconv.ParseBool(os.Getenv("STRICT_SIGNATURES"))

	rc := &receiver{
		signer: engine.NewSigner("", ""),
		secret: os.Getenv("WEBHOOK_SECRET"),
		strict: strict,
		logger: logger,
		flaky:  make(map[string]int),
	}

	logger.Info("mock endpoints starting", "port", port, "verify_signatures", rc.secret != "", "strict", strict)
	if err := http.ListenAndServe(":"+port, rc.routes()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (rc *receiver) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/webhook/success", rc.handle(func(http.ResponseWriter, *http.Request, envelope) int {
		return http.StatusOK
	}))
	r.Post("/webhook/slow", rc.handle(func(_ http.ResponseWriter, r *http.Request, _ envelope) int {
		delay := 3 * time.Second
		if d, err := time.ParseDuration(r.URL.Query().Get("delay")); err == nil {
			delay = d
		}
		time.Sleep(delay)
		return http.StatusOK
	}))
	r.Post("/webhook/fail", rc.handle(func(http.ResponseWriter, *http.Request, envelope) int {
		return http.StatusInternalServerError
	}))
	r.Post("/webhook/reject", rc.handle(func(http.ResponseWriter, *http.Request, envelope) int {
		return http.StatusBadRequest
	}))
	// Fails the first ?failures= deliveries of each event, then succeeds.
	r.Post("/webhook/flaky", rc.handle(func(_ http.ResponseWriter, r *http.Request, env envelope) int {
		failures := 2
		if n, err := strconv.Atoi(r.URL.Query().Get("failures")); err == nil {
			failures = n
		}
		rc.mu.Lock()
		defer rc.mu.Unlock()
		rc.flaky[env.EventID]++
		if rc.flaky[env.EventID] <= failures {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	}))

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int64{
			"total_requests":      rc.total.Load(),
			"verified_signatures": rc.verified.Load(),
			"rejected_signatures": rc.rejected.Load(),
		})
	})
	return r
}

type envelope struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
}

func (rc *receiver) handle(status func(http.ResponseWriter, *http.Request, envelope) int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := rc.total.Add(1)

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}
		var env envelope
		_ = json.Unmarshal(body, &env)

		valid := rc.checkSignature(body, r.Header.Get(engine.HeaderSignature))
		if !valid && rc.strict {
			rc.logger.Warn("signature rejected", "request", n, "event_id", env.EventID)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}

		code := status(w, r, env)
		rc.logger.Info("webhook received",
			"request", n,
			"path", r.URL.Path,
			"status", code,
			"event_id", env.EventID,
			"event_type", env.EventType,
			"timestamp", r.Header.Get(engine.HeaderTimestamp),
			"user_agent", r.UserAgent(),
			"signature_valid", valid,
		)

		if code >= 400 {
			writeJSON(w, code, map[string]string{"error": http.StatusText(code)})
			return
		}
		writeJSON(w, code, map[string]string{"status": "received"})
	}
}

// checkSignature always passes when no secret is configured.
func (rc *receiver) checkSignature(body []byte, signature string) bool {
	if rc.secret == "" {
		return true
	}
	if rc.signer.Verify(body, signature, rc.secret) {
		rc.verified.Add(1)
		return true
	}
	rc.rejected.Add(1)
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
