package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/Priya8975/hookrelay/internal/engine"
	"github.com/Priya8975/hookrelay/internal/metrics"
	"github.com/Priya8975/hookrelay/internal/websocket"
)

const (
	// MaxStoredResponseBody caps the response body kept in the ledger.
	MaxStoredResponseBody = 1000

	// timestampLayout matches the millisecond ISO-8601 form receivers see
	// in the payload envelope.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"

	recordTimeout = 5 * time.Second
)

// Response is what the transport observed from the receiving endpoint.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport performs one outbound POST. A non-nil error means no HTTP
// response was received at all.
type Transport interface {
	Post(ctx context.Context, url string, body []byte, header http.Header, timeout time.Duration) (*Response, error)
}

// HTTPTransport is the production Transport over net/http.
type HTTPTransport struct {
	client  *http.Client
	maxRead int64
}

// NewHTTPTransport wraps client. A nil client gets one that reports
// redirects as responses instead of following them.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &HTTPTransport{client: client, maxRead: 64 * 1024}
}

func (t *HTTPTransport) Post(ctx context.Context, url string, body []byte, header http.Header, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.TransportError{URL: url, Err: err}
	}
	req.Header = header.Clone()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &domain.TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	// A body that fails mid-read still came with a status; keep what arrived.
	data, _ := io.ReadAll(io.LimitReader(resp.Body, t.maxRead))
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// Recorder persists delivery attempts to the ledger.
type Recorder interface {
	Record(ctx context.Context, a *domain.DeliveryAttempt) error
}

// Notifier receives every recorded outcome, for live dashboards.
type Notifier interface {
	Broadcast(event websocket.DeliveryEvent)
}

// Outcome summarizes one attempt for the caller deciding what happens next.
type Outcome struct {
	Success     bool
	ShouldRetry bool
	StatusCode  *int
	Err         error
}

// ExecutorConfig holds the tunables of an Executor.
type ExecutorConfig struct {
	Timeout time.Duration
}

// Executor performs a single signed delivery attempt and records it.
type Executor struct {
	transport Transport
	signer    *engine.Signer
	policy    *engine.RetryPolicy
	ledger    Recorder
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
}

// NewExecutor builds an Executor. notifier and m may be nil.
func NewExecutor(transport Transport, signer *engine.Signer, policy *engine.RetryPolicy, ledger Recorder, notifier Notifier, m *metrics.Metrics, logger *slog.Logger, cfg ExecutorConfig) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Executor{
		transport: transport,
		signer:    signer,
		policy:    policy,
		ledger:    ledger,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		timeout:   cfg.Timeout,
		now:       time.Now,
	}
}

type envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	EventName string          `json:"eventName"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Payload builds the JSON body delivered for event. It depends only on the
// event, so every attempt of the same event carries identical bytes.
func Payload(event *domain.Event) ([]byte, error) {
	data := event.Payload
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	body, err := json.Marshal(envelope{
		EventID:   event.ID,
		EventType: event.Type,
		EventName: event.Name,
		Data:      data,
		Timestamp: event.CreatedAt.UTC().Format(timestampLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding payload for event %s: %w", event.ID, err)
	}
	return body, nil
}

// Attempt delivers event to webhook as attempt number attemptNumber. It
// never returns an error: every outcome, including local failures, is
// recorded in the ledger and reported through the returned Outcome.
func (e *Executor) Attempt(ctx context.Context, event *domain.Event, webhook *domain.Webhook, attemptNumber int) Outcome {
	attempt := &domain.DeliveryAttempt{
		EventID:       event.ID,
		WebhookID:     webhook.ID,
		AttemptNumber: attemptNumber,
	}

	var out Outcome
	start := e.now()

	body, err := Payload(event)
	if err != nil {
		// Nothing about this will improve on a later attempt.
		out.Err = err
		attempt.ErrorMessage = strPtr(err.Error())
		attempt.Status = domain.StatusFailed
		e.finish(ctx, event, webhook, attempt, out, 0)
		return out
	}

	resp, err := e.transport.Post(ctx, webhook.URL, body, e.signer.BuildHeaders(body, webhook.SecretKey), e.timeout)
	elapsed := e.now().Sub(start)
	attempt.DurationMs = elapsed.Milliseconds()

	if err != nil {
		out.Err = err
		attempt.ErrorMessage = strPtr(err.Error())
	} else {
		code := resp.StatusCode
		out.StatusCode = &code
		attempt.ResponseCode = &code
		attempt.ResponseBody = strPtr(truncateBody(resp.Body, MaxStoredResponseBody))
		if code >= 200 && code < 300 {
			out.Success = true
			delivered := e.now()
			attempt.DeliveredAt = &delivered
		} else {
			attempt.ErrorMessage = strPtr(fmt.Sprintf("HTTP %d: %s", code, http.StatusText(code)))
		}
	}

	switch {
	case out.Success:
		attempt.Status = domain.StatusSuccess
	case e.policy.ShouldRetry(attemptNumber, out.StatusCode):
		out.ShouldRetry = true
		attempt.Status = domain.StatusRetrying
	default:
		attempt.Status = domain.StatusFailed
	}

	e.finish(ctx, event, webhook, attempt, out, elapsed)
	return out
}

func (e *Executor) finish(ctx context.Context, event *domain.Event, webhook *domain.Webhook, attempt *domain.DeliveryAttempt, out Outcome, elapsed time.Duration) {
	// The attempt happened; record it even if the caller is shutting down.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := e.ledger.Record(recCtx, attempt); err != nil {
		e.logger.Error("failed to record delivery attempt",
			"error", err,
			"event_id", event.ID,
			"webhook_id", webhook.ID,
			"attempt", attempt.AttemptNumber,
		)
	}

	if e.metrics != nil {
		e.metrics.ObserveDelivery(string(attempt.Status), out.Success, elapsed)
	}

	if out.Success {
		e.logger.Info("delivery successful",
			"event_id", event.ID,
			"webhook_id", webhook.ID,
			"attempt", attempt.AttemptNumber,
			"status_code", *out.StatusCode,
			"duration_ms", attempt.DurationMs,
		)
	} else {
		e.logger.Warn("delivery failed",
			"event_id", event.ID,
			"webhook_id", webhook.ID,
			"attempt", attempt.AttemptNumber,
			"status", attempt.Status,
			"status_code", out.StatusCode,
			"error", deref(attempt.ErrorMessage),
			"duration_ms", attempt.DurationMs,
		)
	}

	if e.notifier != nil {
		e.notifier.Broadcast(websocket.DeliveryEvent{
			Type:       "delivery_" + string(attempt.Status),
			EventID:    event.ID,
			EventType:  event.Type,
			WebhookID:  webhook.ID,
			WebhookURL: webhook.URL,
			Attempt:    attempt.AttemptNumber,
			StatusCode: out.StatusCode,
			DurationMs: attempt.DurationMs,
			Error:      deref(attempt.ErrorMessage),
			Timestamp:  e.now(),
		})
	}
}

// truncateBody keeps at most limit characters of valid UTF-8. Postgres
// TEXT rejects NUL bytes and invalid sequences, so both are scrubbed.
func truncateBody(b []byte, limit int) string {
	s := strings.ToValidUTF8(string(b), "�")
	s = strings.ReplaceAll(s, "\x00", "")
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func strPtr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
