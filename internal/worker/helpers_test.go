package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/hookrelay/internal/cache"
	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/Priya8975/hookrelay/internal/engine"
	"github.com/Priya8975/hookrelay/internal/ledger"
	"github.com/Priya8975/hookrelay/internal/metrics"
	"github.com/Priya8975/hookrelay/internal/store/memory"
	"github.com/Priya8975/hookrelay/internal/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type notifications struct {
	mu     sync.Mutex
	events []websocket.DeliveryEvent
}

func (n *notifications) Broadcast(e websocket.DeliveryEvent) {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
}

func (n *notifications) all() []websocket.DeliveryEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]websocket.DeliveryEvent(nil), n.events...)
}

type fixture struct {
	store    *memory.Store
	ledger   *ledger.Ledger
	registry *engine.Registry
	signer   *engine.Signer
	policy   *engine.RetryPolicy
	metrics  *metrics.Metrics
	notes    *notifications
	executor *Executor
}

func newFixture(t *testing.T, retry engine.RetryConfig) *fixture {
	t.Helper()
	logger := testLogger()
	st := memory.New()

	f := &fixture{
		store:    st,
		ledger:   ledger.New(st, logger),
		registry: engine.NewRegistry(st, st, cache.NewMemoryWebhookCache(0, time.Minute), logger),
		signer:   engine.NewSigner("", ""),
		policy:   engine.NewRetryPolicy(retry),
		metrics:  metrics.New(prometheus.NewRegistry()),
		notes:    &notifications{},
	}
	f.executor = NewExecutor(NewHTTPTransport(nil), f.signer, f.policy, f.ledger, f.notes, f.metrics, logger,
		ExecutorConfig{Timeout: 2 * time.Second})
	return f
}

func (f *fixture) addEvent(t *testing.T, eventType string) *domain.Event {
	t.Helper()
	e, err := f.store.CreateEvent(context.Background(), &domain.Event{
		Type:           eventType,
		Name:           "Test event",
		Payload:        json.RawMessage(`{"id":"42","title":"Engineer"}`),
		Source:         "tests",
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) addWebhook(url string, active bool, eventTypes ...string) *domain.Webhook {
	return f.store.AddWebhook(domain.Webhook{
		Name:       "receiver",
		URL:        url,
		EventTypes: eventTypes,
		SecretKey:  "whsec-test",
		IsActive:   active,
	})
}

func (f *fixture) attempts(t *testing.T, eventID string) []domain.DeliveryAttempt {
	t.Helper()
	rows, err := f.ledger.ByEvent(context.Background(), eventID)
	require.NoError(t, err)
	return rows
}

// fastRetries makes every retry due almost immediately.
func fastRetries() engine.RetryConfig {
	return engine.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 2}
}
