package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/Priya8975/hookrelay/internal/metrics"
)

type EventStore interface {
	CreateEvent(ctx context.Context, e *domain.Event) (*domain.Event, error)
	GetEventByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error)
}

// EventCache is the idempotency fast path keyed by idempotency key.
type EventCache interface {
	Get(ctx context.Context, idempotencyKey string) (*domain.Event, bool, error)
	Set(ctx context.Context, idempotencyKey string, e *domain.Event) error
}

type Publisher interface {
	Push(ctx context.Context, item domain.QueueItem) error
}

// Ingestor validates, deduplicates, persists and enqueues events.
type Ingestor struct {
	store   EventStore
	cache   EventCache
	queue   Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewIngestor(store EventStore, cache EventCache, queue Publisher, m *metrics.Metrics, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:   store,
		cache:   cache,
		queue:   queue,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Submit accepts an event for delivery. A repeated idempotency key returns
// the previously accepted event together with domain.ErrDuplicateEvent.
func (i *Ingestor) Submit(ctx context.Context, req domain.SubmitEventRequest) (*domain.Event, error) {
	if err := validateSubmit(req); err != nil {
		i.metrics.EventsIngested.WithLabelValues("invalid").Inc()
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		derived, err := DeriveIdempotencyKey(req.Type, req.Payload)
		if err != nil {
			return nil, err
		}
		key = derived
	}

	if cached, ok, err := i.cache.Get(ctx, key); err != nil {
		i.logger.Warn("idempotency cache read failed", "idempotency_key", key, "error", err)
	} else if ok {
		i.metrics.EventsIngested.WithLabelValues("duplicate").Inc()
		return cached, domain.ErrDuplicateEvent
	}

	event, err := i.store.CreateEvent(ctx, &domain.Event{
		Type:           req.Type,
		Name:           req.Name,
		Payload:        req.Payload,
		Source:         req.Source,
		IdempotencyKey: key,
	})
	if errors.Is(err, domain.ErrDuplicateEvent) {
		i.metrics.EventsIngested.WithLabelValues("duplicate").Inc()
		existing, lookupErr := i.store.GetEventByIdempotencyKey(ctx, key)
		if lookupErr != nil {
			i.logger.Warn("loading duplicate event failed", "idempotency_key", key, "error", lookupErr)
		}
		if existing != nil {
			i.remember(ctx, key, existing)
		}
		return existing, domain.ErrDuplicateEvent
	}
	if err != nil {
		i.metrics.EventsIngested.WithLabelValues("error").Inc()
		return nil, &domain.PersistenceError{Op: "storing event", Err: err}
	}

	i.remember(ctx, key, event)

	err = i.queue.Push(ctx, domain.QueueItem{
		EventID:    event.ID,
		EventType:  event.Type,
		EnqueuedAt: i.now(),
	})
	if err != nil {
		i.metrics.EventsIngested.WithLabelValues("error").Inc()
		i.logger.Error("event stored but not enqueued",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		return event, &domain.PersistenceError{Op: "enqueuing event", Err: err}
	}

	i.metrics.EventsIngested.WithLabelValues("created").Inc()
	i.logger.Info("event ingested",
		"event_id", event.ID,
		"event_type", event.Type,
		"source", event.Source,
	)
	return event, nil
}

func (i *Ingestor) remember(ctx context.Context, key string, e *domain.Event) {
	if err := i.cache.Set(ctx, key, e); err != nil {
		i.logger.Warn("idempotency cache write failed", "idempotency_key", key, "error", err)
	}
}

// DeriveIdempotencyKey hashes the event type with the canonical JSON form
// of payload. Object keys are sorted, so key order does not matter.
func DeriveIdempotencyKey(eventType string, payload json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", invalid("payload", "must be valid JSON")
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalizing payload: %w", err)
	}

	sum := sha256.Sum256(append([]byte(eventType+":"), canonical...))
	return hex.EncodeToString(sum[:]), nil
}
