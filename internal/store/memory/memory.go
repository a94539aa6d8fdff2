// Package memory is an in-process implementation of the Postgres store
// methods, for tests and local runs without a database.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/google/uuid"
)

// ErrUnavailable is returned by every method while the store is failed.
var ErrUnavailable = errors.New("store unavailable")

type Store struct {
	mu       sync.RWMutex
	events   map[string]*domain.Event
	byKey    map[string]string
	webhooks map[string]*domain.Webhook
	attempts []domain.DeliveryAttempt
	failing  bool
	now      func() time.Time
}

func New() *Store {
	return &Store{
		events:   make(map[string]*domain.Event),
		byKey:    make(map[string]string),
		webhooks: make(map[string]*domain.Webhook),
		now:      time.Now,
	}
}

// SetFailing makes every subsequent call fail with ErrUnavailable.
func (s *Store) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

func (s *Store) CreateEvent(_ context.Context, e *domain.Event) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, ErrUnavailable
	}

	if _, ok := s.byKey[e.IdempotencyKey]; ok {
		return nil, fmt.Errorf("inserting event %s: %w", e.IdempotencyKey, domain.ErrDuplicateEvent)
	}

	c := *e
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = s.now()
	c.ProcessedAt = nil
	s.events[c.ID] = &c
	s.byKey[c.IdempotencyKey] = c.ID

	out := c
	return &out, nil
}

func (s *Store) GetEvent(_ context.Context, id string) (*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing {
		return nil, ErrUnavailable
	}

	e, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (s *Store) GetEventByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error) {
	s.mu.RLock()
	id, ok := s.byKey[key]
	s.mu.RUnlock()
	if !ok {
		if s.isFailing() {
			return nil, ErrUnavailable
		}
		return nil, nil
	}
	return s.GetEvent(ctx, id)
}

func (s *Store) MarkEventProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return ErrUnavailable
	}

	if e, ok := s.events[id]; ok && e.ProcessedAt == nil {
		now := s.now()
		e.ProcessedAt = &now
	}
	return nil
}

func (s *Store) ListEvents(_ context.Context, eventType string, limit, offset int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing {
		return nil, ErrUnavailable
	}

	var out []domain.Event
	for _, e := range s.events {
		if eventType == "" || e.Type == eventType {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (s *Store) ListStalledEvents(_ context.Context, cutoff time.Time, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing {
		return nil, ErrUnavailable
	}

	var out []domain.Event
	for _, e := range s.events {
		if e.ProcessedAt == nil && e.CreatedAt.Before(cutoff) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

func (s *Store) EventStatsByType(_ context.Context) ([]domain.EventTypeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing {
		return nil, ErrUnavailable
	}

	byType := map[string]*domain.EventTypeStats{}
	for _, e := range s.events {
		st, ok := byType[e.Type]
		if !ok {
			st = &domain.EventTypeStats{EventType: e.Type}
			byType[e.Type] = st
		}
		st.Total++
		if e.ProcessedAt != nil {
			st.Processed++
		} else {
			st.Unprocessed++
		}
	}

	out := make([]domain.EventTypeStats, 0, len(byType))
	for _, st := range byType {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].EventType < out[j].EventType
	})
	return out, nil
}

// AddWebhook stores w as-is, for test fixtures.
func (s *Store) AddWebhook(w domain.Webhook) *domain.Webhook {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now()
		w.UpdatedAt = w.CreatedAt
	}
	s.webhooks[w.ID] = &w
	c := w
	return &c
}

func (s *Store) CreateWebhook(_ context.Context, req domain.CreateWebhookRequest) (*domain.Webhook, error) {
	if s.isFailing() {
		return nil, ErrUnavailable
	}
	return s.AddWebhook(domain.Webhook{
		Name:        req.Name,
		URL:         req.URL,
		Description: req.Description,
		EventTypes:  append([]string(nil), req.EventTypes...),
		SecretKey:   uuid.NewString(),
		IsActive:    true,
	}), nil
}

func (s *Store) GetWebhook(_ context.Context, id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing {
		return nil, ErrUnavailable
	}

	w, ok := s.webhooks[id]
	if !ok {
		return nil, nil
	}
	c := *w
	return &c, nil
}

func (s *Store) ListActiveWebhooks(_ context.Context) ([]domain.Webhook, error) {
	return s.listWebhooks(func(w *domain.Webhook) bool { return w.IsActive })
}

func (s *Store) ListWebhooksByEventType(_ context.Context, eventType string) ([]domain.Webhook, error) {
	return s.listWebhooks(func(w *domain.Webhook) bool { return w.Subscribes(eventType) })
}

func (s *Store) CountActiveWebhooks(ctx context.Context) (int64, error) {
	ws, err := s.ListActiveWebhooks(ctx)
	return int64(len(ws)), err
}

func (s *Store) listWebhooks(match func(*domain.Webhook) bool) ([]domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing {
		return nil, ErrUnavailable
	}

	out := []domain.Webhook{}
	for _, w := range s.webhooks {
		if match(w) {
			c := *w
			c.EventTypes = append([]string(nil), w.EventTypes...)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateWebhook(_ context.Context, id string, req domain.UpdateWebhookRequest) (*domain.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, ErrUnavailable
	}

	w, ok := s.webhooks[id]
	if !ok {
		return nil, nil
	}
	if req.Name != nil {
		w.Name = *req.Name
	}
	if req.URL != nil {
		w.URL = *req.URL
	}
	if req.Description != nil {
		w.Description = *req.Description
	}
	if req.EventTypes != nil {
		w.EventTypes = append([]string(nil), (*req.EventTypes)...)
	}
	if req.IsActive != nil {
		w.IsActive = *req.IsActive
	}
	w.UpdatedAt = s.now()

	c := *w
	return &c, nil
}

func (s *Store) DeleteWebhook(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return false, ErrUnavailable
	}

	if _, ok := s.webhooks[id]; !ok {
		return false, nil
	}
	delete(s.webhooks, id)
	return true, nil
}

// AppendAttempt enforces the same (event, webhook, attempt) uniqueness as
// the Postgres schema.
func (s *Store) AppendAttempt(_ context.Context, a *domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return ErrUnavailable
	}

	for _, existing := range s.attempts {
		if existing.EventID == a.EventID && existing.WebhookID == a.WebhookID && existing.AttemptNumber == a.AttemptNumber {
			return fmt.Errorf("attempt %d for event %s webhook %s already recorded", a.AttemptNumber, a.EventID, a.WebhookID)
		}
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now()
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *Store) ListAttemptsByEvent(_ context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	out, err := s.filterAttempts(func(a *domain.DeliveryAttempt) bool { return a.EventID == eventID })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListAttemptsByWebhook(_ context.Context, webhookID string, limit, offset int) ([]domain.DeliveryAttempt, error) {
	out, err := s.filterAttempts(func(a *domain.DeliveryAttempt) bool { return a.WebhookID == webhookID })
	if err != nil {
		return nil, err
	}
	newestFirst(out)
	return page(out, limit, offset), nil
}

func (s *Store) RecentAttempts(_ context.Context, limit int) ([]domain.DeliveryAttempt, error) {
	out, err := s.filterAttempts(func(*domain.DeliveryAttempt) bool { return true })
	if err != nil {
		return nil, err
	}
	newestFirst(out)
	return page(out, limit, 0), nil
}

func (s *Store) AttemptStats(_ context.Context, webhookID string) (*domain.DeliveryStats, error) {
	rows, err := s.filterAttempts(func(a *domain.DeliveryAttempt) bool {
		return webhookID == "" || a.WebhookID == webhookID
	})
	if err != nil {
		return nil, err
	}

	var st domain.DeliveryStats
	var sum int
	for _, a := range rows {
		st.Total++
		sum += a.AttemptNumber
		switch a.Status {
		case domain.StatusSuccess:
			st.Successful++
		case domain.StatusFailed:
			st.Failed++
		case domain.StatusRetrying:
			st.Retrying++
		case domain.StatusPending:
			st.Pending++
		}
	}
	if st.Total > 0 {
		st.AvgAttempts = float64(sum) / float64(st.Total)
	}
	return &st, nil
}

func (s *Store) LatestAttemptNumber(_ context.Context, eventID, webhookID string) (int, error) {
	rows, err := s.filterAttempts(func(a *domain.DeliveryAttempt) bool {
		return a.EventID == eventID && a.WebhookID == webhookID
	})
	if err != nil {
		return 0, err
	}

	latest := 0
	for _, a := range rows {
		if a.AttemptNumber > latest {
			latest = a.AttemptNumber
		}
	}
	return latest, nil
}

func (s *Store) PurgeAttemptsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, ErrUnavailable
	}

	kept := s.attempts[:0]
	var removed int64
	for _, a := range s.attempts {
		if a.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	return removed, nil
}

// SetClock overrides the store's notion of now, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) filterAttempts(match func(*domain.DeliveryAttempt) bool) ([]domain.DeliveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing {
		return nil, ErrUnavailable
	}

	out := []domain.DeliveryAttempt{}
	for i := range s.attempts {
		if match(&s.attempts[i]) {
			a := s.attempts[i]
			if e, ok := s.events[a.EventID]; ok {
				a.EventType = e.Type
			}
			if w, ok := s.webhooks[a.WebhookID]; ok {
				a.WebhookName = w.Name
				a.WebhookURL = w.URL
			}
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) isFailing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failing
}

func newestFirst(as []domain.DeliveryAttempt) {
	// Reverse insertion order breaks ties between equal timestamps.
	for i, j := 0, len(as)-1; i < j; i, j = i+1, j-1 {
		as[i], as[j] = as[j], as[i]
	}
	sort.SliceStable(as, func(i, j int) bool { return as[i].CreatedAt.After(as[j].CreatedAt) })
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
