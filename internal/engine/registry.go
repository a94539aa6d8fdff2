package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Priya8975/hookrelay/internal/cache"
	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SubscriptionStore is the read side of webhook persistence.
type SubscriptionStore interface {
	GetWebhook(ctx context.Context, id string) (*domain.Webhook, error)
	ListActiveWebhooks(ctx context.Context) ([]domain.Webhook, error)
	ListWebhooksByEventType(ctx context.Context, eventType string) ([]domain.Webhook, error)
}

// SubscriptionWriter is the write side, used only by the admin hooks.
type SubscriptionWriter interface {
	CreateWebhook(ctx context.Context, req domain.CreateWebhookRequest) (*domain.Webhook, error)
	UpdateWebhook(ctx context.Context, id string, req domain.UpdateWebhookRequest) (*domain.Webhook, error)
	DeleteWebhook(ctx context.Context, id string) (bool, error)
}

type WebhookCache interface {
	Get(ctx context.Context, key string) ([]domain.Webhook, bool, error)
	Set(ctx context.Context, key string, webhooks []domain.Webhook) error
	InvalidateAll(ctx context.Context) error
}

// Registry resolves which webhooks receive an event type. Reads go through
// a TTL cache; every mutation clears the whole webhook cache and announces
// the change on a Redis channel so other processes do the same.
type Registry struct {
	store   SubscriptionStore
	writer  SubscriptionWriter
	cache   WebhookCache
	changes *redis.Client
	channel string
	logger  *slog.Logger
}

type RegistryOption func(*Registry)

// WithChangeFeed publishes and listens for webhook changes on channel.
func WithChangeFeed(client *redis.Client, channel string) RegistryOption {
	return func(r *Registry) {
		r.changes = client
		r.channel = channel
	}
}

func NewRegistry(store SubscriptionStore, writer SubscriptionWriter, c WebhookCache, logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:  store,
		writer: writer,
		cache:  c,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ActiveSubscribersFor returns active webhooks subscribed to eventType.
func (r *Registry) ActiveSubscribersFor(ctx context.Context, eventType string) ([]domain.Webhook, error) {
	webhooks, err := r.cached(ctx, cache.EventTypeKey(eventType), func() ([]domain.Webhook, error) {
		return r.store.ListWebhooksByEventType(ctx, eventType)
	})
	if err != nil {
		return nil, err
	}

	matched := make([]domain.Webhook, 0, len(webhooks))
	for i := range webhooks {
		if webhooks[i].Subscribes(eventType) {
			matched = append(matched, webhooks[i])
		}
	}
	return matched, nil
}

func (r *Registry) ActiveWebhooks(ctx context.Context) ([]domain.Webhook, error) {
	webhooks, err := r.cached(ctx, cache.ActiveWebhooksKey, func() ([]domain.Webhook, error) {
		return r.store.ListActiveWebhooks(ctx)
	})
	if err != nil {
		return nil, err
	}

	active := make([]domain.Webhook, 0, len(webhooks))
	for _, w := range webhooks {
		if w.IsActive {
			active = append(active, w)
		}
	}
	return active, nil
}

// Webhook returns the webhook with id, or nil if it does not exist.
func (r *Registry) Webhook(ctx context.Context, id string) (*domain.Webhook, error) {
	webhooks, err := r.cached(ctx, cache.WebhookKey(id), func() ([]domain.Webhook, error) {
		w, err := r.store.GetWebhook(ctx, id)
		if err != nil || w == nil {
			return nil, err
		}
		return []domain.Webhook{*w}, nil
	})
	if err != nil {
		return nil, err
	}
	if len(webhooks) == 0 {
		return nil, nil
	}
	return &webhooks[0], nil
}

// cached serves key from the cache or loads and stores it. Cache faults
// degrade to a store read; a nil load result is not cached.
func (r *Registry) cached(ctx context.Context, key string, load func() ([]domain.Webhook, error)) ([]domain.Webhook, error) {
	webhooks, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("webhook cache read failed", "key", key, "error", err)
	}
	if ok {
		return webhooks, nil
	}

	webhooks, err = load()
	if err != nil {
		return nil, &domain.PersistenceError{Op: "loading webhooks", Err: err}
	}
	if webhooks == nil {
		return nil, nil
	}

	if err := r.cache.Set(ctx, key, webhooks); err != nil {
		r.logger.Warn("webhook cache write failed", "key", key, "error", err)
	}
	return webhooks, nil
}

// Create registers a webhook. The returned value carries the secret key;
// it is the only time the secret leaves the registry.
func (r *Registry) Create(ctx context.Context, req domain.CreateWebhookRequest) (*domain.Webhook, error) {
	if err := validateWebhookName(req.Name); err != nil {
		return nil, err
	}
	if err := validateDescription(req.Description); err != nil {
		return nil, err
	}
	if err := ValidateURL(req.URL); err != nil {
		return nil, err
	}
	types, err := validateEventTypes(req.EventTypes)
	if err != nil {
		return nil, err
	}
	req.EventTypes = types

	w, err := r.writer.CreateWebhook(ctx, req)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "creating webhook", Err: err}
	}

	r.changed(ctx, w.ID)
	r.logger.Info("webhook created", "webhook_id", w.ID, "event_types", w.EventTypes)
	return w, nil
}

func (r *Registry) Update(ctx context.Context, id string, req domain.UpdateWebhookRequest) (*domain.Webhook, error) {
	if req.Name != nil {
		if err := validateWebhookName(*req.Name); err != nil {
			return nil, err
		}
	}
	if req.URL != nil {
		if err := ValidateURL(*req.URL); err != nil {
			return nil, err
		}
	}
	if req.Description != nil {
		if err := validateDescription(*req.Description); err != nil {
			return nil, err
		}
	}
	if req.EventTypes != nil {
		types, err := validateEventTypes(*req.EventTypes)
		if err != nil {
			return nil, err
		}
		req.EventTypes = &types
	}

	w, err := r.writer.UpdateWebhook(ctx, id, req)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "updating webhook", Err: err}
	}
	if w == nil {
		return nil, fmt.Errorf("webhook %s: %w", id, domain.ErrNotFound)
	}

	r.changed(ctx, id)
	r.logger.Info("webhook updated", "webhook_id", id, "is_active", w.IsActive)
	return w, nil
}

// SetActive toggles delivery to the webhook on or off.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) (*domain.Webhook, error) {
	return r.Update(ctx, id, domain.UpdateWebhookRequest{IsActive: &active})
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	deleted, err := r.writer.DeleteWebhook(ctx, id)
	if err != nil {
		return &domain.PersistenceError{Op: "deleting webhook", Err: err}
	}
	if !deleted {
		return fmt.Errorf("webhook %s: %w", id, domain.ErrNotFound)
	}

	r.changed(ctx, id)
	r.logger.Info("webhook deleted", "webhook_id", id)
	return nil
}

// Invalidate drops every cached subscriber list.
func (r *Registry) Invalidate(ctx context.Context) {
	if err := r.cache.InvalidateAll(ctx); err != nil {
		r.logger.Error("webhook cache invalidation failed", "error", err)
	}
}

func (r *Registry) changed(ctx context.Context, id string) {
	r.Invalidate(ctx)
	if r.changes == nil {
		return
	}
	if err := r.changes.Publish(ctx, r.channel, id).Err(); err != nil {
		r.logger.Error("publishing webhook change failed", "webhook_id", id, "error", err)
	}
}

// Listen invalidates the cache whenever another process announces a
// webhook change. It blocks until ctx is cancelled.
func (r *Registry) Listen(ctx context.Context) error {
	if r.changes == nil {
		<-ctx.Done()
		return nil
	}

	sub := r.changes.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.logger.Debug("webhook change received", "webhook_id", msg.Payload)
			r.Invalidate(ctx)
		}
	}
}
