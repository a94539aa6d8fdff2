// Package cache holds the subscriber and idempotency caches used by the
// registry and the ingestor.
package cache

import (
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
)

// Key helpers shared by every backend.
const (
	ActiveWebhooksKey = "active_webhooks"
	webhookKeyPrefix  = "webhook:"
	eventTypeKeyPfx   = "webhook:event:"
	eventKeyPrefix    = "event:"
)

func WebhookKey(id string) string           { return webhookKeyPrefix + id }
func EventTypeKey(eventType string) string  { return eventTypeKeyPfx + eventType }
func EventKey(idempotencyKey string) string { return eventKeyPrefix + idempotencyKey }

// cachedWebhook mirrors domain.Webhook including the secret, which the
// domain type deliberately hides from JSON.
type cachedWebhook struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	EventTypes  []string  `json:"event_types"`
	SecretKey   string    `json:"secret_key"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toCached(ws []domain.Webhook) []cachedWebhook {
	out := make([]cachedWebhook, len(ws))
	for i, w := range ws {
		out[i] = cachedWebhook(w)
	}
	return out
}

func fromCached(cs []cachedWebhook) []domain.Webhook {
	out := make([]domain.Webhook, len(cs))
	for i, c := range cs {
		out[i] = domain.Webhook(c)
	}
	return out
}

// cloneWebhooks copies the slice and each EventTypes slice so callers
// cannot mutate cached entries.
func cloneWebhooks(ws []domain.Webhook) []domain.Webhook {
	out := make([]domain.Webhook, len(ws))
	for i, w := range ws {
		w.EventTypes = append([]string(nil), w.EventTypes...)
		out[i] = w
	}
	return out
}
