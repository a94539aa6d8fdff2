package cache

import (
	"context"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemoryEntries = 1024

// MemoryWebhookCache keeps subscriber lists in an in-process LRU with a TTL.
// Suitable for a single process; other processes are reached through the
// registry's invalidation channel.
type MemoryWebhookCache struct {
	cache *lru.LRU[string, []domain.Webhook]
}

func NewMemoryWebhookCache(size int, ttl time.Duration) *MemoryWebhookCache {
	if size <= 0 {
		size = defaultMemoryEntries
	}
	return &MemoryWebhookCache{
		cache: lru.NewLRU[string, []domain.Webhook](size, nil, ttl),
	}
}

func (c *MemoryWebhookCache) Get(_ context.Context, key string) ([]domain.Webhook, bool, error) {
	ws, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return cloneWebhooks(ws), true, nil
}

func (c *MemoryWebhookCache) Set(_ context.Context, key string, webhooks []domain.Webhook) error {
	c.cache.Add(key, cloneWebhooks(webhooks))
	return nil
}

func (c *MemoryWebhookCache) InvalidateAll(_ context.Context) error {
	c.cache.Purge()
	return nil
}

func (c *MemoryWebhookCache) Len() int {
	return c.cache.Len()
}

// MemoryEventCache is an in-process idempotency cache.
type MemoryEventCache struct {
	cache *lru.LRU[string, domain.Event]
}

func NewMemoryEventCache(size int, ttl time.Duration) *MemoryEventCache {
	if size <= 0 {
		size = defaultMemoryEntries
	}
	return &MemoryEventCache{
		cache: lru.NewLRU[string, domain.Event](size, nil, ttl),
	}
}

func (c *MemoryEventCache) Get(_ context.Context, idempotencyKey string) (*domain.Event, bool, error) {
	e, ok := c.cache.Get(idempotencyKey)
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (c *MemoryEventCache) Set(_ context.Context, idempotencyKey string, e *domain.Event) error {
	c.cache.Add(idempotencyKey, *e)
	return nil
}
