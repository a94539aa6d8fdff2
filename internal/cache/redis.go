package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/redis/go-redis/v9"
)

// webhookIndexKey is a set of every webhook cache key written, so
// invalidation never needs a KEYS scan.
const webhookIndexKey = "webhook:cache:index"

// RedisWebhookCache stores subscriber lists as JSON strings with a TTL.
type RedisWebhookCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisWebhookCache(client *redis.Client, ttl time.Duration) *RedisWebhookCache {
	return &RedisWebhookCache{client: client, ttl: ttl}
}

func (c *RedisWebhookCache) Get(ctx context.Context, key string) ([]domain.Webhook, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache %s: %w", key, err)
	}

	var cached []cachedWebhook
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false, fmt.Errorf("decoding cache %s: %w", key, err)
	}
	return fromCached(cached), true, nil
}

func (c *RedisWebhookCache) Set(ctx context.Context, key string, webhooks []domain.Webhook) error {
	data, err := json.Marshal(toCached(webhooks))
	if err != nil {
		return fmt.Errorf("encoding cache %s: %w", key, err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, data, c.ttl)
	pipe.SAdd(ctx, webhookIndexKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing cache %s: %w", key, err)
	}
	return nil
}

// InvalidateAll drops every webhook cache entry.
func (c *RedisWebhookCache) InvalidateAll(ctx context.Context) error {
	keys, err := c.client.SMembers(ctx, webhookIndexKey).Result()
	if err != nil {
		return fmt.Errorf("reading cache index: %w", err)
	}

	keys = append(keys, ActiveWebhooksKey, webhookIndexKey)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidating webhook cache: %w", err)
	}
	return nil
}

// RedisEventCache is the idempotency fast path: event:<key> → event JSON.
type RedisEventCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisEventCache(client *redis.Client, ttl time.Duration) *RedisEventCache {
	return &RedisEventCache{client: client, ttl: ttl}
}

func (c *RedisEventCache) Get(ctx context.Context, idempotencyKey string) (*domain.Event, bool, error) {
	data, err := c.client.Get(ctx, EventKey(idempotencyKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading event cache: %w", err)
	}

	var e domain.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("decoding event cache: %w", err)
	}
	return &e, true, nil
}

func (c *RedisEventCache) Set(ctx context.Context, idempotencyKey string, e *domain.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event cache: %w", err)
	}
	if err := c.client.Set(ctx, EventKey(idempotencyKey), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing event cache: %w", err)
	}
	return nil
}
