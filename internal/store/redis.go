package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis key layout shared by the queue, the retry schedule and the caches.
const (
	DeliveryQueueKey   = "delivery:queue"
	RetryScheduleKey   = "retry:schedule"
	RetryInflightKey   = "retry:inflight"
	WebhookChangesChan = "webhooks:changed"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
