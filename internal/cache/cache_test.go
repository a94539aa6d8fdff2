package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func sampleWebhooks() []domain.Webhook {
	return []domain.Webhook{
		{ID: "wh-1", Name: "orders", URL: "https://a.example/hook", EventTypes: []string{"job.created"}, SecretKey: "sek-1", IsActive: true},
		{ID: "wh-2", Name: "audit", URL: "https://b.example/hook", EventTypes: []string{"job.created", "job.deleted"}, SecretKey: "sek-2", IsActive: true},
	}
}

func TestRedisWebhookCache(t *testing.T) {
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		client, _ := setupRedis(t)
		c := NewRedisWebhookCache(client, time.Minute)

		ws, ok, err := c.Get(ctx, EventTypeKey("job.created"))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, ws)
	})

	t.Run("round trip keeps secrets", func(t *testing.T) {
		client, _ := setupRedis(t)
		c := NewRedisWebhookCache(client, time.Minute)

		require.NoError(t, c.Set(ctx, EventTypeKey("job.created"), sampleWebhooks()))

		ws, ok, err := c.Get(ctx, EventTypeKey("job.created"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, ws, 2)
		assert.Equal(t, "sek-1", ws[0].SecretKey)
		assert.Equal(t, []string{"job.created", "job.deleted"}, ws[1].EventTypes)
	})

	t.Run("entries expire", func(t *testing.T) {
		client, mr := setupRedis(t)
		c := NewRedisWebhookCache(client, time.Minute)

		require.NoError(t, c.Set(ctx, ActiveWebhooksKey, sampleWebhooks()))
		mr.FastForward(2 * time.Minute)

		_, ok, err := c.Get(ctx, ActiveWebhooksKey)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalidate all", func(t *testing.T) {
		client, mr := setupRedis(t)
		c := NewRedisWebhookCache(client, time.Minute)

		require.NoError(t, c.Set(ctx, EventTypeKey("job.created"), sampleWebhooks()))
		require.NoError(t, c.Set(ctx, EventTypeKey("job.deleted"), sampleWebhooks()[1:]))
		require.NoError(t, c.Set(ctx, ActiveWebhooksKey, sampleWebhooks()))
		require.NoError(t, c.Set(ctx, WebhookKey("wh-1"), sampleWebhooks()[:1]))

		require.NoError(t, c.InvalidateAll(ctx))

		for _, key := range []string{EventTypeKey("job.created"), EventTypeKey("job.deleted"), ActiveWebhooksKey, WebhookKey("wh-1")} {
			assert.False(t, mr.Exists(key), "expected %s to be removed", key)
		}
	})
}

func TestMemoryWebhookCache(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		c := NewMemoryWebhookCache(0, time.Minute)
		require.NoError(t, c.Set(ctx, ActiveWebhooksKey, sampleWebhooks()))

		ws, ok, err := c.Get(ctx, ActiveWebhooksKey)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, sampleWebhooks(), ws)
	})

	t.Run("callers cannot mutate entries", func(t *testing.T) {
		c := NewMemoryWebhookCache(0, time.Minute)
		require.NoError(t, c.Set(ctx, ActiveWebhooksKey, sampleWebhooks()))

		ws, _, _ := c.Get(ctx, ActiveWebhooksKey)
		ws[0].IsActive = false
		ws[1].EventTypes[0] = "mutated"

		again, _, _ := c.Get(ctx, ActiveWebhooksKey)
		assert.True(t, again[0].IsActive)
		assert.Equal(t, "job.created", again[1].EventTypes[0])
	})

	t.Run("entries expire", func(t *testing.T) {
		c := NewMemoryWebhookCache(0, 20*time.Millisecond)
		require.NoError(t, c.Set(ctx, ActiveWebhooksKey, sampleWebhooks()))

		assert.Eventually(t, func() bool {
			_, ok, _ := c.Get(ctx, ActiveWebhooksKey)
			return !ok
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("invalidate all", func(t *testing.T) {
		c := NewMemoryWebhookCache(0, time.Minute)
		require.NoError(t, c.Set(ctx, ActiveWebhooksKey, sampleWebhooks()))
		require.NoError(t, c.Set(ctx, EventTypeKey("job.created"), sampleWebhooks()))

		require.NoError(t, c.InvalidateAll(ctx))
		assert.Equal(t, 0, c.Len())
	})
}

func TestRedisEventCache(t *testing.T) {
	ctx := context.Background()
	client, mr := setupRedis(t)
	c := NewRedisEventCache(client, 30*time.Minute)

	_, ok, err := c.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, ok)

	event := &domain.Event{
		ID:             "evt-1",
		Type:           "job.created",
		Name:           "Job created",
		Payload:        json.RawMessage(`{"id":1}`),
		Source:         "ats",
		IdempotencyKey: "key-1",
		CreatedAt:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, c.Set(ctx, "key-1", event))
	assert.True(t, mr.Exists(EventKey("key-1")))

	got, ok, err := c.Get(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, event.ID, got.ID)
	assert.JSONEq(t, `{"id":1}`, string(got.Payload))
	assert.True(t, event.CreatedAt.Equal(got.CreatedAt))

	mr.FastForward(31 * time.Minute)
	_, ok, err = c.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
