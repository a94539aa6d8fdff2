package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Priya8975/hookrelay/internal/cache"
	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/Priya8975/hookrelay/internal/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestRegistry(t *testing.T) (*Registry, *memory.Store) {
	t.Helper()
	st := memory.New()
	r := NewRegistry(st, st, cache.NewMemoryWebhookCache(0, time.Minute), testLogger())
	return r, st
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]domain.Webhook, bool, error) {
	return nil, false, errors.New("cache down")
}
func (brokenCache) Set(context.Context, string, []domain.Webhook) error {
	return errors.New("cache down")
}
func (brokenCache) InvalidateAll(context.Context) error { return errors.New("cache down") }

func TestRegistry_ActiveSubscribersFor(t *testing.T) {
	r, st := setupTestRegistry(t)
	ctx := context.Background()

	st.AddWebhook(domain.Webhook{ID: "wh-1", Name: "a", EventTypes: []string{"job.created"}, IsActive: true})
	st.AddWebhook(domain.Webhook{ID: "wh-2", Name: "b", EventTypes: []string{"job.created", "job.deleted"}, IsActive: true})
	st.AddWebhook(domain.Webhook{ID: "wh-3", Name: "c", EventTypes: []string{"job.created"}, IsActive: false})
	st.AddWebhook(domain.Webhook{ID: "wh-4", Name: "d", EventTypes: []string{"job.deleted"}, IsActive: true})

	ws, err := r.ActiveSubscribersFor(ctx, "job.created")
	require.NoError(t, err)

	ids := []string{}
	for _, w := range ws {
		ids = append(ids, w.ID)
	}
	assert.ElementsMatch(t, []string{"wh-1", "wh-2"}, ids)

	none, err := r.ActiveSubscribersFor(ctx, "interview.scheduled")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRegistry_ServesFromCacheUntilInvalidated(t *testing.T) {
	r, st := setupTestRegistry(t)
	ctx := context.Background()

	st.AddWebhook(domain.Webhook{ID: "wh-1", Name: "a", EventTypes: []string{"job.created"}, IsActive: true})

	ws, err := r.ActiveSubscribersFor(ctx, "job.created")
	require.NoError(t, err)
	require.Len(t, ws, 1)

	// A write behind the registry's back is not visible until invalidation.
	st.AddWebhook(domain.Webhook{ID: "wh-2", Name: "b", EventTypes: []string{"job.created"}, IsActive: true})
	ws, _ = r.ActiveSubscribersFor(ctx, "job.created")
	assert.Len(t, ws, 1)

	r.Invalidate(ctx)
	ws, _ = r.ActiveSubscribersFor(ctx, "job.created")
	assert.Len(t, ws, 2)
}

func TestRegistry_MutationsInvalidate(t *testing.T) {
	r, _ := setupTestRegistry(t)
	ctx := context.Background()

	created, err := r.Create(ctx, domain.CreateWebhookRequest{
		Name:       "orders",
		URL:        "https://example.com/hook",
		EventTypes: []string{" Job.Created ", "job.created"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.SecretKey)
	assert.Equal(t, []string{"job.created"}, created.EventTypes)

	active, err := r.ActiveWebhooks(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	byType, _ := r.ActiveSubscribersFor(ctx, "job.created")
	require.Len(t, byType, 1)

	_, err = r.SetActive(ctx, created.ID, false)
	require.NoError(t, err)

	active, _ = r.ActiveWebhooks(ctx)
	assert.Empty(t, active)
	byType, _ = r.ActiveSubscribersFor(ctx, "job.created")
	assert.Empty(t, byType)

	w, err := r.Webhook(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.False(t, w.IsActive)

	newTypes := []string{"job.deleted"}
	yes := true
	_, err = r.Update(ctx, created.ID, domain.UpdateWebhookRequest{EventTypes: &newTypes, IsActive: &yes})
	require.NoError(t, err)
	byType, _ = r.ActiveSubscribersFor(ctx, "job.deleted")
	assert.Len(t, byType, 1)

	require.NoError(t, r.Delete(ctx, created.ID))
	w, err = r.Webhook(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestRegistry_Validation(t *testing.T) {
	r, _ := setupTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   domain.CreateWebhookRequest
		field string
	}{
		{"short name", domain.CreateWebhookRequest{Name: "ab", URL: "https://x.io", EventTypes: []string{"job.created"}}, "name"},
		{"ftp url", domain.CreateWebhookRequest{Name: "abc", URL: "ftp://x.io/hook", EventTypes: []string{"job.created"}}, "url"},
		{"relative url", domain.CreateWebhookRequest{Name: "abc", URL: "/hook", EventTypes: []string{"job.created"}}, "url"},
		{"no event types", domain.CreateWebhookRequest{Name: "abc", URL: "https://x.io", EventTypes: nil}, "event_types"},
		{"bad event type", domain.CreateWebhookRequest{Name: "abc", URL: "https://x.io", EventTypes: []string{"created"}}, "event_types"},
		{"long description", domain.CreateWebhookRequest{Name: "abc", URL: "https://x.io", Description: strings.Repeat("d", 501), EventTypes: []string{"job.created"}}, "description"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(ctx, tt.req)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRegistry_DescriptionLimit(t *testing.T) {
	r, _ := setupTestRegistry(t)
	ctx := context.Background()

	w, err := r.Create(ctx, domain.CreateWebhookRequest{
		Name: "Payroll", URL: "https://x.io", Description: strings.Repeat("é", 500), EventTypes: []string{"job.created"},
	})
	require.NoError(t, err)

	long := strings.Repeat("d", 501)
	_, err = r.Update(ctx, w.ID, domain.UpdateWebhookRequest{Description: &long})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "description", verr.Field)
}

func TestRegistry_NotFound(t *testing.T) {
	r, _ := setupTestRegistry(t)
	ctx := context.Background()

	_, err := r.SetActive(ctx, "missing", false)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = r.Delete(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_StoreFailure(t *testing.T) {
	r, st := setupTestRegistry(t)
	st.SetFailing(true)

	_, err := r.ActiveSubscribersFor(context.Background(), "job.created")
	var perr *domain.PersistenceError
	assert.ErrorAs(t, err, &perr)
}

func TestRegistry_CacheFailureFallsBackToStore(t *testing.T) {
	st := memory.New()
	st.AddWebhook(domain.Webhook{ID: "wh-1", Name: "a", EventTypes: []string{"job.created"}, IsActive: true})
	r := NewRegistry(st, st, brokenCache{}, testLogger())

	ws, err := r.ActiveSubscribersFor(context.Background(), "job.created")
	require.NoError(t, err)
	assert.Len(t, ws, 1)
}

func TestRegistry_ListenInvalidatesOnRemoteChange(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := memory.New()
	st.AddWebhook(domain.Webhook{ID: "wh-1", Name: "a", EventTypes: []string{"job.created"}, IsActive: true})

	local := cache.NewMemoryWebhookCache(0, time.Hour)
	listener := NewRegistry(st, st, local, testLogger(), WithChangeFeed(client, "webhooks:changed"))
	publisher := NewRegistry(st, st, cache.NewMemoryWebhookCache(0, time.Hour), testLogger(), WithChangeFeed(client, "webhooks:changed"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Listen(ctx) }()

	ws, err := listener.ActiveSubscribersFor(ctx, "job.created")
	require.NoError(t, err)
	require.Len(t, ws, 1)
	require.Equal(t, 1, local.Len())

	// Wait for the subscription before publishing.
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = publisher.SetActive(ctx, "wh-1", false)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return local.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	ws, err = listener.ActiveSubscribersFor(ctx, "job.created")
	require.NoError(t, err)
	assert.Empty(t, ws)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}
