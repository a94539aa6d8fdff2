package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestDeliveryQueue_FIFO(t *testing.T) {
	client, _ := setupTestRedis(t)
	q := NewDeliveryQueue(client)
	ctx := context.Background()

	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		if err := q.Push(ctx, domain.QueueItem{EventID: id, EventType: "job.created"}); err != nil {
			t.Fatalf("push %s: %v", id, err)
		}
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 3 {
		t.Errorf("expected depth 3, got %d", depth)
	}

	for _, want := range []string{"evt-1", "evt-2", "evt-3"} {
		item, err := q.Pop(ctx, 0)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if item == nil {
			t.Fatalf("expected %s, queue was empty", want)
		}
		if item.EventID != want {
			t.Errorf("expected %s, got %s", want, item.EventID)
		}
		if item.EventType != "job.created" {
			t.Errorf("expected event type job.created, got %s", item.EventType)
		}
	}
}

func TestDeliveryQueue_PopEmpty(t *testing.T) {
	client, _ := setupTestRedis(t)
	q := NewDeliveryQueue(client)

	item, err := q.Pop(context.Background(), 0)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if item != nil {
		t.Errorf("expected nil item from empty queue, got %+v", item)
	}
}

func TestDeliveryQueue_BlockingPopTimesOut(t *testing.T) {
	client, _ := setupTestRedis(t)
	q := NewDeliveryQueue(client)

	item, err := q.Pop(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if item != nil {
		t.Errorf("expected nil item after timeout, got %+v", item)
	}
}

func TestDeliveryQueue_BlockingPopWakesOnPush(t *testing.T) {
	client, _ := setupTestRedis(t)
	q := NewDeliveryQueue(client)
	ctx := context.Background()

	go func() {
		time.Sleep(100 * time.Millisecond)
		q.Push(ctx, domain.QueueItem{EventID: "evt-late", EventType: "job.updated"})
	}()

	item, err := q.Pop(ctx, 5*time.Second)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if item == nil || item.EventID != "evt-late" {
		t.Fatalf("expected evt-late, got %+v", item)
	}
}

func TestDeliveryQueue_WireFormat(t *testing.T) {
	client, mr := setupTestRedis(t)
	q := NewDeliveryQueue(client)
	ctx := context.Background()

	at := time.UnixMilli(1700000000000)
	if err := q.Push(ctx, domain.QueueItem{EventID: "evt-1", EventType: "job.created", EnqueuedAt: at}); err != nil {
		t.Fatalf("push: %v", err)
	}

	items, err := mr.List(DeliveryQueueKey)
	if err != nil {
		t.Fatalf("reading list: %v", err)
	}
	want := `{"eventId":"evt-1","eventType":"job.created","timestamp":1700000000000}`
	if len(items) != 1 || items[0] != want {
		t.Errorf("unexpected wire format: %v", items)
	}
}

func TestDeliveryQueue_AcceptsLegacyPayload(t *testing.T) {
	client, mr := setupTestRedis(t)
	q := NewDeliveryQueue(client)

	mr.Lpush(DeliveryQueueKey, `{"eventId":"evt-9","eventType":"job.deleted","payload":{"id":7},"timestamp":1700000000000}`)

	item, err := q.Pop(context.Background(), 0)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if item.EventID != "evt-9" || item.EventType != "job.deleted" {
		t.Errorf("unexpected item: %+v", item)
	}
	if item.EnqueuedAt.UnixMilli() != 1700000000000 {
		t.Errorf("unexpected enqueue time: %v", item.EnqueuedAt)
	}
}

func TestDeliveryQueue_RejectsGarbage(t *testing.T) {
	client, mr := setupTestRedis(t)
	q := NewDeliveryQueue(client)

	mr.Lpush(DeliveryQueueKey, `not json`)

	_, err := q.Pop(context.Background(), 0)
	if !errors.Is(err, domain.ErrMalformedQueueItem) {
		t.Errorf("expected ErrMalformedQueueItem, got %v", err)
	}
}
