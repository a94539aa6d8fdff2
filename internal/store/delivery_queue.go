package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/redis/go-redis/v9"
)

// queueMessage is the JSON wire format of a queued event reference.
// Payload is accepted for compatibility with older producers and ignored;
// consumers always re-read the event by id.
type queueMessage struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// DeliveryQueue is a FIFO of event references on a Redis list: producers
// LPUSH, the single consumer pops from the right.
type DeliveryQueue struct {
	client *redis.Client
	key    string
}

func NewDeliveryQueue(client *redis.Client) *DeliveryQueue {
	return &DeliveryQueue{client: client, key: DeliveryQueueKey}
}

func (q *DeliveryQueue) Push(ctx context.Context, item domain.QueueItem) error {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	data, err := json.Marshal(queueMessage{
		EventID:   item.EventID,
		EventType: item.EventType,
		Timestamp: item.EnqueuedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshaling queue item: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("pushing to delivery queue: %w", err)
	}
	return nil
}

// Pop removes the oldest item. With wait <= 0 it returns immediately;
// otherwise it blocks for up to wait. An empty queue yields (nil, nil).
func (q *DeliveryQueue) Pop(ctx context.Context, wait time.Duration) (*domain.QueueItem, error) {
	var raw string
	if wait <= 0 {
		val, err := q.client.RPop(ctx, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("popping delivery queue: %w", err)
		}
		raw = val
	} else {
		vals, err := q.client.BRPop(ctx, wait, q.key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("blocking pop on delivery queue: %w", err)
		}
		// BRPOP replies with [key, value].
		raw = vals[1]
	}

	var msg queueMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedQueueItem, err)
	}
	if msg.EventID == "" {
		return nil, fmt.Errorf("%w: missing eventId", domain.ErrMalformedQueueItem)
	}

	return &domain.QueueItem{
		EventID:    msg.EventID,
		EventType:  msg.EventType,
		EnqueuedAt: time.UnixMilli(msg.Timestamp),
	}, nil
}

func (q *DeliveryQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("reading delivery queue depth: %w", err)
	}
	return n, nil
}
