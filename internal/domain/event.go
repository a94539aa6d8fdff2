package domain

import (
	"encoding/json"
	"time"
)

type Event struct {
	ID             string          `json:"id"`
	Type           string          `json:"event_type"`
	Name           string          `json:"event_name"`
	Payload        json.RawMessage `json:"payload"`
	Source         string          `json:"source"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}

// SubmitEventRequest is the producer-facing input to ingestion.
// IdempotencyKey is optional; when empty one is derived from Type and Payload.
type SubmitEventRequest struct {
	Type           string          `json:"event_type"`
	Name           string          `json:"event_name"`
	Payload        json.RawMessage `json:"payload"`
	Source         string          `json:"source"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type EventTypeStats struct {
	EventType   string `json:"event_type"`
	Total       int64  `json:"total"`
	Processed   int64  `json:"processed"`
	Unprocessed int64  `json:"unprocessed"`
}

// QueueItem is the minimal reference carried from ingestion to the worker.
type QueueItem struct {
	EventID    string    `json:"eventId"`
	EventType  string    `json:"eventType"`
	EnqueuedAt time.Time `json:"-"`
}
