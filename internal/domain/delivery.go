package domain

import (
	"time"
)

type DeliveryStatus string

const (
	StatusPending  DeliveryStatus = "pending"
	StatusSuccess  DeliveryStatus = "success"
	StatusFailed   DeliveryStatus = "failed"
	StatusRetrying DeliveryStatus = "retrying"
)

// DeliveryAttempt is one immutable ledger row. A retry appends a new row
// with the next AttemptNumber.
type DeliveryAttempt struct {
	ID            string         `json:"id"`
	EventID       string         `json:"event_id"`
	WebhookID     string         `json:"webhook_id"`
	Status        DeliveryStatus `json:"status"`
	AttemptNumber int            `json:"attempt_number"`
	ResponseCode  *int           `json:"response_code,omitempty"`
	ResponseBody  *string        `json:"response_body,omitempty"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`

	// Populated by ledger reads that join events and webhooks.
	EventType   string `json:"event_type,omitempty"`
	WebhookName string `json:"webhook_name,omitempty"`
	WebhookURL  string `json:"webhook_url,omitempty"`
}

type DeliveryStats struct {
	Total       int64   `json:"total"`
	Successful  int64   `json:"successful"`
	Failed      int64   `json:"failed"`
	Retrying    int64   `json:"retrying"`
	Pending     int64   `json:"pending"`
	AvgAttempts float64 `json:"avg_attempts"`
}

// RetryTask is a deferred delivery attempt waiting in the retry schedule.
type RetryTask struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	WebhookID     string    `json:"webhook_id"`
	AttemptNumber int       `json:"attempt_number"`
	DueAt         time.Time `json:"due_at"`
}
