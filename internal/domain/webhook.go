package domain

import (
	"time"
)

// Webhook is a subscriber endpoint. SecretKey never leaves the process
// through JSON; creation returns it once via CreateWebhookResponse.
type Webhook struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	EventTypes  []string  `json:"event_types"`
	SecretKey   string    `json:"-"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Subscribes reports whether the webhook is active and listens for eventType.
func (w *Webhook) Subscribes(eventType string) bool {
	if !w.IsActive {
		return false
	}
	for _, t := range w.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

type CreateWebhookRequest struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	EventTypes  []string `json:"event_types"`
}

// UpdateWebhookRequest enumerates the updatable fields. Nil means unchanged.
type UpdateWebhookRequest struct {
	Name        *string   `json:"name,omitempty"`
	URL         *string   `json:"url,omitempty"`
	Description *string   `json:"description,omitempty"`
	EventTypes  *[]string `json:"event_types,omitempty"`
	IsActive    *bool     `json:"is_active,omitempty"`
}

func (r UpdateWebhookRequest) Empty() bool {
	return r.Name == nil && r.URL == nil && r.Description == nil && r.EventTypes == nil && r.IsActive == nil
}

type CreateWebhookResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`
	SecretKey  string   `json:"secret_key"`
}
