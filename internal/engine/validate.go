package engine

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Priya8975/hookrelay/internal/domain"
)

var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

func invalid(field, msg string) error {
	return &domain.ValidationError{Field: field, Message: msg}
}

// ValidateEventType accepts lowercase dotted names such as "job.created".
func ValidateEventType(t string) error {
	if t == "" {
		return invalid("event_type", "is required")
	}
	if len(t) > 100 {
		return invalid("event_type", "must be at most 100 characters")
	}
	if !eventTypePattern.MatchString(t) {
		return invalid("event_type", "must look like resource.action")
	}
	return nil
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return invalid("url", "must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("url", "scheme must be http or https")
	}
	return nil
}

func validateSubmit(req domain.SubmitEventRequest) error {
	if err := ValidateEventType(req.Type); err != nil {
		return err
	}
	if strings.TrimSpace(req.Name) == "" {
		return invalid("event_name", "is required")
	}
	if len(req.Name) > 255 {
		return invalid("event_name", "must be at most 255 characters")
	}
	if strings.TrimSpace(req.Source) == "" {
		return invalid("source", "is required")
	}
	if len(req.Source) > 100 {
		return invalid("source", "must be at most 100 characters")
	}
	if len(req.IdempotencyKey) > 255 {
		return invalid("idempotency_key", "must be at most 255 characters")
	}

	var obj map[string]json.RawMessage
	if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &obj) != nil || obj == nil {
		return invalid("payload", "must be a JSON object")
	}
	return nil
}

func validateWebhookName(name string) error {
	n := len(strings.TrimSpace(name))
	if n < 3 || n > 255 {
		return invalid("name", "must be between 3 and 255 characters")
	}
	return nil
}

const maxDescriptionLen = 500

func validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		return invalid("description", "must be at most 500 characters")
	}
	return nil
}

func validateEventTypes(types []string) ([]string, error) {
	types = NormalizeEventTypes(types)
	if len(types) == 0 {
		return nil, invalid("event_types", "at least one event type is required")
	}
	for _, t := range types {
		if err := ValidateEventType(t); err != nil {
			return nil, invalid("event_types", "invalid event type "+t)
		}
	}
	return types, nil
}

// NormalizeEventTypes trims, lowercases and de-duplicates event types,
// preserving first-seen order.
func NormalizeEventTypes(types []string) []string {
	seen := make(map[string]struct{}, len(types))
	out := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
