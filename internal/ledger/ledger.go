// Package ledger is the append-only record of delivery attempts.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
)

const (
	DefaultPageSize   = 50
	MaxPageSize       = 500
	DefaultRecentSize = 100
)

// Store is the persistence behind the ledger.
type Store interface {
	AppendAttempt(ctx context.Context, a *domain.DeliveryAttempt) error
	ListAttemptsByEvent(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error)
	ListAttemptsByWebhook(ctx context.Context, webhookID string, limit, offset int) ([]domain.DeliveryAttempt, error)
	RecentAttempts(ctx context.Context, limit int) ([]domain.DeliveryAttempt, error)
	AttemptStats(ctx context.Context, webhookID string) (*domain.DeliveryStats, error)
	LatestAttemptNumber(ctx context.Context, eventID, webhookID string) (int, error)
	PurgeAttemptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Ledger struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger, now: time.Now}
}

// Record appends one attempt. Rows are never updated afterwards.
func (l *Ledger) Record(ctx context.Context, a *domain.DeliveryAttempt) error {
	if a.AttemptNumber < 1 {
		return fmt.Errorf("recording attempt: attempt number %d out of range", a.AttemptNumber)
	}
	if a.Status == "" {
		a.Status = domain.StatusPending
	}
	if err := l.store.AppendAttempt(ctx, a); err != nil {
		return &domain.PersistenceError{Op: "recording delivery attempt", Err: err}
	}
	return nil
}

// ByEvent returns every attempt for an event, oldest first.
func (l *Ledger) ByEvent(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	out, err := l.store.ListAttemptsByEvent(ctx, eventID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "listing attempts by event", Err: err}
	}
	return out, nil
}

// ByWebhook returns one page of a webhook's attempts, newest first.
func (l *Ledger) ByWebhook(ctx context.Context, webhookID string, limit, offset int) ([]domain.DeliveryAttempt, error) {
	out, err := l.store.ListAttemptsByWebhook(ctx, webhookID, ClampLimit(limit, DefaultPageSize), max(offset, 0))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "listing attempts by webhook", Err: err}
	}
	return out, nil
}

func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.DeliveryAttempt, error) {
	out, err := l.store.RecentAttempts(ctx, ClampLimit(limit, DefaultRecentSize))
	if err != nil {
		return nil, &domain.PersistenceError{Op: "listing recent attempts", Err: err}
	}
	return out, nil
}

// Stats aggregates attempts for one webhook, or for all when webhookID is
// empty.
func (l *Ledger) Stats(ctx context.Context, webhookID string) (*domain.DeliveryStats, error) {
	st, err := l.store.AttemptStats(ctx, webhookID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "computing delivery stats", Err: err}
	}
	return st, nil
}

// LatestAttempt returns the highest attempt number recorded for the pair,
// or 0 when none exists.
func (l *Ledger) LatestAttempt(ctx context.Context, eventID, webhookID string) (int, error) {
	n, err := l.store.LatestAttemptNumber(ctx, eventID, webhookID)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "reading latest attempt", Err: err}
	}
	return n, nil
}

// Purge deletes attempts created more than olderThan ago.
func (l *Ledger) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("purging ledger: retention must be positive, got %s", olderThan)
	}
	cutoff := l.now().Add(-olderThan)
	n, err := l.store.PurgeAttemptsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "purging delivery attempts", Err: err}
	}
	l.logger.Info("delivery ledger purged", "removed", n, "cutoff", cutoff)
	return n, nil
}

// ClampLimit applies def to non-positive limits and caps at MaxPageSize.
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, MaxPageSize)
}
