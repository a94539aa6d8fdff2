package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const attemptSelect = `
	SELECT a.id, a.event_id, a.webhook_id, a.status, a.attempt_number,
		a.response_code, a.response_body, a.error_message, a.duration_ms,
		a.delivered_at, a.created_at,
		COALESCE(e.event_type, ''), COALESCE(w.name, ''), COALESCE(w.url, '')
	FROM delivery_attempts a
	LEFT JOIN events e ON e.id = a.event_id
	LEFT JOIN webhooks w ON w.id = a.webhook_id`

// AppendAttempt inserts one immutable ledger row.
func (s *PostgresStore) AppendAttempt(ctx context.Context, a *domain.DeliveryAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO delivery_attempts (id, event_id, webhook_id, status, attempt_number,
			response_code, response_body, error_message, duration_ms, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, a.ID, a.EventID, a.WebhookID, string(a.Status), a.AttemptNumber,
		a.ResponseCode, a.ResponseBody, a.ErrorMessage, a.DurationMs, a.DeliveredAt,
	).Scan(&a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("attempt %d for event %s webhook %s already recorded: %w",
				a.AttemptNumber, a.EventID, a.WebhookID, err)
		}
		return fmt.Errorf("inserting delivery attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttemptsByEvent(ctx context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	if _, err := uuid.Parse(eventID); err != nil {
		return []domain.DeliveryAttempt{}, nil
	}
	return s.queryAttempts(ctx, attemptSelect+`
		WHERE a.event_id = $1
		ORDER BY a.created_at, a.attempt_number
	`, eventID)
}

func (s *PostgresStore) ListAttemptsByWebhook(ctx context.Context, webhookID string, limit, offset int) ([]domain.DeliveryAttempt, error) {
	if _, err := uuid.Parse(webhookID); err != nil {
		return []domain.DeliveryAttempt{}, nil
	}
	return s.queryAttempts(ctx, attemptSelect+`
		WHERE a.webhook_id = $1
		ORDER BY a.created_at DESC
		LIMIT $2 OFFSET $3
	`, webhookID, limit, offset)
}

func (s *PostgresStore) RecentAttempts(ctx context.Context, limit int) ([]domain.DeliveryAttempt, error) {
	return s.queryAttempts(ctx, attemptSelect+`
		ORDER BY a.created_at DESC
		LIMIT $1
	`, limit)
}

// AttemptStats aggregates ledger rows, optionally for a single webhook.
func (s *PostgresStore) AttemptStats(ctx context.Context, webhookID string) (*domain.DeliveryStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'retrying'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COALESCE(AVG(attempt_number), 0)::float8
		FROM delivery_attempts`
	args := []any{}
	if webhookID != "" {
		if _, err := uuid.Parse(webhookID); err != nil {
			return &domain.DeliveryStats{}, nil
		}
		query += ` WHERE webhook_id = $1`
		args = append(args, webhookID)
	}

	var st domain.DeliveryStats
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&st.Total, &st.Successful, &st.Failed, &st.Retrying, &st.Pending, &st.AvgAttempts,
	)
	if err != nil {
		return nil, fmt.Errorf("querying delivery stats: %w", err)
	}
	return &st, nil
}

// LatestAttemptNumber returns the highest recorded attempt number for the
// pair, or 0 when none exist.
func (s *PostgresStore) LatestAttemptNumber(ctx context.Context, eventID, webhookID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(attempt_number), 0)
		FROM delivery_attempts
		WHERE event_id = $1 AND webhook_id = $2
	`, eventID, webhookID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("querying latest attempt: %w", err)
	}
	return n, nil
}

// PurgeAttemptsOlderThan deletes ledger rows created before cutoff and
// returns how many were removed.
func (s *PostgresStore) PurgeAttemptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM delivery_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging delivery attempts: %w", err)
	}
	return result.RowsAffected(), nil
}

func (s *PostgresStore) queryAttempts(ctx context.Context, query string, args ...any) ([]domain.DeliveryAttempt, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying delivery attempts: %w", err)
	}
	defer rows.Close()

	attempts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DeliveryAttempt, error) {
		var a domain.DeliveryAttempt
		err := row.Scan(
			&a.ID, &a.EventID, &a.WebhookID, &a.Status, &a.AttemptNumber,
			&a.ResponseCode, &a.ResponseBody, &a.ErrorMessage, &a.DurationMs,
			&a.DeliveredAt, &a.CreatedAt,
			&a.EventType, &a.WebhookName, &a.WebhookURL,
		)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning delivery attempts: %w", err)
	}
	if attempts == nil {
		attempts = []domain.DeliveryAttempt{}
	}
	return attempts, nil
}
