package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const webhookColumns = `id, name, url, description, event_types, secret_key, is_active, created_at, updated_at`

func scanWebhook(row pgx.Row) (*domain.Webhook, error) {
	var w domain.Webhook
	err := row.Scan(&w.ID, &w.Name, &w.URL, &w.Description, &w.EventTypes, &w.SecretKey, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresStore) CreateWebhook(ctx context.Context, req domain.CreateWebhookRequest) (*domain.Webhook, error) {
	secretKey, err := GenerateSecretKey()
	if err != nil {
		return nil, fmt.Errorf("generating secret key: %w", err)
	}

	w, err := scanWebhook(s.pool.QueryRow(ctx, `
		INSERT INTO webhooks (id, name, url, description, event_types, secret_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+webhookColumns,
		uuid.NewString(), req.Name, req.URL, req.Description, req.EventTypes, secretKey,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting webhook: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) GetWebhook(ctx context.Context, id string) (*domain.Webhook, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	w, err := scanWebhook(s.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying webhook: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) ListActiveWebhooks(ctx context.Context) ([]domain.Webhook, error) {
	return s.queryWebhooks(ctx, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE is_active = TRUE
		ORDER BY created_at
	`)
}

func (s *PostgresStore) ListWebhooksByEventType(ctx context.Context, eventType string) ([]domain.Webhook, error) {
	return s.queryWebhooks(ctx, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE is_active = TRUE AND $1 = ANY(event_types)
		ORDER BY created_at
	`, eventType)
}

// UpdateWebhook applies the non-nil fields of req. Each updatable column
// has a fixed placeholder; COALESCE keeps the current value for nil fields.
func (s *PostgresStore) UpdateWebhook(ctx context.Context, id string, req domain.UpdateWebhookRequest) (*domain.Webhook, error) {
	if req.Empty() {
		return s.GetWebhook(ctx, id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	var eventTypes []string
	if req.EventTypes != nil {
		eventTypes = *req.EventTypes
	}

	w, err := scanWebhook(s.pool.QueryRow(ctx, `
		UPDATE webhooks SET
			name = COALESCE($2, name),
			url = COALESCE($3, url),
			description = COALESCE($4, description),
			event_types = COALESCE($5, event_types),
			is_active = COALESCE($6, is_active),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+webhookColumns,
		id, req.Name, req.URL, req.Description, eventTypes, req.IsActive,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("updating webhook: %w", err)
	}
	return w, nil
}

// DeleteWebhook removes the webhook. Its delivery history is kept.
func (s *PostgresStore) DeleteWebhook(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	result, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting webhook: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (s *PostgresStore) CountActiveWebhooks(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhooks WHERE is_active = TRUE`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting active webhooks: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) queryWebhooks(ctx context.Context, query string, args ...any) ([]domain.Webhook, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying webhooks: %w", err)
	}
	defer rows.Close()

	webhooks := []domain.Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook: %w", err)
		}
		webhooks = append(webhooks, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhooks: %w", err)
	}

	return webhooks, nil
}

// GenerateSecretKey returns 32 random bytes, hex encoded.
func GenerateSecretKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
