package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/hookrelay/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const eventColumns = `id, event_type, event_name, payload, source, idempotency_key, created_at, processed_at`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.Type, &e.Name, &e.Payload, &e.Source, &e.IdempotencyKey, &e.CreatedAt, &e.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEvent inserts a new event. A colliding idempotency key yields
// domain.ErrDuplicateEvent and no row.
func (s *PostgresStore) CreateEvent(ctx context.Context, e *domain.Event) (*domain.Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO events (id, event_type, event_name, payload, source, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+eventColumns,
		e.ID, e.Type, e.Name, e.Payload, e.Source, e.IdempotencyKey,
	)
	created, err := scanEvent(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("inserting event %s: %w", e.IdempotencyKey, domain.ErrDuplicateEvent)
		}
		return nil, fmt.Errorf("inserting event: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	e, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) GetEventByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE idempotency_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying event by idempotency key: %w", err)
	}
	return e, nil
}

// MarkEventProcessed stamps processed_at once; later calls leave it unchanged.
func (s *PostgresStore) MarkEventProcessed(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE events SET processed_at = NOW()
		WHERE id = $1 AND processed_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("marking event processed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, eventType string, limit, offset int) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	args := []any{}

	if eventType != "" {
		args = append(args, eventType)
		query += fmt.Sprintf(" WHERE event_type = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"
	args = append(args, limit, offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return s.queryEvents(ctx, query, args...)
}

// ListStalledEvents returns unprocessed events created before cutoff,
// oldest first.
func (s *PostgresStore) ListStalledEvents(ctx context.Context, cutoff time.Time, limit int) ([]domain.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE processed_at IS NULL AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
}

func (s *PostgresStore) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	return events, nil
}
