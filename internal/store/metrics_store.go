package store

import (
	"context"
	"fmt"

	"github.com/Priya8975/hookrelay/internal/domain"
)

// EventStatsByType aggregates event counts grouped by event type.
func (s *PostgresStore) EventStatsByType(ctx context.Context) ([]domain.EventTypeStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			event_type,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE processed_at IS NOT NULL) AS processed,
			COUNT(*) FILTER (WHERE processed_at IS NULL) AS unprocessed
		FROM events
		GROUP BY event_type
		ORDER BY total DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying event stats: %w", err)
	}
	defer rows.Close()

	stats := []domain.EventTypeStats{}
	for rows.Next() {
		var st domain.EventTypeStats
		if err := rows.Scan(&st.EventType, &st.Total, &st.Processed, &st.Unprocessed); err != nil {
			return nil, fmt.Errorf("scanning event stats: %w", err)
		}
		stats = append(stats, st)
	}

	return stats, rows.Err()
}
