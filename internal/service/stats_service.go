package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// StatsService runs the report queries behind the manager dashboard.
type StatsService struct {
	pool *pgxpool.Pool
}

// NewStatsService builds the service.
func NewStatsService(pool *pgxpool.Pool) *StatsService {
	return &StatsService{pool: pool}
}

// TicketStats aggregates ticket counts.
type TicketStats struct {
	Total      int64            `json:"total"`
	ByStatus   map[string]int64 `json:"by_status"`
	ByCategory map[string]int64 `json:"by_category"`
}

// TicketCounts returns counts grouped by status and category for tickets
// created in [from, to).
func (s *StatsService) TicketCounts(ctx context.Context, from, to time.Time) (*TicketStats, error) {
	stats := &TicketStats{
		ByStatus:   make(map[string]int64),
		ByCategory: make(map[string]int64),
	}

	const statusQuery = `
        SELECT status, COUNT(*)
        FROM tickets
        WHERE created_at >= $1 AND created_at < $2
        GROUP BY status`
	rows, err := s.pool.Query(ctx, statusQuery, from, to)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperrors.MapError(err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapError(err)
	}

	const categoryQuery = `
        SELECT COALESCE(c.name, 'uncategorized'), COUNT(*)
        FROM tickets t
        LEFT JOIN categories c ON c.id = t.category_id
        WHERE t.created_at >= $1 AND t.created_at < $2
        GROUP BY 1`
	catRows, err := s.pool.Query(ctx, categoryQuery, from, to)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	defer catRows.Close()
	for catRows.Next() {
		var name string
		var count int64
		if err := catRows.Scan(&name, &count); err != nil {
			return nil, apperrors.MapError(err)
		}
		stats.ByCategory[name] = count
	}
	if err := catRows.Err(); err != nil {
		return nil, apperrors.MapError(err)
	}

	return stats, nil
}
