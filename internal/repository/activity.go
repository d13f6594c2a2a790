package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opsdesk/internal/logger"
	"github.com/opsdesk/internal/model"
)

type ActivityRepository struct {
	pool *pgxpool.Pool
}

func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

func (r *ActivityRepository) Create(ctx context.Context, e *model.ActivityEntry) error {
	defer logger.DeferLogDuration("activity.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO activity_log (id, actor_name, action, target, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		e.ID, e.ActorName, e.Action, e.Target, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("activityRepo.Create: %w", err)
	}
	return nil
}

// ListRecent returns the newest entries first, for the full feed resync the
// aggregator may trigger after an activity_new event.
func (r *ActivityRepository) ListRecent(ctx context.Context, limit int) ([]model.ActivityEntry, error) {
	defer logger.DeferLogDuration("activity.ListRecent", time.Now())()
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, actor_name, action, COALESCE(target,''), created_at
		 FROM activity_log ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("activityRepo.ListRecent query: %w", err)
	}
	defer rows.Close()

	entries := make([]model.ActivityEntry, 0, limit)
	for rows.Next() {
		var e model.ActivityEntry
		if err := rows.Scan(&e.ID, &e.ActorName, &e.Action, &e.Target, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("activityRepo.ListRecent scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activityRepo.ListRecent rows: %w", err)
	}
	return entries, nil
}
