package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// RateLimitRepository keeps window counters in PostgreSQL. The upsert below is
// the compare-and-swap: concurrent hits on one (identifier, action) serialize on the row.
type RateLimitRepository struct {
	db *sqlx.DB
}

// NewRateLimitRepository constructs the repository.
func NewRateLimitRepository(db *sqlx.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

// IncrementWindow counts one hit, restarting the window when the stored one has elapsed or was reset.
func (r *RateLimitRepository) IncrementWindow(ctx context.Context, identifier, action string, window time.Duration, now time.Time) (*models.RateLimitRecord, error) {
	const query = `INSERT INTO rate_limits (identifier, action, count, window_start, expires_at, status)
VALUES ($1, $2, 1, $3, $4, 'ACTIVE')
ON CONFLICT (identifier, action) DO UPDATE SET
	count = CASE WHEN rate_limits.expires_at <= $3 OR rate_limits.status = 'INACTIVE' THEN 1 ELSE rate_limits.count + 1 END,
	window_start = CASE WHEN rate_limits.expires_at <= $3 OR rate_limits.status = 'INACTIVE' THEN $3 ELSE rate_limits.window_start END,
	expires_at = CASE WHEN rate_limits.expires_at <= $3 OR rate_limits.status = 'INACTIVE' THEN $4 ELSE rate_limits.expires_at END,
	status = 'ACTIVE'
RETURNING identifier, action, count, window_start, expires_at, status`
	var record models.RateLimitRecord
	if err := r.db.QueryRowxContext(ctx, query, identifier, action, now, now.Add(window)).StructScan(&record); err != nil {
		return nil, fmt.Errorf("increment rate limit: %w", err)
	}
	return &record, nil
}

// ResetWindow deactivates the counter so the next hit starts a fresh window.
func (r *RateLimitRepository) ResetWindow(ctx context.Context, identifier, action string) error {
	const query = `UPDATE rate_limits SET status = 'INACTIVE', count = 0 WHERE identifier = $1 AND action = $2`
	if _, err := r.db.ExecContext(ctx, query, identifier, action); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

// Housekeep marks elapsed windows INACTIVE and deletes rows idle since before purgeBefore.
func (r *RateLimitRepository) Housekeep(ctx context.Context, now, purgeBefore time.Time) (int64, error) {
	if _, err := r.db.ExecContext(ctx, `UPDATE rate_limits SET status = 'INACTIVE' WHERE status = 'ACTIVE' AND expires_at <= $1`, now); err != nil {
		return 0, fmt.Errorf("deactivate rate limits: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE expires_at <= $1`, purgeBefore)
	if err != nil {
		return 0, fmt.Errorf("purge rate limits: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rate limits rows: %w", err)
	}
	return purged, nil
}
