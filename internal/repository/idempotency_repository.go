package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// IdempotencyRepository persists idempotency keys and their stored results.
type IdempotencyRepository struct {
	db *sqlx.DB
}

// NewIdempotencyRepository constructs the repository.
func NewIdempotencyRepository(db *sqlx.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// GetRecord fetches a key's record.
func (r *IdempotencyRepository) GetRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	const query = `SELECT key, action, result, status, expires_at, created_at FROM idempotency_keys WHERE key = $1`
	var record models.IdempotencyRecord
	if err := r.db.GetContext(ctx, &record, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return &record, nil
}

// Claim takes ownership of key. It succeeds when the key is new or its previous
// record expired or was deactivated, and reports false when another caller holds it.
func (r *IdempotencyRepository) Claim(ctx context.Context, key, action string, expiresAt, now time.Time) (bool, error) {
	const query = `INSERT INTO idempotency_keys (key, action, result, status, expires_at, created_at)
VALUES ($1, $2, NULL, 'ACTIVE', $3, $4)
ON CONFLICT (key) DO UPDATE SET action = EXCLUDED.action, result = NULL, status = 'ACTIVE',
	expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at
WHERE idempotency_keys.expires_at <= $4 OR idempotency_keys.status = 'INACTIVE'
RETURNING key`
	var claimed string
	if err := r.db.GetContext(ctx, &claimed, query, key, action, expiresAt, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return true, nil
}

// Complete stores the serialized result of the claimed execution.
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, result []byte) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE idempotency_keys SET result = $2 WHERE key = $1`, key, result); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release drops an unfinished claim so the operation can be retried.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND result IS NULL`, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// DeactivateExpired marks expired records INACTIVE.
func (r *IdempotencyRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE idempotency_keys SET status = 'INACTIVE' WHERE status = 'ACTIVE' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate idempotency keys: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate idempotency keys rows: %w", err)
	}
	return affected, nil
}
