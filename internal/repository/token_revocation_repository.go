package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// RedisTokenRevocationRepository stores revoked access token ids in Redis until they would have expired.
type RedisTokenRevocationRepository struct {
	client *redis.Client
}

// NewRedisTokenRevocationRepository constructs the repository.
func NewRedisTokenRevocationRepository(client *redis.Client) *RedisTokenRevocationRepository {
	return &RedisTokenRevocationRepository{client: client}
}

func revokedKey(jti string) string {
	return "auth:revoked:" + jti
}

// Revoke marks jti as revoked for ttl.
func (r *RedisTokenRevocationRepository) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti was revoked.
func (r *RedisTokenRevocationRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check revoked token: %w", err)
	}
	return n > 0, nil
}

// PurgeExpired is a no-op: Redis expires keys on its own.
func (r *RedisTokenRevocationRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// TokenRevocationRepository stores revoked access token ids in PostgreSQL when Redis is disabled.
type TokenRevocationRepository struct {
	db *sqlx.DB
}

// NewTokenRevocationRepository constructs the repository.
func NewTokenRevocationRepository(db *sqlx.DB) *TokenRevocationRepository {
	return &TokenRevocationRepository{db: db}
}

// Revoke marks jti as revoked for ttl.
func (r *TokenRevocationRepository) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	const query = `INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
ON CONFLICT (jti) DO UPDATE SET expires_at = GREATEST(revoked_tokens.expires_at, EXCLUDED.expires_at)`
	if _, err := r.db.ExecContext(ctx, query, jti, time.Now().UTC().Add(ttl)); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti was revoked and has not yet expired.
func (r *TokenRevocationRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	const query = `SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1 AND expires_at > $2)`
	if err := r.db.GetContext(ctx, &revoked, query, jti, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// PurgeExpired deletes revocations whose tokens have expired anyway.
func (r *TokenRevocationRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge revoked tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge revoked tokens rows: %w", err)
	}
	return n, nil
}
