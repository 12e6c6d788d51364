package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// incrementWindowScript counts a hit and returns {count, pttl}. The key expiry is
// set on the first hit only so the window does not slide forward with traffic.
var incrementWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisRateLimitRepository keeps window counters in Redis.
type RedisRateLimitRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimitRepository constructs the repository.
func NewRedisRateLimitRepository(client *redis.Client) *RedisRateLimitRepository {
	return &RedisRateLimitRepository{client: client, prefix: "ratelimit"}
}

func (r *RedisRateLimitRepository) key(identifier, action string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, action, identifier)
}

// IncrementWindow counts one hit atomically.
func (r *RedisRateLimitRepository) IncrementWindow(ctx context.Context, identifier, action string, window time.Duration, now time.Time) (*models.RateLimitRecord, error) {
	values, err := incrementWindowScript.Run(ctx, r.client, []string{r.key(identifier, action)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis increment rate limit: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("redis increment rate limit: unexpected reply %v", values)
	}

	expiresAt := now.Add(time.Duration(values[1]) * time.Millisecond)
	return &models.RateLimitRecord{
		Identifier:  identifier,
		Action:      action,
		Count:       int(values[0]),
		WindowStart: expiresAt.Add(-window),
		ExpiresAt:   expiresAt,
		Status:      models.RecordStatusActive,
	}, nil
}

// ResetWindow drops the counter.
func (r *RedisRateLimitRepository) ResetWindow(ctx context.Context, identifier, action string) error {
	if err := r.client.Del(ctx, r.key(identifier, action)).Err(); err != nil {
		return fmt.Errorf("redis reset rate limit: %w", err)
	}
	return nil
}

// Housekeep is a no-op: Redis expires counters on its own.
func (r *RedisRateLimitRepository) Housekeep(ctx context.Context, now, purgeBefore time.Time) (int64, error) {
	return 0, nil
}
