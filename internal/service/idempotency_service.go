package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
)

type idempotencyStore interface {
	GetRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	Claim(ctx context.Context, key, action string, expiresAt, now time.Time) (bool, error)
	Complete(ctx context.Context, key string, result []byte) error
	Release(ctx context.Context, key string) error
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// IdempotencyConfig tunes key derivation and retention.
type IdempotencyConfig struct {
	TTL    time.Duration
	Bucket time.Duration
}

// IdempotencyService makes a logical operation execute at most once per key.
type IdempotencyService struct {
	store   idempotencyStore
	config  IdempotencyConfig
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// IdempotentResult carries the outcome of a deduplicated call.
type IdempotentResult[T any] struct {
	IsDuplicate bool
	Result      T
}

// NewIdempotencyService constructs an IdempotencyService.
func NewIdempotencyService(store idempotencyStore, cfg IdempotencyConfig, metrics *MetricsService, logger *zap.Logger) *IdempotencyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Bucket <= 0 {
		cfg.Bucket = time.Minute
	}
	return &IdempotencyService{
		store:   store,
		config:  cfg,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DeriveKey fingerprints (actor, action, payload) within the current time bucket.
// Identical submissions inside one bucket map to the same key.
func (s *IdempotencyService) DeriveKey(actorID, action string, payload interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("normalize idempotency payload: %w", err)
	}
	bucket := s.now().Truncate(s.config.Bucket).Unix()
	return hashKey(actorID, action, string(body), fmt.Sprintf("%d", bucket)), nil
}

// ScopedKey namespaces a client supplied Idempotency-Key by actor and action.
func (s *IdempotencyService) ScopedKey(actorID, action, clientKey string) string {
	return hashKey(actorID, action, "client", strings.TrimSpace(clientKey))
}

func hashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Housekeep deactivates expired records.
func (s *IdempotencyService) Housekeep(ctx context.Context) (int64, error) {
	n, err := s.store.DeactivateExpired(ctx, s.now())
	if err != nil {
		return 0, appErrors.Internal(err, "failed to deactivate idempotency keys")
	}
	return n, nil
}

// lookup returns the stored result of an active completed record, or
// ErrConflict when the first execution is still running.
func (s *IdempotencyService) lookup(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	record, err := s.store.GetRecord(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to read idempotency record")
	}
	if !record.ActiveAt(s.now()) {
		return nil, nil
	}
	if !record.Completed() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an identical request is still being processed")
	}
	return record, nil
}

// WithIdempotency runs fn at most once for key while the key's record is active.
// A duplicate call receives the first call's stored result. A failed fn releases
// the key so the caller can retry.
func WithIdempotency[T any](ctx context.Context, s *IdempotencyService, key, action string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (*IdempotentResult[T], error) {
	if key == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "idempotency key is required")
	}
	if ttl <= 0 {
		ttl = s.config.TTL
	}

	record, err := s.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return replay[T](s, record, action)
	}

	now := s.now()
	claimed, err := s.store.Claim(ctx, key, action, now.Add(ttl), now)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to claim idempotency key")
	}
	if !claimed {
		record, err := s.lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "an identical request is still being processed")
		}
		return replay[T](s, record, action)
	}

	result, err := fn(ctx)
	if err != nil {
		if releaseErr := s.store.Release(ctx, key); releaseErr != nil {
			s.logger.Error("failed to release idempotency key", zap.String("action", action), zap.Error(releaseErr))
		}
		return nil, err
	}

	body, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to encode idempotent result", zap.String("action", action), zap.Error(err))
		return &IdempotentResult[T]{Result: result}, nil
	}
	if err := s.store.Complete(ctx, key, body); err != nil {
		s.logger.Error("failed to store idempotent result", zap.String("action", action), zap.Error(err))
	}
	return &IdempotentResult[T]{Result: result}, nil
}

func replay[T any](s *IdempotencyService, record *models.IdempotencyRecord, action string) (*IdempotentResult[T], error) {
	var result T
	if err := json.Unmarshal(record.Result, &result); err != nil {
		return nil, appErrors.Internal(err, "failed to decode stored idempotent result")
	}
	s.metrics.IdempotentReplay(action)
	s.logger.Debug("idempotent replay", zap.String("action", action))
	return &IdempotentResult[T]{IsDuplicate: true, Result: result}, nil
}
