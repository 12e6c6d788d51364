package service

import (
	"context"

	"go.uber.org/zap"
)

// HousekeepingService trims guard records that no longer influence decisions.
type HousekeepingService struct {
	rateLimits  *RateLimitService
	idempotency *IdempotencyService
	auth        *AuthService
	logger      *zap.Logger
}

// NewHousekeepingService constructs a HousekeepingService. Nil collaborators are skipped.
func NewHousekeepingService(rateLimits *RateLimitService, idempotency *IdempotencyService, auth *AuthService, logger *zap.Logger) *HousekeepingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HousekeepingService{rateLimits: rateLimits, idempotency: idempotency, auth: auth, logger: logger}
}

// Run performs one housekeeping pass. Every step runs even if an earlier one failed;
// the first error is returned.
func (s *HousekeepingService) Run(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var purged, deactivated, tokens int64
	if s.rateLimits != nil {
		n, err := s.rateLimits.Housekeep(ctx)
		purged = n
		keep(err)
	}
	if s.idempotency != nil {
		n, err := s.idempotency.Housekeep(ctx)
		deactivated = n
		keep(err)
	}
	if s.auth != nil {
		n, err := s.auth.PurgeRevokedTokens(ctx)
		tokens = n
		keep(err)
	}

	s.logger.Info("housekeeping finished",
		zap.Int64("rate_limits_purged", purged),
		zap.Int64("idempotency_deactivated", deactivated),
		zap.Int64("revoked_tokens_purged", tokens),
	)
	return firstErr
}
