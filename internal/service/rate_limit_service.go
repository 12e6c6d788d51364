package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
)

// rateLimitRetention is how long inactive window rows are kept before purge.
const rateLimitRetention = 24 * time.Hour

type rateLimitStore interface {
	IncrementWindow(ctx context.Context, identifier, action string, window time.Duration, now time.Time) (*models.RateLimitRecord, error)
	ResetWindow(ctx context.Context, identifier, action string) error
	Housekeep(ctx context.Context, now, purgeBefore time.Time) (int64, error)
}

// DefaultRateLimitRules is the closed action registry.
func DefaultRateLimitRules() map[models.RateLimitAction]models.RateLimitRule {
	return map[models.RateLimitAction]models.RateLimitRule{
		models.RateLimitLogin:          {Limit: 5, Window: 15 * time.Minute},
		models.RateLimitPaymentRequest: {Limit: 5, Window: time.Minute},
		models.RateLimitCancelPayment:  {Limit: 10, Window: time.Minute},
		models.RateLimitChangePassword: {Limit: 3, Window: time.Hour},
		models.RateLimitTransferIntake: {Limit: 120, Window: time.Minute},
	}
}

// RateLimitService enforces per-(identifier, action) sliding windows on a shared store.
type RateLimitService struct {
	store   rateLimitStore
	rules   map[models.RateLimitAction]models.RateLimitRule
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// RateLimitOption configures the service.
type RateLimitOption func(*RateLimitService)

// WithRateLimitRules overrides registry entries.
func WithRateLimitRules(rules map[models.RateLimitAction]models.RateLimitRule) RateLimitOption {
	return func(s *RateLimitService) {
		for action, rule := range rules {
			s.rules[action] = rule
		}
	}
}

// WithRateLimitClock overrides the time source.
func WithRateLimitClock(now func() time.Time) RateLimitOption {
	return func(s *RateLimitService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRateLimitService constructs a RateLimitService.
func NewRateLimitService(store rateLimitStore, metrics *MetricsService, logger *zap.Logger, opts ...RateLimitOption) *RateLimitService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RateLimitService{
		store:   store,
		rules:   DefaultRateLimitRules(),
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Rule returns the registry entry for action.
func (s *RateLimitService) Rule(action models.RateLimitAction) (models.RateLimitRule, error) {
	rule, ok := s.rules[action]
	if !ok {
		return models.RateLimitRule{}, appErrors.Clone(appErrors.ErrValidation, "unknown rate limit action: "+string(action))
	}
	return rule, nil
}

// Check counts one attempt against the window and reports whether it is allowed.
func (s *RateLimitService) Check(ctx context.Context, action models.RateLimitAction, identifier string) (*models.RateLimitResult, error) {
	rule, err := s.Rule(action)
	if err != nil {
		return nil, err
	}
	if identifier == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rate limit identifier is required")
	}

	record, err := s.store.IncrementWindow(ctx, identifier, string(action), rule.Window, s.now())
	if err != nil {
		return nil, appErrors.Internal(err, "failed to update rate limit window")
	}

	remaining := rule.Limit - record.Count
	if remaining < 0 {
		remaining = 0
	}
	result := &models.RateLimitResult{
		Success:   record.Count <= rule.Limit,
		Remaining: remaining,
		Reset:     record.ExpiresAt,
		Limit:     rule.Limit,
	}
	if !result.Success {
		s.metrics.RateLimitRejected(string(action))
		s.logger.Info("rate limit exceeded",
			zap.String("action", string(action)),
			zap.String("identifier", identifier),
			zap.Int("count", record.Count),
			zap.Time("reset", record.ExpiresAt),
		)
	}
	return result, nil
}

// Enforce runs Check and converts a rejection into a RATE_LIMITED error.
func (s *RateLimitService) Enforce(ctx context.Context, action models.RateLimitAction, identifier string) (*models.RateLimitResult, error) {
	result, err := s.Check(ctx, action, identifier)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return result, appErrors.RateLimited(result.Reset.Sub(s.now()))
	}
	return result, nil
}

// Reset clears the window for (identifier, action).
func (s *RateLimitService) Reset(ctx context.Context, action models.RateLimitAction, identifier string) (*dto.RateLimitStatusView, error) {
	if _, err := s.Rule(action); err != nil {
		return nil, err
	}
	if identifier == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rate limit identifier is required")
	}
	if err := s.store.ResetWindow(ctx, identifier, string(action)); err != nil {
		return nil, appErrors.Internal(err, "failed to reset rate limit window")
	}
	s.logger.Info("rate limit reset", zap.String("action", string(action)), zap.String("identifier", identifier))
	return &dto.RateLimitStatusView{Action: string(action), Identifier: identifier, ResetAt: s.now()}, nil
}

// Rules lists the registry sorted by action name.
func (s *RateLimitService) Rules() []dto.RateLimitRuleView {
	views := make([]dto.RateLimitRuleView, 0, len(s.rules))
	for action, rule := range s.rules {
		views = append(views, dto.RateLimitRuleView{
			Action:        string(action),
			Limit:         rule.Limit,
			WindowSeconds: int64(rule.Window / time.Second),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Action < views[j].Action })
	return views
}

// Housekeep deactivates elapsed windows and purges old rows.
func (s *RateLimitService) Housekeep(ctx context.Context) (int64, error) {
	now := s.now()
	purged, err := s.store.Housekeep(ctx, now, now.Add(-rateLimitRetention))
	if err != nil {
		return 0, appErrors.Internal(err, "failed to housekeep rate limit windows")
	}
	return purged, nil
}
