package service

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
)

// PendingTotalChecker reports whether a live PENDING request already uses a total.
type PendingTotalChecker interface {
	PendingTotalExists(ctx context.Context, total decimal.Decimal, now time.Time) (bool, error)
}

// UniqueAmountConfig bounds the surcharge space and the draw budget.
type UniqueAmountConfig struct {
	MaxCode  int
	Attempts int
}

// UniqueAmountService draws surcharges so concurrent pending requests never share a total.
type UniqueAmountService struct {
	checker PendingTotalChecker
	config  UniqueAmountConfig
	intn    func(n int) (int, error)
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// UniqueAmountOption configures the service.
type UniqueAmountOption func(*UniqueAmountService)

// WithUniqueAmountRandom overrides the random source; intn must return a value in [0, n).
func WithUniqueAmountRandom(intn func(n int) (int, error)) UniqueAmountOption {
	return func(s *UniqueAmountService) {
		if intn != nil {
			s.intn = intn
		}
	}
}

// WithUniqueAmountClock overrides the time source.
func WithUniqueAmountClock(now func() time.Time) UniqueAmountOption {
	return func(s *UniqueAmountService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewUniqueAmountService constructs a UniqueAmountService. checker serves
// Allocate calls made outside a transaction.
func NewUniqueAmountService(checker PendingTotalChecker, cfg UniqueAmountConfig, metrics *MetricsService, logger *zap.Logger, opts ...UniqueAmountOption) *UniqueAmountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxCode <= 0 {
		cfg.MaxCode = 999
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 50
	}
	svc := &UniqueAmountService{
		checker: checker,
		config:  cfg,
		intn:    cryptoIntn,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func cryptoIntn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// Allocate draws a free total for baseAmount using the default checker.
func (s *UniqueAmountService) Allocate(ctx context.Context, baseAmount decimal.Decimal) (*models.UniqueAmount, error) {
	return s.AllocateWithin(ctx, s.checker, baseAmount)
}

// AllocateWithin draws a free total using checker, typically a transaction.
func (s *UniqueAmountService) AllocateWithin(ctx context.Context, checker PendingTotalChecker, baseAmount decimal.Decimal) (*models.UniqueAmount, error) {
	if !baseAmount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "base amount must be greater than zero")
	}

	now := s.now()
	for attempt := 1; attempt <= s.config.Attempts; attempt++ {
		draw, err := s.intn(s.config.MaxCode)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to draw unique code")
		}
		code := draw + 1
		total := baseAmount.Add(decimal.NewFromInt(int64(code)))

		taken, err := checker.PendingTotalExists(ctx, total, now)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to check pending totals")
		}
		if taken {
			continue
		}

		s.metrics.ObserveUniqueAmountAttempts(attempt)
		return &models.UniqueAmount{BaseAmount: baseAmount, UniqueCode: code, TotalAmount: total}, nil
	}

	s.metrics.ObserveUniqueAmountAttempts(s.config.Attempts)
	s.logger.Warn("unique amount space exhausted",
		zap.String("base_amount", baseAmount.String()),
		zap.Int("attempts", s.config.Attempts),
	)
	return nil, appErrors.Clone(appErrors.ErrCapacity, "")
}
