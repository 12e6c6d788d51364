package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	"github.com/noah-isme/sma-tuition-api/internal/repository"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
)

type discountStore interface {
	CreateDiscount(ctx context.Context, d *models.Discount) error
	GetDiscount(ctx context.Context, id string) (*models.Discount, error)
}

type discountScopeReader interface {
	GetClass(ctx context.Context, id string) (*models.Class, error)
	AcademicYearExists(ctx context.Context, id string) (bool, error)
}

// DiscountService defines discounts and applies them to tuitions in scope.
type DiscountService struct {
	uow       txRunner
	discounts discountStore
	scope     discountScopeReader
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// DiscountOption configures the service.
type DiscountOption func(*DiscountService)

// WithDiscountClock overrides the time source.
func WithDiscountClock(now func() time.Time) DiscountOption {
	return func(s *DiscountService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDiscountService constructs a DiscountService.
func NewDiscountService(uow txRunner, discounts discountStore, scope discountScopeReader, validate *validator.Validate, logger *zap.Logger, opts ...DiscountOption) *DiscountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &DiscountService{
		uow:       uow,
		discounts: discounts,
		scope:     scope,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create validates and stores a discount definition.
func (s *DiscountService) Create(ctx context.Context, req dto.CreateDiscountRequest, actorID string) (*models.Discount, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid discount payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "discount amount must be greater than zero")
	}

	exists, err := s.scope.AcademicYearExists(ctx, req.AcademicYearID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check academic year")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrValidation, "academic year not found")
	}
	if req.ClassID != nil {
		class, err := s.scope.GetClass(ctx, *req.ClassID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "class not found")
			}
			return nil, appErrors.Internal(err, "failed to load class")
		}
		if class.AcademicYearID != req.AcademicYearID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "class does not belong to the academic year")
		}
	}

	periods := make(models.Periods, 0, len(req.TargetPeriods))
	for _, p := range req.TargetPeriods {
		if !periods.Contains(p.Month, p.Year) {
			periods = append(periods, p)
		}
	}

	discount := &models.Discount{
		Name:           req.Name,
		AcademicYearID: req.AcademicYearID,
		ClassID:        req.ClassID,
		Amount:         req.Amount,
		TargetPeriods:  periods,
		CreatedBy:      stringPtr(actorID),
		CreatedAt:      s.now(),
	}
	if err := s.discounts.CreateDiscount(ctx, discount); err != nil {
		return nil, surfaceError(s.logger, appErrors.Internal(err, "failed to create discount"), "failed to create discount")
	}
	return discount, nil
}

// Get returns a discount.
func (s *DiscountService) Get(ctx context.Context, id string) (*models.Discount, error) {
	discount, err := s.discounts.GetDiscount(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "discount not found")
		}
		return nil, appErrors.Internal(err, "failed to load discount")
	}
	return discount, nil
}

// Apply adds the discount to every non-PAID tuition in scope. With preview set it
// computes the same targets and totals without writing anything.
func (s *DiscountService) Apply(ctx context.Context, discountID string, preview bool, actorID string) (*dto.DiscountApplication, error) {
	result := &dto.DiscountApplication{
		DiscountID:     discountID,
		Preview:        preview,
		TotalReduction: decimal.Zero,
		Targets:        []models.DiscountTarget{},
	}

	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		discount, err := tx.GetDiscountForUpdate(ctx, discountID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "discount not found")
			}
			return appErrors.Internal(err, "failed to load discount")
		}
		if discount.AppliedAt != nil {
			return appErrors.Clone(appErrors.ErrValidation, "discount has already been applied")
		}

		tuitions, err := tx.ListDiscountCandidatesForUpdate(ctx, discount.AcademicYearID, discount.ClassID, discount.TargetPeriods)
		if err != nil {
			return appErrors.Internal(err, "failed to list discount targets")
		}

		now := s.now()
		for i := range tuitions {
			tuition := &tuitions[i]
			if tuition.Status == models.TuitionStatusPaid {
				continue
			}
			after := tuition.DiscountAmount.Add(discount.Amount)
			statusAfter := models.DeriveTuitionStatus(tuition.FeeAmount, tuition.ScholarshipAmount, after, tuition.PaidAmount)
			reduction := tuition.EffectiveFee().Sub(models.EffectiveFee(tuition.FeeAmount, tuition.ScholarshipAmount, after))

			result.Targets = append(result.Targets, models.DiscountTarget{
				TuitionID:      tuition.ID,
				StudentID:      tuition.StudentID,
				ClassID:        tuition.ClassID,
				Period:         tuition.Period(),
				CurrentStatus:  tuition.Status,
				DiscountBefore: tuition.DiscountAmount,
				DiscountAfter:  after,
				StatusAfter:    statusAfter,
			})
			result.TotalReduction = result.TotalReduction.Add(reduction)
			if statusAfter == models.TuitionStatusPaid {
				result.NewlyPaid++
			}

			if preview {
				continue
			}
			tuition.DiscountAmount = after
			tuition.Status = statusAfter
			tuition.UpdatedAt = now
			if err := tx.UpdateTuitionLedger(ctx, tuition); err != nil {
				return appErrors.Internal(err, "failed to update tuition ledger")
			}
		}
		result.AffectedCount = len(result.Targets)

		if preview {
			return nil
		}
		if err := tx.MarkDiscountApplied(ctx, discount.ID, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrValidation, "discount has already been applied")
			}
			return appErrors.Internal(err, "failed to mark discount applied")
		}
		return tx.CreateAuditLog(ctx, newAuditLog(stringPtr(actorID), models.AuditActionDiscountApply, "discount", discount.ID, map[string]interface{}{
			"affected":        result.AffectedCount,
			"total_reduction": result.TotalReduction.String(),
			"newly_paid":      result.NewlyPaid,
		}))
	})
	if err != nil {
		return nil, surfaceError(s.logger, err, "failed to apply discount")
	}

	if !preview {
		s.logger.Info("discount applied",
			zap.String("discount_id", discountID),
			zap.Int("affected", result.AffectedCount),
			zap.String("total_reduction", result.TotalReduction.String()),
			zap.Int("newly_paid", result.NewlyPaid),
		)
	}
	return result, nil
}
