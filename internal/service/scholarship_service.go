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

type classReader interface {
	GetClass(ctx context.Context, id string) (*models.Class, error)
	IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
}

type scholarshipReader interface {
	ListOpenScholarshipTotals(ctx context.Context) ([]models.ScholarshipTotal, error)
	ListScholarships(ctx context.Context, studentID string) ([]models.Scholarship, error)
}

// ScholarshipService grants scholarships and keeps tuition reductions in step with them.
type ScholarshipService struct {
	uow          txRunner
	classes      classReader
	scholarships scholarshipReader
	ledger       ledgerRecorder
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// ScholarshipOption configures the service.
type ScholarshipOption func(*ScholarshipService)

// WithScholarshipClock overrides the time source.
func WithScholarshipClock(now func() time.Time) ScholarshipOption {
	return func(s *ScholarshipService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScholarshipService constructs a ScholarshipService.
func NewScholarshipService(uow txRunner, classes classReader, scholarships scholarshipReader, ledger ledgerRecorder, validate *validator.Validate, logger *zap.Logger, opts ...ScholarshipOption) *ScholarshipService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &ScholarshipService{
		uow:          uow,
		classes:      classes,
		scholarships: scholarships,
		ledger:       ledger,
		validator:    validate,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create records a scholarship. A full scholarship settles the student's UNPAID
// tuitions of that class in the same transaction; any scholarship refreshes the
// reductions on the remaining open tuitions.
func (s *ScholarshipService) Create(ctx context.Context, req dto.CreateScholarshipRequest, actorID string) (*dto.ScholarshipResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scholarship payload")
	}
	if !req.Nominal.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "scholarship nominal must be greater than zero")
	}

	class, err := s.classes.GetClass(ctx, req.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Internal(err, "failed to load class")
	}
	enrolled, err := s.classes.IsEnrolled(ctx, req.StudentID, req.ClassID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is not enrolled in this class")
	}

	scholarship := models.Scholarship{
		StudentID:   req.StudentID,
		ClassID:     req.ClassID,
		Nominal:     req.Nominal,
		Description: req.Description,
		CreatedBy:   stringPtr(actorID),
		CreatedAt:   s.now(),
	}
	result := &dto.ScholarshipResult{FullCoverage: scholarship.IsFull(class.MonthlyFee), Payments: []models.Payment{}}

	err = s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.CreateScholarship(ctx, &scholarship); err != nil {
			return appErrors.Internal(err, "failed to create scholarship")
		}
		if result.FullCoverage {
			payments, err := s.settleUnpaid(ctx, tx, req.StudentID, req.ClassID)
			if err != nil {
				return err
			}
			result.Payments = payments
			result.Settled = len(payments)
		}
		stats, err := s.syncPair(ctx, tx, req.StudentID, req.ClassID)
		if err != nil {
			return err
		}
		result.Settled += stats.Settled

		return tx.CreateAuditLog(ctx, newAuditLog(stringPtr(actorID), models.AuditActionScholarshipCreate, "scholarship", scholarship.ID, map[string]interface{}{
			"student_id":    scholarship.StudentID,
			"class_id":      scholarship.ClassID,
			"nominal":       scholarship.Nominal.String(),
			"full_coverage": result.FullCoverage,
			"settled":       result.Settled,
		}))
	})
	if err != nil {
		return nil, surfaceError(s.logger, err, "failed to create scholarship")
	}

	result.Scholarship = scholarship
	s.logger.Info("scholarship created",
		zap.String("scholarship_id", scholarship.ID),
		zap.String("student_id", scholarship.StudentID),
		zap.String("class_id", scholarship.ClassID),
		zap.Bool("full_coverage", result.FullCoverage),
		zap.Int("settled", result.Settled),
	)
	return result, nil
}

// ApplyScholarship auto-settles the UNPAID tuitions of (studentID, classID) when
// nominal covers monthlyFee. A partial scholarship settles nothing here; the
// sync sweep reflects it.
func (s *ScholarshipService) ApplyScholarship(ctx context.Context, studentID, classID string, nominal, monthlyFee decimal.Decimal, actorID string) (int, []models.Payment, error) {
	if nominal.LessThan(monthlyFee) {
		return 0, []models.Payment{}, nil
	}

	var payments []models.Payment
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		settled, err := s.settleUnpaid(ctx, tx, studentID, classID)
		if err != nil {
			return err
		}
		payments = settled
		return nil
	})
	if err != nil {
		return 0, nil, surfaceError(s.logger, err, "failed to apply scholarship")
	}
	s.logger.Info("scholarship applied",
		zap.String("student_id", studentID),
		zap.String("class_id", classID),
		zap.String("actor_id", actorID),
		zap.Int("settled", len(payments)),
	)
	return len(payments), payments, nil
}

// settleUnpaid marks every UNPAID tuition of the pair PAID with paid = fee and a system payment.
func (s *ScholarshipService) settleUnpaid(ctx context.Context, tx repository.Tx, studentID, classID string) ([]models.Payment, error) {
	tuitions, err := tx.ListUnpaidTuitionsForUpdate(ctx, studentID, classID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to lock unpaid tuitions")
	}

	note := models.ScholarshipSettlementNote
	payments := make([]models.Payment, 0, len(tuitions))
	for i := range tuitions {
		tuition := &tuitions[i]
		amount := tuition.FeeAmount.Sub(tuition.PaidAmount)
		if !amount.IsPositive() {
			tuition.Recompute()
			tuition.UpdatedAt = s.now()
			if err := tx.UpdateTuitionLedger(ctx, tuition); err != nil {
				return nil, appErrors.Internal(err, "failed to update tuition ledger")
			}
			continue
		}
		payment, err := s.ledger.RecordPayment(ctx, tx, tuition, LedgerEntry{
			Amount: amount,
			Source: models.PaymentSourceScholarship,
			Notes:  &note,
		})
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, nil
}

// SyncScholarships recomputes scholarship reductions of every open tuition from the
// current scholarship totals. PAID tuitions are never touched. Each (student, class)
// pair commits on its own.
func (s *ScholarshipService) SyncScholarships(ctx context.Context) (*dto.ScholarshipSyncResult, error) {
	totals, err := s.scholarships.ListOpenScholarshipTotals(ctx)
	if err != nil {
		return nil, surfaceError(s.logger, appErrors.Internal(err, "failed to list scholarship totals"), "failed to sync scholarships")
	}

	result := &dto.ScholarshipSyncResult{}
	for _, pair := range totals {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		var stats dto.ScholarshipSyncResult
		err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
			var err error
			stats, err = s.syncPair(ctx, tx, pair.StudentID, pair.ClassID)
			return err
		})
		if err != nil {
			return result, surfaceError(s.logger, err, "failed to sync scholarships")
		}
		result.Scanned += stats.Scanned
		result.Updated += stats.Updated
		result.Settled += stats.Settled
	}

	s.logger.Info("scholarship sync finished",
		zap.Int("pairs", len(totals)),
		zap.Int("scanned", result.Scanned),
		zap.Int("updated", result.Updated),
		zap.Int("settled", result.Settled),
	)
	return result, nil
}

func (s *ScholarshipService) syncPair(ctx context.Context, tx repository.Tx, studentID, classID string) (dto.ScholarshipSyncResult, error) {
	var stats dto.ScholarshipSyncResult
	total, err := tx.SumScholarships(ctx, studentID, classID)
	if err != nil {
		return stats, appErrors.Internal(err, "failed to sum scholarships")
	}
	tuitions, err := tx.ListOpenTuitionsForUpdate(ctx, studentID, classID)
	if err != nil {
		return stats, appErrors.Internal(err, "failed to lock open tuitions")
	}

	for i := range tuitions {
		tuition := &tuitions[i]
		if tuition.Status == models.TuitionStatusPaid {
			continue
		}
		stats.Scanned++

		before := tuition.Status
		expected := models.DeriveTuitionStatus(tuition.FeeAmount, total, tuition.DiscountAmount, tuition.PaidAmount)
		if tuition.ScholarshipAmount.Equal(total) && before == expected {
			continue
		}

		tuition.ScholarshipAmount = total
		tuition.Status = expected
		tuition.UpdatedAt = s.now()
		if err := tx.UpdateTuitionLedger(ctx, tuition); err != nil {
			return stats, appErrors.Internal(err, "failed to update tuition ledger")
		}
		stats.Updated++
		if tuition.Status == models.TuitionStatusPaid {
			stats.Settled++
		}
	}
	return stats, nil
}

// ListByStudent returns a student's scholarships.
func (s *ScholarshipService) ListByStudent(ctx context.Context, studentID string) ([]models.Scholarship, error) {
	items, err := s.scholarships.ListScholarships(ctx, studentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list scholarships")
	}
	return items, nil
}
