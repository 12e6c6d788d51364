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

type tuitionReader interface {
	GetTuition(ctx context.Context, id string) (*models.Tuition, error)
	ListTuitions(ctx context.Context, filter models.TuitionFilter) ([]models.Tuition, error)
}

type paymentLister interface {
	ListPaymentsByTuition(ctx context.Context, tuitionID string) ([]models.Payment, error)
}

// PaymentService owns the tuition ledger: every change to paid amounts goes through it.
type PaymentService struct {
	uow       txRunner
	tuitions  tuitionReader
	payments  paymentLister
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// PaymentServiceOption configures the service.
type PaymentServiceOption func(*PaymentService)

// WithPaymentClock overrides the time source.
func WithPaymentClock(now func() time.Time) PaymentServiceOption {
	return func(s *PaymentService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(uow txRunner, tuitions tuitionReader, payments paymentLister, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, opts ...PaymentServiceOption) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &PaymentService{
		uow:       uow,
		tuitions:  tuitions,
		payments:  payments,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// RecordPayment applies entry to a tuition already locked by tx and stores the Payment row.
// The caller decides whether the tuition may receive the payment.
func (s *PaymentService) RecordPayment(ctx context.Context, tx repository.Tx, tuition *models.Tuition, entry LedgerEntry) (*models.Payment, error) {
	if !entry.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be greater than zero")
	}
	now := s.now()
	if entry.PaymentDate.IsZero() {
		entry.PaymentDate = now
	}

	tuition.PaidAmount = tuition.PaidAmount.Add(entry.Amount)
	tuition.Recompute()
	tuition.UpdatedAt = now
	if err := tx.UpdateTuitionLedger(ctx, tuition); err != nil {
		return nil, appErrors.Internal(err, "failed to update tuition ledger")
	}

	payment := &models.Payment{
		TuitionID:        tuition.ID,
		Amount:           entry.Amount,
		EmployeeID:       entry.EmployeeID,
		PaymentRequestID: entry.PaymentRequestID,
		Source:           entry.Source,
		PaymentDate:      entry.PaymentDate,
		Notes:            entry.Notes,
		CreatedAt:        now,
	}
	if err := tx.CreatePayment(ctx, payment); err != nil {
		return nil, appErrors.Internal(err, "failed to record payment")
	}
	s.metrics.PaymentRecorded(entry.Source)
	return payment, nil
}

// ProcessPayment records a manual payment taken by an employee.
func (s *PaymentService) ProcessPayment(ctx context.Context, req dto.ProcessPaymentRequest, actorID string) (*dto.PaymentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be greater than zero")
	}

	var result dto.PaymentResult
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		tuition, err := tx.GetTuitionForUpdate(ctx, req.TuitionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "tuition not found")
			}
			return appErrors.Internal(err, "failed to load tuition")
		}
		if tuition.Status == models.TuitionStatusPaid {
			return appErrors.Clone(appErrors.ErrValidation, "tuition is already paid")
		}
		bundled, err := tx.ActiveRequestTuitionIDs(ctx, []string{tuition.ID}, s.now())
		if err != nil {
			return appErrors.Internal(err, "failed to check active payment requests")
		}
		if len(bundled) > 0 {
			return appErrors.Clone(appErrors.ErrConflict, "tuition is awaiting a bank transfer in an active payment request")
		}
		if req.Amount.GreaterThan(tuition.Outstanding()) {
			return appErrors.Clone(appErrors.ErrValidation, "payment amount exceeds the outstanding amount of "+tuition.Outstanding().String())
		}

		entry := LedgerEntry{
			Amount:     req.Amount,
			Source:     models.PaymentSourceManual,
			EmployeeID: stringPtr(actorID),
			Notes:      req.Notes,
		}
		if req.PaymentDate != nil {
			entry.PaymentDate = req.PaymentDate.UTC()
		}
		payment, err := s.RecordPayment(ctx, tx, tuition, entry)
		if err != nil {
			return err
		}

		if err := tx.CreateAuditLog(ctx, newAuditLog(stringPtr(actorID), models.AuditActionPaymentRecord, "tuition", tuition.ID, map[string]interface{}{
			"payment_id": payment.ID,
			"amount":     payment.Amount.String(),
			"status":     tuition.Status,
		})); err != nil {
			return appErrors.Internal(err, "failed to record audit log")
		}

		result = dto.PaymentResult{Payment: payment, Tuition: tuition}
		return nil
	})
	if err != nil {
		return nil, s.surface(err, "failed to process payment")
	}

	s.logger.Info("payment recorded",
		zap.String("tuition_id", result.Tuition.ID),
		zap.String("payment_id", result.Payment.ID),
		zap.String("amount", result.Payment.Amount.String()),
		zap.String("status", string(result.Tuition.Status)),
	)
	return &result, nil
}

// ReversePayment deletes a payment and recomputes its tuition from the remaining ledger.
func (s *PaymentService) ReversePayment(ctx context.Context, paymentID, actorID string) (*dto.PaymentResult, error) {
	if paymentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment id is required")
	}

	var result dto.PaymentResult
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		payment, err := tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "payment not found")
			}
			return appErrors.Internal(err, "failed to load payment")
		}
		tuition, err := tx.GetTuitionForUpdate(ctx, payment.TuitionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "tuition not found")
			}
			return appErrors.Internal(err, "failed to load tuition")
		}

		if err := tx.DeletePayment(ctx, payment.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "payment not found")
			}
			return appErrors.Internal(err, "failed to delete payment")
		}
		paid, err := tx.SumPayments(ctx, tuition.ID)
		if err != nil {
			return appErrors.Internal(err, "failed to sum payments")
		}
		if paid.IsNegative() {
			paid = decimal.Zero
		}

		tuition.PaidAmount = paid
		tuition.Recompute()
		tuition.UpdatedAt = s.now()
		if err := tx.UpdateTuitionLedger(ctx, tuition); err != nil {
			return appErrors.Internal(err, "failed to update tuition ledger")
		}

		if err := tx.CreateAuditLog(ctx, newAuditLog(stringPtr(actorID), models.AuditActionPaymentReverse, "tuition", tuition.ID, map[string]interface{}{
			"payment_id": payment.ID,
			"amount":     payment.Amount.String(),
			"status":     tuition.Status,
		})); err != nil {
			return appErrors.Internal(err, "failed to record audit log")
		}

		result = dto.PaymentResult{Payment: payment, Tuition: tuition}
		return nil
	})
	if err != nil {
		return nil, s.surface(err, "failed to reverse payment")
	}

	s.logger.Info("payment reversed",
		zap.String("tuition_id", result.Tuition.ID),
		zap.String("payment_id", paymentID),
		zap.String("status", string(result.Tuition.Status)),
	)
	return &result, nil
}

// ListByTuition returns the ledger of one tuition.
func (s *PaymentService) ListByTuition(ctx context.Context, tuitionID string) ([]models.Payment, error) {
	if _, err := s.GetTuition(ctx, tuitionID); err != nil {
		return nil, err
	}
	payments, err := s.payments.ListPaymentsByTuition(ctx, tuitionID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list payments")
	}
	return payments, nil
}

// GetTuition returns one tuition.
func (s *PaymentService) GetTuition(ctx context.Context, tuitionID string) (*models.Tuition, error) {
	tuition, err := s.tuitions.GetTuition(ctx, tuitionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "tuition not found")
		}
		return nil, appErrors.Internal(err, "failed to load tuition")
	}
	return tuition, nil
}

// ListTuitions lists tuitions matching filter.
func (s *PaymentService) ListTuitions(ctx context.Context, filter models.TuitionFilter) ([]models.Tuition, error) {
	if filter.Status != "" {
		switch filter.Status {
		case models.TuitionStatusUnpaid, models.TuitionStatusPartial, models.TuitionStatusPaid:
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid tuition status filter")
		}
	}
	tuitions, err := s.tuitions.ListTuitions(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list tuitions")
	}
	return tuitions, nil
}

// surface logs unexpected failures and passes domain errors through unchanged.
func (s *PaymentService) surface(err error, message string) error {
	return surfaceError(s.logger, err, message)
}

func surfaceError(logger *zap.Logger, err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		if appErr.Status >= 500 {
			logger.Error(message, zap.Error(err))
		}
		return appErr
	}
	logger.Error(message, zap.Error(err))
	return appErrors.Internal(err, message)
}
