package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	"github.com/noah-isme/sma-tuition-api/internal/repository"
	"github.com/noah-isme/sma-tuition-api/pkg/database"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/receipt"
)

const actionCreatePaymentRequest = "payment_request.create"

type paymentRequestReader interface {
	GetPaymentRequest(ctx context.Context, id string) (*models.PaymentRequest, error)
	FindActivePaymentRequest(ctx context.Context, studentID string, now time.Time) (*models.PaymentRequest, error)
	ListPaymentRequestsByStudent(ctx context.Context, studentID string, limit int) ([]models.PaymentRequest, error)
	ListPaymentRequestItems(ctx context.Context, requestID string) ([]models.PaymentRequestItem, error)
	ExpireStalePaymentRequests(ctx context.Context, now time.Time) (int64, error)
}

type bankAccountReader interface {
	GetBankAccount(ctx context.Context, id string) (*models.BankAccount, error)
	ListActiveBankAccounts(ctx context.Context) ([]models.BankAccount, error)
}

type studentReader interface {
	GetStudent(ctx context.Context, id string) (*models.Student, error)
}

type ledgerRecorder interface {
	RecordPayment(ctx context.Context, tx repository.Tx, tuition *models.Tuition, entry LedgerEntry) (*models.Payment, error)
}

type amountAllocator interface {
	AllocateWithin(ctx context.Context, checker PendingTotalChecker, baseAmount decimal.Decimal) (*models.UniqueAmount, error)
}

type receiptRenderer interface {
	Render(r receipt.Receipt) ([]byte, error)
}

// PaymentRequestConfig tunes the request lifecycle.
type PaymentRequestConfig struct {
	RequestTTL    time.Duration
	DisplayTTL    time.Duration
	// TransferGrace bounds how far before processing a bank-observed transfer
	// time may still match a request that has since passed its deadline.
	TransferGrace time.Duration
	CreateRetries int
	SystemActor   string
	SchoolName    string
}

// PaymentRequestService creates, expires, cancels and settles payment requests.
type PaymentRequestService struct {
	uow         txRunner
	requests    paymentRequestReader
	banks       bankAccountReader
	students    studentReader
	ledger      ledgerRecorder
	allocator   amountAllocator
	idempotency *IdempotencyService
	receipts    receiptRenderer
	cache       *CacheService
	validator   *validator.Validate
	config      PaymentRequestConfig
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// PaymentRequestDeps groups the collaborators of PaymentRequestService.
type PaymentRequestDeps struct {
	UnitOfWork  txRunner
	Requests    paymentRequestReader
	Banks       bankAccountReader
	Students    studentReader
	Ledger      ledgerRecorder
	Allocator   amountAllocator
	Idempotency *IdempotencyService
	Receipts    receiptRenderer
	Cache       *CacheService
	Validator   *validator.Validate
	Metrics     *MetricsService
	Logger      *zap.Logger
}

// PaymentRequestOption configures the service.
type PaymentRequestOption func(*PaymentRequestService)

// WithPaymentRequestClock overrides the time source.
func WithPaymentRequestClock(now func() time.Time) PaymentRequestOption {
	return func(s *PaymentRequestService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewPaymentRequestService constructs a PaymentRequestService.
func NewPaymentRequestService(deps PaymentRequestDeps, cfg PaymentRequestConfig, opts ...PaymentRequestOption) *PaymentRequestService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if cfg.RequestTTL <= 0 {
		cfg.RequestTTL = 10 * time.Minute
	}
	if cfg.DisplayTTL <= 0 || cfg.DisplayTTL > cfg.RequestTTL {
		cfg.DisplayTTL = cfg.RequestTTL / 2
	}
	if cfg.TransferGrace < 0 {
		cfg.TransferGrace = 0
	}
	if cfg.CreateRetries <= 0 {
		cfg.CreateRetries = 3
	}
	if cfg.SystemActor == "" {
		cfg.SystemActor = "SYSTEM"
	}
	svc := &PaymentRequestService{
		uow:         deps.UnitOfWork,
		requests:    deps.Requests,
		banks:       deps.Banks,
		students:    deps.Students,
		ledger:      deps.Ledger,
		allocator:   deps.Allocator,
		idempotency: deps.Idempotency,
		receipts:    deps.Receipts,
		cache:       deps.Cache,
		validator:   deps.Validator,
		config:      cfg,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Now exposes the service clock so views agree with lifecycle decisions.
func (s *PaymentRequestService) Now() time.Time {
	return s.now()
}

// Create bundles tuitions into a new PENDING request with a unique transfer amount.
// A repeated submission, identified by clientKey or by the payload within the
// idempotency bucket, returns the first result with replayed set.
func (s *PaymentRequestService) Create(ctx context.Context, studentID string, req dto.CreatePaymentRequest, clientKey string) (detail *models.PaymentRequestDetail, replayed bool, err error) {
	if studentID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "only students can create payment requests")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment request payload")
	}

	normalized := dto.CreatePaymentRequest{
		TuitionIDs:    append([]string(nil), req.TuitionIDs...),
		BankAccountID: req.BankAccountID,
	}
	sort.Strings(normalized.TuitionIDs)

	if s.idempotency == nil {
		detail, err := s.create(ctx, studentID, normalized)
		return detail, false, err
	}

	key := s.idempotency.ScopedKey(studentID, actionCreatePaymentRequest, clientKey)
	if strings.TrimSpace(clientKey) == "" {
		if key, err = s.idempotency.DeriveKey(studentID, actionCreatePaymentRequest, normalized); err != nil {
			return nil, false, appErrors.Internal(err, "failed to derive idempotency key")
		}
	}

	result, err := WithIdempotency(ctx, s.idempotency, key, actionCreatePaymentRequest, 0, func(ctx context.Context) (*models.PaymentRequestDetail, error) {
		return s.create(ctx, studentID, normalized)
	})
	if err != nil {
		return nil, false, err
	}
	return result.Result, result.IsDuplicate, nil
}

func (s *PaymentRequestService) create(ctx context.Context, studentID string, req dto.CreatePaymentRequest) (*models.PaymentRequestDetail, error) {
	bank, err := s.banks.GetBankAccount(ctx, req.BankAccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "bank account not found")
		}
		return nil, appErrors.Internal(err, "failed to load bank account")
	}
	if !bank.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "bank account is not active")
	}

	for attempt := 1; attempt <= s.config.CreateRetries; attempt++ {
		start := time.Now()
		detail, err := s.createOnce(ctx, studentID, req, bank)
		s.metrics.ObserveDBQuery("payment_request_create", time.Since(start))
		switch {
		case err == nil:
			s.metrics.PaymentRequestCreated()
			s.logger.Info("payment request created",
				zap.String("payment_request_id", detail.ID),
				zap.String("student_id", studentID),
				zap.String("total_amount", detail.TotalAmount.String()),
				zap.Int("items", len(detail.Items)),
			)
			return detail, nil
		case database.IsUniqueViolation(err, repository.PendingTotalConstraint):
			s.logger.Warn("unique amount collided on insert, retrying", zap.Int("attempt", attempt))
			continue
		case database.IsUniqueViolation(err, repository.PendingStudentConstraint):
			return nil, appErrors.Clone(appErrors.ErrValidation, "student already has an active payment request")
		default:
			return nil, surfaceError(s.logger, err, "failed to create payment request")
		}
	}
	return nil, appErrors.Clone(appErrors.ErrCapacity, "")
}

func (s *PaymentRequestService) createOnce(ctx context.Context, studentID string, req dto.CreatePaymentRequest, bank *models.BankAccount) (*models.PaymentRequestDetail, error) {
	var detail *models.PaymentRequestDetail
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		now := s.now()
		if _, err := tx.ExpireStalePaymentRequests(ctx, now); err != nil {
			return appErrors.Internal(err, "failed to expire stale payment requests")
		}

		if _, err := tx.FindActivePaymentRequest(ctx, studentID, now); err == nil {
			return appErrors.Clone(appErrors.ErrValidation, "student already has an active payment request")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Internal(err, "failed to check active payment request")
		}

		tuitions, err := tx.ListTuitionsForUpdate(ctx, req.TuitionIDs)
		if err != nil {
			return appErrors.Internal(err, "failed to lock tuitions")
		}
		if len(tuitions) != len(req.TuitionIDs) {
			return appErrors.Clone(appErrors.ErrValidation, "tuition not found")
		}
		for _, t := range tuitions {
			if t.StudentID != studentID {
				return appErrors.Clone(appErrors.ErrValidation, "tuition not found")
			}
			if t.Status == models.TuitionStatusPaid || !t.Outstanding().IsPositive() {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("tuition %s is already paid", t.Period()))
			}
		}

		bundled, err := tx.ActiveRequestTuitionIDs(ctx, req.TuitionIDs, now)
		if err != nil {
			return appErrors.Internal(err, "failed to check bundled tuitions")
		}
		if len(bundled) > 0 {
			return appErrors.Clone(appErrors.ErrValidation, "tuition is already part of an active payment request")
		}

		sort.SliceStable(tuitions, func(i, j int) bool { return settlesBefore(tuitions[i], tuitions[j]) })
		base := decimal.Zero
		items := make([]models.PaymentRequestItem, 0, len(tuitions))
		for _, t := range tuitions {
			outstanding := t.Outstanding()
			base = base.Add(outstanding)
			items = append(items, models.PaymentRequestItem{
				TuitionID: t.ID,
				Amount:    outstanding,
				Month:     t.Month,
				Year:      t.Year,
				DueDate:   t.DueDate,
			})
		}

		amount, err := s.allocator.AllocateWithin(ctx, tx, base)
		if err != nil {
			return err
		}

		request := models.PaymentRequest{
			StudentID:        studentID,
			BankAccountID:    bank.ID,
			Status:           models.PaymentRequestStatusPending,
			BaseAmount:       amount.BaseAmount,
			UniqueCode:       amount.UniqueCode,
			TotalAmount:      amount.TotalAmount,
			ExpiresAt:        now.Add(s.config.RequestTTL),
			DisplayExpiresAt: now.Add(s.config.DisplayTTL),
			CreatedAt:        now,
		}
		if err := tx.CreatePaymentRequest(ctx, &request, items); err != nil {
			return appErrors.Internal(err, "failed to insert payment request")
		}

		detail = &models.PaymentRequestDetail{PaymentRequest: request, Items: items, BankAccount: bank}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func settlesBefore(a, b models.Tuition) bool {
	if !a.DueDate.Equal(b.DueDate) {
		return a.DueDate.Before(b.DueDate)
	}
	if a.Year != b.Year {
		return a.Year < b.Year
	}
	if a.Month != b.Month {
		return a.Month < b.Month
	}
	return a.ID < b.ID
}

// Cancel moves a student's PENDING request to CANCELLED.
func (s *PaymentRequestService) Cancel(ctx context.Context, requestID, studentID string) (*models.PaymentRequestDetail, error) {
	var cancelled *models.PaymentRequest
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		req, err := tx.GetPaymentRequestForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "payment request not found")
			}
			return appErrors.Internal(err, "failed to load payment request")
		}
		if req.StudentID != studentID {
			return appErrors.Clone(appErrors.ErrNotFound, "payment request not found")
		}
		now := s.now()
		if req.EffectiveStatus(now) != models.PaymentRequestStatusPending {
			return appErrors.Clone(appErrors.ErrValidation, "only pending payment requests can be cancelled")
		}

		req.Status = models.PaymentRequestStatusCancelled
		req.CancelledAt = &now
		req.UpdatedAt = now
		if err := tx.UpdatePaymentRequestStatus(ctx, req); err != nil {
			return appErrors.Internal(err, "failed to cancel payment request")
		}
		cancelled = req
		return nil
	})
	if err != nil {
		return nil, surfaceError(s.logger, err, "failed to cancel payment request")
	}

	s.logger.Info("payment request cancelled", zap.String("payment_request_id", requestID), zap.String("student_id", studentID))
	return s.detail(ctx, cancelled)
}

// Get returns one request. An empty studentID skips the ownership check for staff callers.
func (s *PaymentRequestService) Get(ctx context.Context, requestID, studentID string) (*models.PaymentRequestDetail, error) {
	req, err := s.requests.GetPaymentRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment request not found")
		}
		return nil, appErrors.Internal(err, "failed to load payment request")
	}
	if studentID != "" && req.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "payment request not found")
	}
	return s.detail(ctx, req)
}

// GetActive returns the student's live request, or nil when there is none.
func (s *PaymentRequestService) GetActive(ctx context.Context, studentID string) (*models.PaymentRequestDetail, error) {
	req, err := s.requests.FindActivePaymentRequest(ctx, studentID, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to load active payment request")
	}
	return s.detail(ctx, req)
}

// ListByStudent returns the student's request history, newest first.
func (s *PaymentRequestService) ListByStudent(ctx context.Context, studentID string, limit int) ([]models.PaymentRequest, error) {
	reqs, err := s.requests.ListPaymentRequestsByStudent(ctx, studentID, limit)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list payment requests")
	}
	now := s.now()
	for i := range reqs {
		reqs[i].Status = reqs[i].EffectiveStatus(now)
	}
	return reqs, nil
}

// BankAccounts lists the accounts students may transfer into.
func (s *PaymentRequestService) BankAccounts(ctx context.Context) ([]models.BankAccount, error) {
	var accounts []models.BankAccount
	if s.cache.Get(ctx, cacheKeyActiveBankAccounts, &accounts) {
		return accounts, nil
	}
	accounts, err := s.banks.ListActiveBankAccounts(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list bank accounts")
	}
	s.cache.Set(ctx, cacheKeyActiveBankAccounts, accounts, 0)
	return accounts, nil
}

func (s *PaymentRequestService) detail(ctx context.Context, req *models.PaymentRequest) (*models.PaymentRequestDetail, error) {
	req.Status = req.EffectiveStatus(s.now())
	items, err := s.requests.ListPaymentRequestItems(ctx, req.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load payment request items")
	}
	detail := &models.PaymentRequestDetail{PaymentRequest: *req, Items: items}
	bank, err := s.banks.GetBankAccount(ctx, req.BankAccountID)
	switch {
	case err == nil:
		detail.BankAccount = bank
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, appErrors.Internal(err, "failed to load bank account")
	}
	return detail, nil
}

// VerifyTransfer settles the PENDING request whose total equals the transferred amount.
// Items are applied in settlement order; an item whose tuition is already PAID is
// skipped and reported instead of charged twice.
func (s *PaymentRequestService) VerifyTransfer(ctx context.Context, event models.TransferEvent) (*models.TransferMatch, error) {
	if !event.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "transfer amount must be greater than zero")
	}

	match := &models.TransferMatch{Amount: event.Amount}
	err := s.uow.WithinTx(ctx, func(tx repository.Tx) error {
		now := s.now()
		req, err := tx.FindPendingByTotalForUpdate(ctx, event.Amount, s.matchTime(event, now))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return appErrors.Internal(err, "failed to find pending payment request")
		}

		items, err := tx.ListPaymentRequestItems(ctx, req.ID)
		if err != nil {
			return appErrors.Internal(err, "failed to load payment request items")
		}
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.TuitionID)
		}
		locked, err := tx.ListTuitionsForUpdate(ctx, ids)
		if err != nil {
			return appErrors.Internal(err, "failed to lock tuitions")
		}
		byID := make(map[string]*models.Tuition, len(locked))
		for i := range locked {
			byID[locked[i].ID] = &locked[i]
		}

		paymentDate := event.ObservedAt
		if paymentDate.IsZero() {
			paymentDate = now
		}
		notes := "bank transfer"
		if event.Reference != "" {
			notes = "bank transfer " + event.Reference
		}

		payments := make([]models.Payment, 0, len(items))
		var skipped []string
		surplus := decimal.Zero
		for _, item := range items {
			tuition, ok := byID[item.TuitionID]
			if !ok || tuition.Status == models.TuitionStatusPaid || !tuition.Outstanding().IsPositive() {
				skipped = append(skipped, item.TuitionID)
				surplus = surplus.Add(item.Amount)
				continue
			}
			// Discounts or scholarships applied after creation shrink what the tuition still owes.
			amount := decimal.Min(item.Amount, tuition.Outstanding())
			surplus = surplus.Add(item.Amount.Sub(amount))
			payment, err := s.ledger.RecordPayment(ctx, tx, tuition, LedgerEntry{
				Amount:           amount,
				Source:           models.PaymentSourceTransfer,
				PaymentRequestID: &req.ID,
				PaymentDate:      paymentDate,
				Notes:            &notes,
			})
			if err != nil {
				return err
			}
			payments = append(payments, *payment)
		}

		req.Status = models.PaymentRequestStatusVerified
		req.VerifiedAt = &now
		req.TransferRef = stringPtr(event.Reference)
		req.UpdatedAt = now
		if err := tx.UpdatePaymentRequestStatus(ctx, req); err != nil {
			return appErrors.Internal(err, "failed to mark payment request verified")
		}

		if err := tx.CreateAuditLog(ctx, newAuditLog(nil, models.AuditActionPaymentRequestSettle, "payment_request", req.ID, map[string]interface{}{
			"actor":        s.config.SystemActor,
			"amount":       event.Amount.String(),
			"payments":     len(payments),
			"skipped":      skipped,
			"surplus":      surplus.String(),
			"sender":       event.SenderInfo,
			"reference":    event.Reference,
			"observed_at":  paymentDate,
			"verification": "transfer",
		})); err != nil {
			return appErrors.Internal(err, "failed to record audit log")
		}

		match.Matched = true
		match.PaymentRequestID = req.ID
		match.Payments = payments
		match.SkippedTuitionIDs = skipped
		match.Surplus = surplus
		return nil
	})
	if err != nil {
		return nil, surfaceError(s.logger, err, "failed to verify transfer")
	}

	s.metrics.TransferSettled(match.Matched)
	if !match.Matched {
		s.logger.Warn("transfer did not match a pending payment request",
			zap.String("amount", event.Amount.String()),
			zap.String("reference", event.Reference),
			zap.Time("observed_at", event.ObservedAt),
		)
		return match, nil
	}
	if match.Surplus.IsPositive() {
		s.logger.Warn("transfer exceeded what the bundled tuitions still owe",
			zap.String("payment_request_id", match.PaymentRequestID),
			zap.String("surplus", match.Surplus.String()),
		)
	}
	s.logger.Info("payment request verified",
		zap.String("payment_request_id", match.PaymentRequestID),
		zap.String("amount", event.Amount.String()),
		zap.Int("payments", len(match.Payments)),
		zap.Strings("skipped_tuition_ids", match.SkippedTuitionIDs),
	)
	return match, nil
}

// matchTime is the instant a transfer is matched against request deadlines: the
// bank's observation time, but never earlier than now minus the transfer grace.
func (s *PaymentRequestService) matchTime(event models.TransferEvent, now time.Time) time.Time {
	if event.ObservedAt.IsZero() || !event.ObservedAt.Before(now) {
		return now
	}
	floor := now.Add(-s.config.TransferGrace)
	if event.ObservedAt.Before(floor) {
		return floor
	}
	return event.ObservedAt
}

// ExpireStale flips every PENDING request past its backend deadline to EXPIRED.
func (s *PaymentRequestService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.requests.ExpireStalePaymentRequests(ctx, s.now())
	if err != nil {
		return 0, appErrors.Internal(err, "failed to expire payment requests")
	}
	s.metrics.PaymentRequestsExpired(n)
	if n > 0 {
		s.logger.Info("payment requests expired", zap.Int64("count", n))
	}
	return n, nil
}

// Receipt renders the PDF receipt of a VERIFIED request owned by studentID.
func (s *PaymentRequestService) Receipt(ctx context.Context, requestID, studentID string) ([]byte, string, error) {
	detail, err := s.Get(ctx, requestID, studentID)
	if err != nil {
		return nil, "", err
	}
	if detail.Status != models.PaymentRequestStatusVerified || detail.VerifiedAt == nil {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "receipts are only available for verified payment requests")
	}
	if s.receipts == nil {
		return nil, "", appErrors.Clone(appErrors.ErrInternal, "receipt rendering is not configured")
	}

	student, err := s.students.GetStudent(ctx, detail.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, "", appErrors.Internal(err, "failed to load student")
	}

	number := receiptNumber(detail.ID, *detail.VerifiedAt)
	doc := receipt.Receipt{
		SchoolName:  s.config.SchoolName,
		Number:      number,
		StudentName: student.FullName,
		StudentNIS:  student.NIS,
		VerifiedAt:  *detail.VerifiedAt,
		BaseAmount:  detail.BaseAmount,
		UniqueCode:  detail.UniqueCode,
		TotalAmount: detail.TotalAmount,
		Lines:       make([]receipt.Line, 0, len(detail.Items)),
	}
	if detail.BankAccount != nil {
		doc.BankName = detail.BankAccount.BankName
		doc.AccountNumber = detail.BankAccount.AccountNumber
	}
	for _, item := range detail.Items {
		doc.Lines = append(doc.Lines, receipt.Line{Period: models.FormatPeriod(item.Month, item.Year), Amount: item.Amount})
	}

	body, err := s.receipts.Render(doc)
	if err != nil {
		return nil, "", surfaceError(s.logger, appErrors.Internal(err, "failed to render receipt"), "failed to render receipt")
	}
	return body, strings.ReplaceAll(number, "/", "-") + ".pdf", nil
}

func receiptNumber(requestID string, verifiedAt time.Time) string {
	short := strings.ReplaceAll(requestID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("KW/%s/%s", verifiedAt.UTC().Format("20060102"), strings.ToUpper(short))
}
