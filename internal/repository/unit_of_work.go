package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// Tx is the set of ledger operations available inside one database transaction.
// Every tuition mutation and the Payment rows it implies go through a Tx so
// they commit or roll back together.
type Tx interface {
	GetTuitionForUpdate(ctx context.Context, id string) (*models.Tuition, error)
	ListTuitionsForUpdate(ctx context.Context, ids []string) ([]models.Tuition, error)
	ListUnpaidTuitionsForUpdate(ctx context.Context, studentID, classID string) ([]models.Tuition, error)
	ListOpenTuitionsForUpdate(ctx context.Context, studentID, classID string) ([]models.Tuition, error)
	ListDiscountCandidatesForUpdate(ctx context.Context, academicYearID string, classID *string, periods models.Periods) ([]models.Tuition, error)
	UpdateTuitionLedger(ctx context.Context, tuition *models.Tuition) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentForUpdate(ctx context.Context, id string) (*models.Payment, error)
	DeletePayment(ctx context.Context, id string) error
	SumPayments(ctx context.Context, tuitionID string) (decimal.Decimal, error)

	ExpireStalePaymentRequests(ctx context.Context, now time.Time) (int64, error)
	PendingTotalExists(ctx context.Context, total decimal.Decimal, now time.Time) (bool, error)
	ActiveRequestTuitionIDs(ctx context.Context, tuitionIDs []string, now time.Time) ([]string, error)
	FindActivePaymentRequest(ctx context.Context, studentID string, now time.Time) (*models.PaymentRequest, error)
	CreatePaymentRequest(ctx context.Context, req *models.PaymentRequest, items []models.PaymentRequestItem) error
	GetPaymentRequestForUpdate(ctx context.Context, id string) (*models.PaymentRequest, error)
	FindPendingByTotalForUpdate(ctx context.Context, amount decimal.Decimal, now time.Time) (*models.PaymentRequest, error)
	ListPaymentRequestItems(ctx context.Context, requestID string) ([]models.PaymentRequestItem, error)
	UpdatePaymentRequestStatus(ctx context.Context, req *models.PaymentRequest) error

	CreateScholarship(ctx context.Context, s *models.Scholarship) error
	SumScholarships(ctx context.Context, studentID, classID string) (decimal.Decimal, error)

	GetDiscountForUpdate(ctx context.Context, id string) (*models.Discount, error)
	MarkDiscountApplied(ctx context.Context, id string, at time.Time) error

	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// txRepositories binds every ledger repository to the same *sqlx.Tx.
type txRepositories struct {
	*TuitionRepository
	*PaymentRepository
	*PaymentRequestRepository
	*ScholarshipRepository
	*DiscountRepository
	*AuditRepository
}

var _ Tx = (*txRepositories)(nil)

func newTxRepositories(tx *sqlx.Tx) *txRepositories {
	return &txRepositories{
		TuitionRepository:        NewTuitionRepository(tx),
		PaymentRepository:        NewPaymentRepository(tx),
		PaymentRequestRepository: NewPaymentRequestRepository(tx),
		ScholarshipRepository:    NewScholarshipRepository(tx),
		DiscountRepository:       NewDiscountRepository(tx),
		AuditRepository:          NewAuditRepository(tx),
	}
}

// UnitOfWork runs ledger operations in database transactions.
type UnitOfWork struct {
	db *sqlx.DB
}

// NewUnitOfWork constructs a unit of work.
func NewUnitOfWork(db *sqlx.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// WithinTx runs fn in a transaction, committing when fn returns nil and rolling back otherwise.
func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(newTxRepositories(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
