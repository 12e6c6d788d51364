package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// Names of the partial unique indexes guarding live payment requests.
const (
	PendingTotalConstraint   = "payment_requests_pending_total_key"
	PendingStudentConstraint = "payment_requests_pending_student_key"
)

const paymentRequestColumns = `id, student_id, bank_account_id, status, base_amount, unique_code, total_amount,
expires_at, display_expires_at, verified_at, cancelled_at, transfer_reference, created_at, updated_at`

// PaymentRequestRepository persists payment requests and their items.
type PaymentRequestRepository struct {
	db sqlx.ExtContext
}

// NewPaymentRequestRepository constructs the repository over a database or transaction handle.
func NewPaymentRequestRepository(db sqlx.ExtContext) *PaymentRequestRepository {
	return &PaymentRequestRepository{db: db}
}

// ExpireStalePaymentRequests flips PENDING requests past their backend deadline to EXPIRED.
func (r *PaymentRequestRepository) ExpireStalePaymentRequests(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE payment_requests SET status = 'EXPIRED', updated_at = $1
WHERE status = 'PENDING' AND expires_at <= $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("expire payment requests: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire payment requests rows: %w", err)
	}
	return affected, nil
}

// PendingTotalExists reports whether a live request already uses total.
func (r *PaymentRequestRepository) PendingTotalExists(ctx context.Context, total decimal.Decimal, now time.Time) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM payment_requests WHERE status = 'PENDING' AND expires_at > $2 AND total_amount = $1)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.db, &exists, query, total, now); err != nil {
		return false, fmt.Errorf("check pending total: %w", err)
	}
	return exists, nil
}

// ActiveRequestTuitionIDs returns which of the given tuitions are already bundled into a live request.
func (r *PaymentRequestRepository) ActiveRequestTuitionIDs(ctx context.Context, tuitionIDs []string, now time.Time) ([]string, error) {
	if len(tuitionIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT DISTINCT i.tuition_id FROM payment_request_items i
JOIN payment_requests pr ON pr.id = i.payment_request_id
WHERE pr.status = 'PENDING' AND pr.expires_at > $2 AND i.tuition_id = ANY($1)
ORDER BY i.tuition_id`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.db, &ids, query, pq.Array(tuitionIDs), now); err != nil {
		return nil, fmt.Errorf("find bundled tuitions: %w", err)
	}
	return ids, nil
}

// CreatePaymentRequest inserts a request and its items.
func (r *PaymentRequestRepository) CreatePaymentRequest(ctx context.Context, req *models.PaymentRequest, items []models.PaymentRequestItem) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.UpdatedAt = req.CreatedAt

	const query = `INSERT INTO payment_requests (id, student_id, bank_account_id, status, base_amount, unique_code, total_amount,
expires_at, display_expires_at, created_at, updated_at)
VALUES (:id, :student_id, :bank_account_id, :status, :base_amount, :unique_code, :total_amount,
:expires_at, :display_expires_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, req); err != nil {
		return fmt.Errorf("create payment request: %w", err)
	}

	const itemQuery = `INSERT INTO payment_request_items (id, payment_request_id, tuition_id, amount)
VALUES (:id, :payment_request_id, :tuition_id, :amount)`
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		items[i].PaymentRequestID = req.ID
		if _, err := sqlx.NamedExecContext(ctx, r.db, itemQuery, items[i]); err != nil {
			return fmt.Errorf("create payment request item: %w", err)
		}
	}
	return nil
}

// GetPaymentRequest fetches a request by id.
func (r *PaymentRequestRepository) GetPaymentRequest(ctx context.Context, id string) (*models.PaymentRequest, error) {
	return r.getPaymentRequest(ctx, `SELECT `+paymentRequestColumns+` FROM payment_requests WHERE id = $1`, id)
}

// GetPaymentRequestForUpdate fetches a request and locks it until the transaction ends.
func (r *PaymentRequestRepository) GetPaymentRequestForUpdate(ctx context.Context, id string) (*models.PaymentRequest, error) {
	return r.getPaymentRequest(ctx, `SELECT `+paymentRequestColumns+` FROM payment_requests WHERE id = $1 FOR UPDATE`, id)
}

// FindPendingByTotalForUpdate locks the live request whose total matches amount.
func (r *PaymentRequestRepository) FindPendingByTotalForUpdate(ctx context.Context, amount decimal.Decimal, now time.Time) (*models.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests
WHERE status = 'PENDING' AND total_amount = $1 AND expires_at > $2 FOR UPDATE`
	return r.getPaymentRequest(ctx, query, amount, now)
}

// FindActivePaymentRequest returns the live request of a student.
func (r *PaymentRequestRepository) FindActivePaymentRequest(ctx context.Context, studentID string, now time.Time) (*models.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests
WHERE student_id = $1 AND status = 'PENDING' AND expires_at > $2 ORDER BY created_at DESC LIMIT 1`
	return r.getPaymentRequest(ctx, query, studentID, now)
}

func (r *PaymentRequestRepository) getPaymentRequest(ctx context.Context, query string, args ...interface{}) (*models.PaymentRequest, error) {
	var req models.PaymentRequest
	if err := sqlx.GetContext(ctx, r.db, &req, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get payment request: %w", err)
	}
	return &req, nil
}

// ListPaymentRequestsByStudent returns a student's requests, newest first.
func (r *PaymentRequestRepository) ListPaymentRequestsByStudent(ctx context.Context, studentID string, limit int) ([]models.PaymentRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE student_id = $1 ORDER BY created_at DESC LIMIT $2`
	var reqs []models.PaymentRequest
	if err := sqlx.SelectContext(ctx, r.db, &reqs, query, studentID, limit); err != nil {
		return nil, fmt.Errorf("list payment requests: %w", err)
	}
	return reqs, nil
}

// ListPaymentRequestItems returns the items of a request in settlement order:
// ascending due date, then period, then tuition id.
func (r *PaymentRequestRepository) ListPaymentRequestItems(ctx context.Context, requestID string) ([]models.PaymentRequestItem, error) {
	const query = `SELECT i.id, i.payment_request_id, i.tuition_id, i.amount, t.month, t.year, t.due_date
FROM payment_request_items i JOIN tuitions t ON t.id = i.tuition_id
WHERE i.payment_request_id = $1
ORDER BY t.due_date ASC, t.year ASC, t.month ASC, i.tuition_id ASC`
	var items []models.PaymentRequestItem
	if err := sqlx.SelectContext(ctx, r.db, &items, query, requestID); err != nil {
		return nil, fmt.Errorf("list payment request items: %w", err)
	}
	return items, nil
}

// UpdatePaymentRequestStatus persists a status transition and its timestamps.
func (r *PaymentRequestRepository) UpdatePaymentRequestStatus(ctx context.Context, req *models.PaymentRequest) error {
	const query = `UPDATE payment_requests SET status = :status, verified_at = :verified_at, cancelled_at = :cancelled_at,
transfer_reference = :transfer_reference, updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.db, query, req)
	if err != nil {
		return fmt.Errorf("update payment request status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payment request rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
