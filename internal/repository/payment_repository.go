package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

const paymentColumns = `id, tuition_id, amount, employee_id, payment_request_id, source, payment_date, notes, created_at`

// PaymentRepository persists ledger entries.
type PaymentRepository struct {
	db sqlx.ExtContext
}

// NewPaymentRepository constructs the repository over a database or transaction handle.
func NewPaymentRepository(db sqlx.ExtContext) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// CreatePayment inserts a ledger entry.
func (r *PaymentRepository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO payments (id, tuition_id, amount, employee_id, payment_request_id, source, payment_date, notes, created_at)
VALUES (:id, :tuition_id, :amount, :employee_id, :payment_request_id, :source, :payment_date, :notes, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// GetPaymentForUpdate fetches a payment and locks it until the transaction ends.
func (r *PaymentRepository) GetPaymentForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	var payment models.Payment
	if err := sqlx.GetContext(ctx, r.db, &payment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &payment, nil
}

// DeletePayment removes a ledger entry.
func (r *PaymentRepository) DeletePayment(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete payment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SumPayments returns the total recorded against a tuition.
func (r *PaymentRepository) SumPayments(ctx context.Context, tuitionID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := sqlx.GetContext(ctx, r.db, &total, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE tuition_id = $1`, tuitionID); err != nil {
		return decimal.Zero, fmt.Errorf("sum payments: %w", err)
	}
	return total, nil
}

// ListPaymentsByTuition returns the ledger of one tuition, oldest first.
func (r *PaymentRepository) ListPaymentsByTuition(ctx context.Context, tuitionID string) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE tuition_id = $1 ORDER BY payment_date ASC, created_at ASC`
	var payments []models.Payment
	if err := sqlx.SelectContext(ctx, r.db, &payments, query, tuitionID); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}
