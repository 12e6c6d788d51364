package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

const discountColumns = `id, name, academic_year_id, class_id, amount, target_periods, applied_at, created_by, created_at`

// DiscountRepository persists discounts.
type DiscountRepository struct {
	db sqlx.ExtContext
}

// NewDiscountRepository constructs the repository over a database or transaction handle.
func NewDiscountRepository(db sqlx.ExtContext) *DiscountRepository {
	return &DiscountRepository{db: db}
}

// CreateDiscount inserts a discount.
func (r *DiscountRepository) CreateDiscount(ctx context.Context, d *models.Discount) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO discounts (id, name, academic_year_id, class_id, amount, target_periods, created_by, created_at)
VALUES (:id, :name, :academic_year_id, :class_id, :amount, :target_periods, :created_by, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, d); err != nil {
		return fmt.Errorf("create discount: %w", err)
	}
	return nil
}

// GetDiscount fetches a discount by id.
func (r *DiscountRepository) GetDiscount(ctx context.Context, id string) (*models.Discount, error) {
	return r.getDiscount(ctx, `SELECT `+discountColumns+` FROM discounts WHERE id = $1`, id)
}

// GetDiscountForUpdate fetches a discount and locks it until the transaction ends.
func (r *DiscountRepository) GetDiscountForUpdate(ctx context.Context, id string) (*models.Discount, error) {
	return r.getDiscount(ctx, `SELECT `+discountColumns+` FROM discounts WHERE id = $1 FOR UPDATE`, id)
}

func (r *DiscountRepository) getDiscount(ctx context.Context, query, id string) (*models.Discount, error) {
	var d models.Discount
	if err := sqlx.GetContext(ctx, r.db, &d, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get discount: %w", err)
	}
	return &d, nil
}

// MarkDiscountApplied stamps applied_at on a discount that has not been applied yet.
// It returns sql.ErrNoRows when the discount was already applied.
func (r *DiscountRepository) MarkDiscountApplied(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE discounts SET applied_at = $2 WHERE id = $1 AND applied_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark discount applied: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark discount applied rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
