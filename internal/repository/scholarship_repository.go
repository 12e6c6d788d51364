package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// ScholarshipRepository persists scholarships.
type ScholarshipRepository struct {
	db sqlx.ExtContext
}

// NewScholarshipRepository constructs the repository over a database or transaction handle.
func NewScholarshipRepository(db sqlx.ExtContext) *ScholarshipRepository {
	return &ScholarshipRepository{db: db}
}

// CreateScholarship inserts a scholarship.
func (r *ScholarshipRepository) CreateScholarship(ctx context.Context, s *models.Scholarship) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO scholarships (id, student_id, class_id, nominal, description, created_by, created_at)
VALUES (:id, :student_id, :class_id, :nominal, :description, :created_by, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, s); err != nil {
		return fmt.Errorf("create scholarship: %w", err)
	}
	return nil
}

// SumScholarships returns the summed nominal for one student in one class.
func (r *ScholarshipRepository) SumScholarships(ctx context.Context, studentID, classID string) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(nominal), 0) FROM scholarships WHERE student_id = $1 AND class_id = $2`
	var total decimal.Decimal
	if err := sqlx.GetContext(ctx, r.db, &total, query, studentID, classID); err != nil {
		return decimal.Zero, fmt.Errorf("sum scholarships: %w", err)
	}
	return total, nil
}

// ListOpenScholarshipTotals returns every (student, class) pair that still has
// UNPAID or PARTIAL tuitions together with its current scholarship total.
func (r *ScholarshipRepository) ListOpenScholarshipTotals(ctx context.Context) ([]models.ScholarshipTotal, error) {
	const query = `SELECT o.student_id, o.class_id, COALESCE(SUM(s.nominal), 0) AS total
FROM (SELECT DISTINCT student_id, class_id FROM tuitions WHERE status IN ('UNPAID', 'PARTIAL')) o
LEFT JOIN scholarships s ON s.student_id = o.student_id AND s.class_id = o.class_id
GROUP BY o.student_id, o.class_id
ORDER BY o.class_id, o.student_id`
	var totals []models.ScholarshipTotal
	if err := sqlx.SelectContext(ctx, r.db, &totals, query); err != nil {
		return nil, fmt.Errorf("list scholarship totals: %w", err)
	}
	return totals, nil
}

// ListScholarships returns a student's scholarships, newest first.
func (r *ScholarshipRepository) ListScholarships(ctx context.Context, studentID string) ([]models.Scholarship, error) {
	const query = `SELECT id, student_id, class_id, nominal, description, created_by, created_at
FROM scholarships WHERE student_id = $1 ORDER BY created_at DESC`
	var items []models.Scholarship
	if err := sqlx.SelectContext(ctx, r.db, &items, query, studentID); err != nil {
		return nil, fmt.Errorf("list scholarships: %w", err)
	}
	return items, nil
}
