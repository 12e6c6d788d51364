package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

const tuitionColumns = `id, student_id, class_id, month, year, fee_amount, scholarship_amount, discount_amount,
paid_amount, status, due_date, created_at, updated_at`

// TuitionRepository reads and updates tuition ledger rows.
type TuitionRepository struct {
	db sqlx.ExtContext
}

// NewTuitionRepository constructs the repository over a database or transaction handle.
func NewTuitionRepository(db sqlx.ExtContext) *TuitionRepository {
	return &TuitionRepository{db: db}
}

// GetTuition fetches a tuition by id.
func (r *TuitionRepository) GetTuition(ctx context.Context, id string) (*models.Tuition, error) {
	query := `SELECT ` + tuitionColumns + ` FROM tuitions WHERE id = $1`
	var tuition models.Tuition
	if err := sqlx.GetContext(ctx, r.db, &tuition, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get tuition: %w", err)
	}
	return &tuition, nil
}

// GetTuitionForUpdate fetches a tuition and locks it until the transaction ends.
func (r *TuitionRepository) GetTuitionForUpdate(ctx context.Context, id string) (*models.Tuition, error) {
	query := `SELECT ` + tuitionColumns + ` FROM tuitions WHERE id = $1 FOR UPDATE`
	var tuition models.Tuition
	if err := sqlx.GetContext(ctx, r.db, &tuition, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock tuition: %w", err)
	}
	return &tuition, nil
}

// ListTuitionsForUpdate locks the given tuitions in id order so concurrent
// checkouts always acquire row locks in the same sequence.
func (r *TuitionRepository) ListTuitionsForUpdate(ctx context.Context, ids []string) ([]models.Tuition, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + tuitionColumns + ` FROM tuitions WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	var tuitions []models.Tuition
	if err := sqlx.SelectContext(ctx, r.db, &tuitions, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("lock tuitions: %w", err)
	}
	return tuitions, nil
}

// ListUnpaidTuitionsForUpdate locks every UNPAID tuition of a student in one class.
func (r *TuitionRepository) ListUnpaidTuitionsForUpdate(ctx context.Context, studentID, classID string) ([]models.Tuition, error) {
	query := `SELECT ` + tuitionColumns + ` FROM tuitions
WHERE student_id = $1 AND class_id = $2 AND status = 'UNPAID'
ORDER BY due_date ASC, year ASC, month ASC, id ASC FOR UPDATE`
	var tuitions []models.Tuition
	if err := sqlx.SelectContext(ctx, r.db, &tuitions, query, studentID, classID); err != nil {
		return nil, fmt.Errorf("lock unpaid tuitions: %w", err)
	}
	return tuitions, nil
}

// ListOpenTuitionsForUpdate locks the UNPAID and PARTIAL tuitions of one student in one class.
func (r *TuitionRepository) ListOpenTuitionsForUpdate(ctx context.Context, studentID, classID string) ([]models.Tuition, error) {
	query := `SELECT ` + tuitionColumns + ` FROM tuitions
WHERE student_id = $1 AND class_id = $2 AND status IN ('UNPAID', 'PARTIAL')
ORDER BY due_date ASC, id ASC FOR UPDATE`
	var tuitions []models.Tuition
	if err := sqlx.SelectContext(ctx, r.db, &tuitions, query, studentID, classID); err != nil {
		return nil, fmt.Errorf("lock open tuitions: %w", err)
	}
	return tuitions, nil
}

// ListDiscountCandidatesForUpdate locks non-PAID tuitions in the scope of a discount
// (an academic year, optionally narrowed to one class) for the given periods.
func (r *TuitionRepository) ListDiscountCandidatesForUpdate(ctx context.Context, academicYearID string, classID *string, periods models.Periods) ([]models.Tuition, error) {
	if len(periods) == 0 {
		return nil, nil
	}

	args := []interface{}{academicYearID}
	conditions := []string{"c.academic_year_id = $1", "t.status <> 'PAID'"}
	if classID != nil {
		args = append(args, *classID)
		conditions = append(conditions, fmt.Sprintf("t.class_id = $%d", len(args)))
	}

	periodClauses := make([]string, 0, len(periods))
	for _, p := range periods {
		args = append(args, p.Month, p.Year)
		periodClauses = append(periodClauses, fmt.Sprintf("(t.month = $%d AND t.year = $%d)", len(args)-1, len(args)))
	}
	conditions = append(conditions, "("+strings.Join(periodClauses, " OR ")+")")

	query := fmt.Sprintf(`SELECT t.id, t.student_id, t.class_id, t.month, t.year, t.fee_amount, t.scholarship_amount,
t.discount_amount, t.paid_amount, t.status, t.due_date, t.created_at, t.updated_at
FROM tuitions t JOIN classes c ON c.id = t.class_id
WHERE %s ORDER BY t.class_id, t.student_id, t.year, t.month FOR UPDATE OF t`, strings.Join(conditions, " AND "))

	var tuitions []models.Tuition
	if err := sqlx.SelectContext(ctx, r.db, &tuitions, query, args...); err != nil {
		return nil, fmt.Errorf("list discount candidates: %w", err)
	}
	return tuitions, nil
}

// ListTuitions returns tuitions matching the filter ordered by due date.
func (r *TuitionRepository) ListTuitions(ctx context.Context, filter models.TuitionFilter) ([]models.Tuition, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Year > 0 {
		args = append(args, filter.Year)
		conditions = append(conditions, fmt.Sprintf("year = $%d", len(args)))
	}

	query := `SELECT ` + tuitionColumns + ` FROM tuitions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY due_date ASC, id ASC"

	var tuitions []models.Tuition
	if err := sqlx.SelectContext(ctx, r.db, &tuitions, query, args...); err != nil {
		return nil, fmt.Errorf("list tuitions: %w", err)
	}
	return tuitions, nil
}

// UpdateTuitionLedger persists the amounts and status of a tuition.
func (r *TuitionRepository) UpdateTuitionLedger(ctx context.Context, tuition *models.Tuition) error {
	const query = `UPDATE tuitions SET scholarship_amount = :scholarship_amount, discount_amount = :discount_amount,
paid_amount = :paid_amount, status = :status, updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.db, query, tuition)
	if err != nil {
		return fmt.Errorf("update tuition ledger: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tuition ledger rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
