package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// ClassRepository reads class offerings, enrollments and students.
type ClassRepository struct {
	db sqlx.ExtContext
}

// NewClassRepository constructs the repository over a database or transaction handle.
func NewClassRepository(db sqlx.ExtContext) *ClassRepository {
	return &ClassRepository{db: db}
}

// GetClass fetches a class offering by id.
func (r *ClassRepository) GetClass(ctx context.Context, id string) (*models.Class, error) {
	const query = `SELECT id, name, grade, academic_year_id, monthly_fee, created_at, updated_at FROM classes WHERE id = $1`
	var class models.Class
	if err := sqlx.GetContext(ctx, r.db, &class, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get class: %w", err)
	}
	return &class, nil
}

// AcademicYearExists reports whether the academic year is known.
func (r *ClassRepository) AcademicYearExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, r.db, &exists, `SELECT EXISTS (SELECT 1 FROM academic_years WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("check academic year: %w", err)
	}
	return exists, nil
}

// IsEnrolled reports whether a student is enrolled in a class.
func (r *ClassRepository) IsEnrolled(ctx context.Context, studentID, classID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM enrollments WHERE student_id = $1 AND class_id = $2)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.db, &exists, query, studentID, classID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return exists, nil
}

// GetStudent fetches a student by id.
func (r *ClassRepository) GetStudent(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, nis, full_name, active FROM students WHERE id = $1`
	var student models.Student
	if err := sqlx.GetContext(ctx, r.db, &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return &student, nil
}
