package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Class represents a class offering within an academic year.
type Class struct {
	ID             string          `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	Grade          string          `db:"grade" json:"grade"`
	AcademicYearID string          `db:"academic_year_id" json:"academic_year_id"`
	MonthlyFee     decimal.Decimal `db:"monthly_fee" json:"monthly_fee"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}
