package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Scholarship is a nominal monthly reduction granted to a student for one class offering.
type Scholarship struct {
	ID          string          `db:"id" json:"id"`
	StudentID   string          `db:"student_id" json:"student_id"`
	ClassID     string          `db:"class_id" json:"class_id"`
	Nominal     decimal.Decimal `db:"nominal" json:"nominal"`
	Description string          `db:"description" json:"description"`
	CreatedBy   *string         `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// IsFull reports whether the scholarship covers the whole monthly fee.
func (s Scholarship) IsFull(monthlyFee decimal.Decimal) bool {
	return s.Nominal.GreaterThanOrEqual(monthlyFee)
}

// ScholarshipTotal is the summed scholarship nominal of one student in one class.
type ScholarshipTotal struct {
	StudentID string          `db:"student_id"`
	ClassID   string          `db:"class_id"`
	Total     decimal.Decimal `db:"total"`
}
