package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Period is a billing month.
type Period struct {
	Month int `json:"month" validate:"min=1,max=12"`
	Year  int `json:"year" validate:"min=2000,max=2100"`
}

// Periods is stored as a JSONB array.
type Periods []Period

// Value implements driver.Valuer.
func (p Periods) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *Periods) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("periods: unsupported scan type")
	}
}

// Contains reports whether month/year is one of the periods.
func (p Periods) Contains(month, year int) bool {
	for _, period := range p {
		if period.Month == month && period.Year == year {
			return true
		}
	}
	return false
}

// Discount reduces every tuition in its scope for the target periods.
// A nil ClassID scopes the discount to the whole academic year.
type Discount struct {
	ID             string          `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	AcademicYearID string          `db:"academic_year_id" json:"academic_year_id"`
	ClassID        *string         `db:"class_id" json:"class_id,omitempty"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	TargetPeriods  Periods         `db:"target_periods" json:"target_periods"`
	AppliedAt      *time.Time      `db:"applied_at" json:"applied_at,omitempty"`
	CreatedBy      *string         `db:"created_by" json:"created_by,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// DiscountTarget is a tuition matched by a discount together with its projected state.
type DiscountTarget struct {
	TuitionID      string          `json:"tuition_id"`
	StudentID      string          `json:"student_id"`
	ClassID        string          `json:"class_id"`
	Period         string          `json:"period"`
	CurrentStatus  TuitionStatus   `json:"current_status"`
	DiscountBefore decimal.Decimal `json:"discount_before"`
	DiscountAfter  decimal.Decimal `json:"discount_after"`
	StatusAfter    TuitionStatus   `json:"status_after"`
}
