package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TuitionStatus is the ledger state of a tuition obligation.
type TuitionStatus string

// Tuition statuses.
const (
	TuitionStatusUnpaid  TuitionStatus = "UNPAID"
	TuitionStatusPartial TuitionStatus = "PARTIAL"
	TuitionStatusPaid    TuitionStatus = "PAID"
)

// Tuition is one student's fee obligation for one month of one class offering.
type Tuition struct {
	ID                string          `db:"id" json:"id"`
	StudentID         string          `db:"student_id" json:"student_id"`
	ClassID           string          `db:"class_id" json:"class_id"`
	Month             int             `db:"month" json:"month"`
	Year              int             `db:"year" json:"year"`
	FeeAmount         decimal.Decimal `db:"fee_amount" json:"fee_amount"`
	ScholarshipAmount decimal.Decimal `db:"scholarship_amount" json:"scholarship_amount"`
	DiscountAmount    decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	PaidAmount        decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	Status            TuitionStatus   `db:"status" json:"status"`
	DueDate           time.Time       `db:"due_date" json:"due_date"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// EffectiveFee nets reductions off the nominal fee, floored at zero.
func EffectiveFee(fee, scholarship, discount decimal.Decimal) decimal.Decimal {
	eff := fee.Sub(scholarship).Sub(discount)
	if eff.IsNegative() {
		return decimal.Zero
	}
	return eff
}

// DeriveTuitionStatus is the only place a tuition status is computed.
// Every ledger mutation stores the value returned here.
func DeriveTuitionStatus(fee, scholarship, discount, paid decimal.Decimal) TuitionStatus {
	switch {
	case paid.GreaterThanOrEqual(EffectiveFee(fee, scholarship, discount)):
		return TuitionStatusPaid
	case paid.IsPositive():
		return TuitionStatusPartial
	default:
		return TuitionStatusUnpaid
	}
}

// EffectiveFee returns the fee the student actually owes.
func (t Tuition) EffectiveFee() decimal.Decimal {
	return EffectiveFee(t.FeeAmount, t.ScholarshipAmount, t.DiscountAmount)
}

// Outstanding returns what is still owed, never negative.
func (t Tuition) Outstanding() decimal.Decimal {
	left := t.EffectiveFee().Sub(t.PaidAmount)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// Recompute refreshes Status from the current amounts.
func (t *Tuition) Recompute() {
	t.Status = DeriveTuitionStatus(t.FeeAmount, t.ScholarshipAmount, t.DiscountAmount, t.PaidAmount)
}

// Period formats the billing month as YYYY-MM.
func (t Tuition) Period() string {
	return FormatPeriod(t.Month, t.Year)
}

// FormatPeriod formats a billing month as YYYY-MM.
func FormatPeriod(month, year int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// TuitionFilter narrows tuition listings.
type TuitionFilter struct {
	StudentID string
	ClassID   string
	Status    TuitionStatus
	Year      int
}
