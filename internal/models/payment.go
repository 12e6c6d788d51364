package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentSource identifies what produced a ledger entry.
type PaymentSource string

// Payment sources.
const (
	PaymentSourceManual      PaymentSource = "MANUAL"
	PaymentSourceTransfer    PaymentSource = "TRANSFER"
	PaymentSourceScholarship PaymentSource = "SCHOLARSHIP"
)

// Payment is an immutable ledger entry against exactly one tuition.
// EmployeeID is nil when the system settled the tuition.
type Payment struct {
	ID               string          `db:"id" json:"id"`
	TuitionID        string          `db:"tuition_id" json:"tuition_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	EmployeeID       *string         `db:"employee_id" json:"employee_id,omitempty"`
	PaymentRequestID *string         `db:"payment_request_id" json:"payment_request_id,omitempty"`
	Source           PaymentSource   `db:"source" json:"source"`
	PaymentDate      time.Time       `db:"payment_date" json:"payment_date"`
	Notes            *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// ScholarshipSettlementNote is attached to payments created by full scholarship auto-settlement.
const ScholarshipSettlementNote = "auto-settled by scholarship"
