package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequestStatus tracks a bundled bank transfer request.
type PaymentRequestStatus string

// Payment request statuses. Everything except PENDING is terminal.
const (
	PaymentRequestStatusPending   PaymentRequestStatus = "PENDING"
	PaymentRequestStatusVerified  PaymentRequestStatus = "VERIFIED"
	PaymentRequestStatusExpired   PaymentRequestStatus = "EXPIRED"
	PaymentRequestStatusCancelled PaymentRequestStatus = "CANCELLED"
)

// PaymentRequest bundles tuitions a student intends to settle with one transfer.
// ExpiresAt is the backend deadline; DisplayExpiresAt is the earlier deadline shown to students.
type PaymentRequest struct {
	ID               string               `db:"id" json:"id"`
	StudentID        string               `db:"student_id" json:"student_id"`
	BankAccountID    string               `db:"bank_account_id" json:"bank_account_id"`
	Status           PaymentRequestStatus `db:"status" json:"status"`
	BaseAmount       decimal.Decimal      `db:"base_amount" json:"base_amount"`
	UniqueCode       int                  `db:"unique_code" json:"unique_code"`
	TotalAmount      decimal.Decimal      `db:"total_amount" json:"total_amount"`
	ExpiresAt        time.Time            `db:"expires_at" json:"expires_at"`
	DisplayExpiresAt time.Time            `db:"display_expires_at" json:"display_expires_at"`
	VerifiedAt       *time.Time           `db:"verified_at" json:"verified_at,omitempty"`
	CancelledAt      *time.Time           `db:"cancelled_at" json:"cancelled_at,omitempty"`
	TransferRef      *string              `db:"transfer_reference" json:"transfer_reference,omitempty"`
	CreatedAt        time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time            `db:"updated_at" json:"updated_at"`
}

// EffectiveStatus reports the status as of now, treating a PENDING request past
// its backend deadline as EXPIRED even if the row was never flipped.
func (r PaymentRequest) EffectiveStatus(now time.Time) PaymentRequestStatus {
	if r.Status == PaymentRequestStatusPending && !now.Before(r.ExpiresAt) {
		return PaymentRequestStatusExpired
	}
	return r.Status
}

// IsActive reports whether the request can still be settled at now.
func (r PaymentRequest) IsActive(now time.Time) bool {
	return r.EffectiveStatus(now) == PaymentRequestStatusPending
}

// PaymentRequestItem is one tuition bundled into a request. Amount is the
// outstanding amount captured at creation and is what settlement applies.
type PaymentRequestItem struct {
	ID               string          `db:"id" json:"id"`
	PaymentRequestID string          `db:"payment_request_id" json:"payment_request_id"`
	TuitionID        string          `db:"tuition_id" json:"tuition_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Month            int             `db:"month" json:"month"`
	Year             int             `db:"year" json:"year"`
	DueDate          time.Time       `db:"due_date" json:"due_date"`
}

// PaymentRequestDetail is a request with its items and destination account.
type PaymentRequestDetail struct {
	PaymentRequest
	Items       []PaymentRequestItem `json:"items"`
	BankAccount *BankAccount         `json:"bank_account,omitempty"`
}

// TransferEvent is an inbound transfer observed by the bank detection collaborator.
type TransferEvent struct {
	Amount     decimal.Decimal `json:"amount"`
	ObservedAt time.Time       `json:"observed_at"`
	SenderInfo string          `json:"sender_info,omitempty"`
	Reference  string          `json:"reference,omitempty"`
}

// TransferMatch is the outcome of reconciling a transfer event.
type TransferMatch struct {
	Matched           bool            `json:"matched"`
	PaymentRequestID  string          `json:"payment_request_id,omitempty"`
	Payments          []Payment       `json:"payments,omitempty"`
	SkippedTuitionIDs []string        `json:"skipped_tuition_ids,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	// Surplus is the part of the bundled amount no tuition could absorb; staff refund it.
	Surplus           decimal.Decimal `json:"surplus"`
}

// UniqueAmount is a base amount plus the random surcharge that identifies one pending request.
type UniqueAmount struct {
	BaseAmount  decimal.Decimal `json:"base_amount"`
	UniqueCode  int             `json:"unique_code"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}
