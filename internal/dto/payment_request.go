package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// CreatePaymentRequest is the student checkout payload.
type CreatePaymentRequest struct {
	TuitionIDs    []string `json:"tuition_ids" validate:"required,min=1,max=12,unique,dive,required"`
	BankAccountID string   `json:"bank_account_id" validate:"required"`
}

// PaymentRequestItemView is one bundled tuition as shown to the student.
type PaymentRequestItemView struct {
	TuitionID string          `json:"tuition_id"`
	Period    string          `json:"period"`
	Amount    decimal.Decimal `json:"amount"`
	DueDate   time.Time       `json:"due_date"`
}

// BankAccountView is the transfer destination shown to students.
type BankAccountView struct {
	ID            string `json:"id"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// PaymentRequestView is the student-facing representation of a payment request.
// It carries only the display deadline; the later backend deadline stays internal.
type PaymentRequestView struct {
	ID               string                      `json:"id"`
	Status           models.PaymentRequestStatus `json:"status"`
	BaseAmount       decimal.Decimal             `json:"base_amount"`
	UniqueCode       int                         `json:"unique_code"`
	TotalAmount      decimal.Decimal             `json:"total_amount"`
	DisplayExpiresAt time.Time                   `json:"expires_at"`
	RemainingSeconds int64                       `json:"remaining_seconds"`
	VerifiedAt       *time.Time                  `json:"verified_at,omitempty"`
	CreatedAt        time.Time                   `json:"created_at"`
	BankAccount      *BankAccountView            `json:"bank_account,omitempty"`
	Items            []PaymentRequestItemView    `json:"items"`
}

// NewPaymentRequestView maps a request detail to the student view as of now.
// A PENDING request whose display window closed is shown as EXPIRED.
func NewPaymentRequestView(detail models.PaymentRequestDetail, now time.Time) PaymentRequestView {
	status, remaining := studentStatus(detail.PaymentRequest, now)

	view := PaymentRequestView{
		ID:               detail.ID,
		Status:           status,
		BaseAmount:       detail.BaseAmount,
		UniqueCode:       detail.UniqueCode,
		TotalAmount:      detail.TotalAmount,
		DisplayExpiresAt: detail.DisplayExpiresAt,
		RemainingSeconds: remaining,
		VerifiedAt:       detail.VerifiedAt,
		CreatedAt:        detail.CreatedAt,
		Items:            make([]PaymentRequestItemView, 0, len(detail.Items)),
	}
	if detail.BankAccount != nil {
		view.BankAccount = &BankAccountView{
			ID:            detail.BankAccount.ID,
			BankName:      detail.BankAccount.BankName,
			AccountNumber: detail.BankAccount.AccountNumber,
			AccountName:   detail.BankAccount.AccountName,
		}
	}
	for _, item := range detail.Items {
		view.Items = append(view.Items, PaymentRequestItemView{
			TuitionID: item.TuitionID,
			Period:    models.FormatPeriod(item.Month, item.Year),
			Amount:    item.Amount,
			DueDate:   item.DueDate,
		})
	}
	return view
}

// PaymentRequestSummaryView is one row of the student's payment request history.
type PaymentRequestSummaryView struct {
	ID               string                      `json:"id"`
	Status           models.PaymentRequestStatus `json:"status"`
	TotalAmount      decimal.Decimal             `json:"total_amount"`
	DisplayExpiresAt time.Time                   `json:"expires_at"`
	RemainingSeconds int64                       `json:"remaining_seconds"`
	VerifiedAt       *time.Time                  `json:"verified_at,omitempty"`
	CancelledAt      *time.Time                  `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time                   `json:"created_at"`
}

// NewPaymentRequestSummaries maps request history rows to the student view as of now.
func NewPaymentRequestSummaries(requests []models.PaymentRequest, now time.Time) []PaymentRequestSummaryView {
	views := make([]PaymentRequestSummaryView, 0, len(requests))
	for _, req := range requests {
		status, remaining := studentStatus(req, now)
		views = append(views, PaymentRequestSummaryView{
			ID:               req.ID,
			Status:           status,
			TotalAmount:      req.TotalAmount,
			DisplayExpiresAt: req.DisplayExpiresAt,
			RemainingSeconds: remaining,
			VerifiedAt:       req.VerifiedAt,
			CancelledAt:      req.CancelledAt,
			CreatedAt:        req.CreatedAt,
		})
	}
	return views
}

func studentStatus(req models.PaymentRequest, now time.Time) (models.PaymentRequestStatus, int64) {
	status := req.EffectiveStatus(now)
	if status != models.PaymentRequestStatusPending {
		return status, 0
	}
	left := req.DisplayExpiresAt.Sub(now)
	if left <= 0 {
		return models.PaymentRequestStatusExpired, 0
	}
	return status, int64(left.Seconds())
}

// TransferEventRequest is posted by the bank transfer detection collaborator.
type TransferEventRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	ObservedAt *time.Time      `json:"observed_at"`
	SenderInfo string          `json:"sender_info" validate:"max=255"`
	Reference  string          `json:"reference" validate:"max=128"`
}

// TransferAccepted acknowledges an enqueued transfer event.
type TransferAccepted struct {
	JobID string `json:"job_id"`
}
