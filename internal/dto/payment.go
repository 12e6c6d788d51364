package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// ProcessPaymentRequest records a manual payment against one tuition.
type ProcessPaymentRequest struct {
	TuitionID   string          `json:"tuition_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Notes       *string         `json:"notes" validate:"omitempty,max=500"`
	PaymentDate *time.Time      `json:"payment_date"`
}

// PaymentResult reports a ledger mutation together with the resulting tuition state.
type PaymentResult struct {
	Payment *models.Payment `json:"payment,omitempty"`
	Tuition *models.Tuition `json:"tuition"`
}
