package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
	"github.com/noah-isme/sma-tuition-api/internal/repository"
)

// txRunner runs fn inside one database transaction.
type txRunner interface {
	WithinTx(ctx context.Context, fn func(repository.Tx) error) error
}

// LedgerEntry describes one payment to apply to a locked tuition.
type LedgerEntry struct {
	Amount           decimal.Decimal
	Source           models.PaymentSource
	EmployeeID       *string
	PaymentRequestID *string
	PaymentDate      time.Time
	Notes            *string
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func newAuditLog(userID *string, action, resource, resourceID string, values interface{}) *models.AuditLog {
	entry := &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: stringPtr(resourceID),
	}
	if values != nil {
		if body, err := json.Marshal(values); err == nil {
			entry.NewValues = body
		}
	}
	return entry
}
