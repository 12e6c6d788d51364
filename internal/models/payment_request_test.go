package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPaymentRequestEffectiveStatus(t *testing.T) {
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	req := PaymentRequest{Status: PaymentRequestStatusPending, ExpiresAt: now.Add(10 * time.Minute)}

	assert.Equal(t, PaymentRequestStatusPending, req.EffectiveStatus(now.Add(7*time.Minute)))
	assert.True(t, req.IsActive(now.Add(9*time.Minute)))
	assert.Equal(t, PaymentRequestStatusExpired, req.EffectiveStatus(now.Add(10*time.Minute)))
	assert.False(t, req.IsActive(now.Add(11*time.Minute)))

	req.Status = PaymentRequestStatusVerified
	assert.Equal(t, PaymentRequestStatusVerified, req.EffectiveStatus(now.Add(time.Hour)))
}

func TestPeriodsScan(t *testing.T) {
	var p Periods
	assert.NoError(t, p.Scan([]byte(`[{"month":7,"year":2025},{"month":8,"year":2025}]`)))
	assert.True(t, p.Contains(8, 2025))
	assert.False(t, p.Contains(9, 2025))

	v, err := p.Value()
	assert.NoError(t, err)
	assert.JSONEq(t, `[{"month":7,"year":2025},{"month":8,"year":2025}]`, string(v.([]byte)))
}
