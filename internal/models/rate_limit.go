package models

import "time"

// RecordStatus marks whether a guard record is still in force.
type RecordStatus string

// Guard record statuses shared by rate limit and idempotency rows.
const (
	RecordStatusActive   RecordStatus = "ACTIVE"
	RecordStatusInactive RecordStatus = "INACTIVE"
)

// RateLimitAction names an entry of the rate limit registry.
type RateLimitAction string

// Registered rate limit actions.
const (
	RateLimitLogin          RateLimitAction = "login"
	RateLimitPaymentRequest RateLimitAction = "paymentRequest"
	RateLimitCancelPayment  RateLimitAction = "cancelPayment"
	RateLimitChangePassword RateLimitAction = "changePassword"
	RateLimitTransferIntake RateLimitAction = "transferIntake"
)

// RateLimitRule is the budget of one action.
type RateLimitRule struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// RateLimitRecord is the persisted window counter for (identifier, action).
type RateLimitRecord struct {
	Identifier  string       `db:"identifier" json:"identifier"`
	Action      string       `db:"action" json:"action"`
	Count       int          `db:"count" json:"count"`
	WindowStart time.Time    `db:"window_start" json:"window_start"`
	ExpiresAt   time.Time    `db:"expires_at" json:"expires_at"`
	Status      RecordStatus `db:"status" json:"status"`
}

// RateLimitResult is returned by every rate limit check.
type RateLimitResult struct {
	Success   bool      `json:"success"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
	Limit     int       `json:"limit"`
}
