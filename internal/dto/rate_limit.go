package dto

import "time"

// RateLimitRuleView lists one registry entry.
type RateLimitRuleView struct {
	Action        string `json:"action"`
	Limit         int    `json:"limit"`
	WindowSeconds int64  `json:"window_seconds"`
}

// RateLimitStatusView reports a reset outcome for administrators.
type RateLimitStatusView struct {
	Action     string    `json:"action"`
	Identifier string    `json:"identifier"`
	ResetAt    time.Time `json:"reset_at"`
}

// RateLimitResetRequest clears one (action, identifier) window.
type RateLimitResetRequest struct {
	Action     string `json:"action" binding:"required"`
	Identifier string `json:"identifier" binding:"required"`
}
