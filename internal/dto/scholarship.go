package dto

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// CreateScholarshipRequest grants a scholarship to a student in one class.
type CreateScholarshipRequest struct {
	StudentID   string          `json:"student_id" validate:"required"`
	ClassID     string          `json:"class_id" validate:"required"`
	Nominal     decimal.Decimal `json:"nominal"`
	Description string          `json:"description" validate:"max=255"`
}

// ScholarshipResult reports a created scholarship and any auto-settlement it caused.
type ScholarshipResult struct {
	Scholarship  models.Scholarship `json:"scholarship"`
	FullCoverage bool               `json:"full_coverage"`
	Settled      int                `json:"settled"`
	Payments     []models.Payment   `json:"payments"`
}

// ScholarshipSyncResult summarises one scholarship sync sweep.
type ScholarshipSyncResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Settled int `json:"settled"`
}
