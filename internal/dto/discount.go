package dto

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// CreateDiscountRequest defines a discount over a scope and a set of months.
type CreateDiscountRequest struct {
	Name           string          `json:"name" validate:"required,max=120"`
	AcademicYearID string          `json:"academic_year_id" validate:"required"`
	ClassID        *string         `json:"class_id" validate:"omitempty,min=1"`
	Amount         decimal.Decimal `json:"amount"`
	TargetPeriods  []models.Period `json:"target_periods" validate:"required,min=1,dive"`
}

// DiscountApplication is returned by both preview and commit of a discount.
type DiscountApplication struct {
	DiscountID     string                  `json:"discount_id"`
	Preview        bool                    `json:"preview"`
	AffectedCount  int                     `json:"affected_count"`
	TotalReduction decimal.Decimal         `json:"total_reduction"`
	NewlyPaid      int                     `json:"newly_paid"`
	Targets        []models.DiscountTarget `json:"targets"`
}
