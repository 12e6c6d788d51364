package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/response"
)

type discountService interface {
	Create(ctx context.Context, req dto.CreateDiscountRequest, actorID string) (*models.Discount, error)
	Get(ctx context.Context, id string) (*models.Discount, error)
	Apply(ctx context.Context, discountID string, preview bool, actorID string) (*dto.DiscountApplication, error)
}

// DiscountHandler manages bulk fee discounts.
type DiscountHandler struct {
	service discountService
}

// NewDiscountHandler constructs the handler.
func NewDiscountHandler(svc discountService) *DiscountHandler {
	return &DiscountHandler{service: svc}
}

// Create godoc
// @Summary Create discount
// @Tags Discounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateDiscountRequest true "Discount payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /discounts [post]
func (h *DiscountHandler) Create(c *gin.Context) {
	var req dto.CreateDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid discount payload"))
		return
	}

	discount, err := h.service.Create(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, discount)
}

// Get godoc
// @Summary Get discount
// @Tags Discounts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Discount ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /discounts/{id} [get]
func (h *DiscountHandler) Get(c *gin.Context) {
	discount, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, discount, nil)
}

// Apply godoc
// @Summary Apply discount
// @Description Applies a discount to its target tuitions, or previews the effect without writing
// @Tags Discounts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Discount ID"
// @Param preview query bool false "Compute without applying"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /discounts/{id}/apply [post]
func (h *DiscountHandler) Apply(c *gin.Context) {
	preview := false
	if raw := c.Query("preview"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "preview must be a boolean"))
			return
		}
		preview = parsed
	}

	result, err := h.service.Apply(c.Request.Context(), c.Param("id"), preview, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
