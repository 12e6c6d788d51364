package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/response"
)

type rateLimitService interface {
	Rules() []dto.RateLimitRuleView
	Reset(ctx context.Context, action models.RateLimitAction, identifier string) (*dto.RateLimitStatusView, error)
}

// RateLimitHandler lets administrators inspect and clear rate limit windows.
type RateLimitHandler struct {
	service rateLimitService
}

// NewRateLimitHandler constructs the handler.
func NewRateLimitHandler(svc rateLimitService) *RateLimitHandler {
	return &RateLimitHandler{service: svc}
}

// Rules godoc
// @Summary List rate limit rules
// @Tags RateLimits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /rate-limits [get]
func (h *RateLimitHandler) Rules(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.Rules(), nil)
}

// Reset godoc
// @Summary Reset rate limit window
// @Description Clears the counter of one identifier for one action
// @Tags RateLimits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.RateLimitResetRequest true "Window to reset"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /rate-limits/reset [post]
func (h *RateLimitHandler) Reset(c *gin.Context) {
	var req dto.RateLimitResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rate limit payload"))
		return
	}

	status, err := h.service.Reset(c.Request.Context(), models.RateLimitAction(req.Action), req.Identifier)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}
