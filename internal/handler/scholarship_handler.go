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

type scholarshipService interface {
	Create(ctx context.Context, req dto.CreateScholarshipRequest, actorID string) (*dto.ScholarshipResult, error)
	SyncScholarships(ctx context.Context) (*dto.ScholarshipSyncResult, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Scholarship, error)
}

// ScholarshipHandler manages scholarship grants.
type ScholarshipHandler struct {
	service scholarshipService
}

// NewScholarshipHandler constructs the handler.
func NewScholarshipHandler(svc scholarshipService) *ScholarshipHandler {
	return &ScholarshipHandler{service: svc}
}

// Create godoc
// @Summary Grant scholarship
// @Description Grants a scholarship and settles tuitions it fully covers
// @Tags Scholarships
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateScholarshipRequest true "Scholarship payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /scholarships [post]
func (h *ScholarshipHandler) Create(c *gin.Context) {
	var req dto.CreateScholarshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid scholarship payload"))
		return
	}

	result, err := h.service.Create(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Sync godoc
// @Summary Sync scholarships
// @Description Re-applies scholarship totals to every open tuition
// @Tags Scholarships
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /scholarships/sync [post]
func (h *ScholarshipHandler) Sync(c *gin.Context) {
	result, err := h.service.SyncScholarships(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ListByStudent godoc
// @Summary List student scholarships
// @Tags Scholarships
// @Produce json
// @Security BearerAuth
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/scholarships [get]
func (h *ScholarshipHandler) ListByStudent(c *gin.Context) {
	scholarships, err := h.service.ListByStudent(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, scholarships, nil)
}
