package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/response"
)

type paymentService interface {
	ProcessPayment(ctx context.Context, req dto.ProcessPaymentRequest, actorID string) (*dto.PaymentResult, error)
	ReversePayment(ctx context.Context, paymentID, actorID string) (*dto.PaymentResult, error)
	ListByTuition(ctx context.Context, tuitionID string) ([]models.Payment, error)
	GetTuition(ctx context.Context, tuitionID string) (*models.Tuition, error)
	ListTuitions(ctx context.Context, filter models.TuitionFilter) ([]models.Tuition, error)
}

// PaymentHandler exposes the tuition ledger.
type PaymentHandler struct {
	service paymentService
}

// NewPaymentHandler constructs the handler.
func NewPaymentHandler(svc paymentService) *PaymentHandler {
	return &PaymentHandler{service: svc}
}

// Process godoc
// @Summary Record manual payment
// @Description Records a cash or counter payment against one tuition
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.ProcessPaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments [post]
func (h *PaymentHandler) Process(c *gin.Context) {
	var req dto.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}

	result, err := h.service.ProcessPayment(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Reverse godoc
// @Summary Reverse payment
// @Description Deletes a payment and recomputes its tuition
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /payments/{id} [delete]
func (h *PaymentHandler) Reverse(c *gin.Context) {
	result, err := h.service.ReversePayment(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ListTuitions godoc
// @Summary List tuitions
// @Description Lists tuitions filtered by student, class, status or year
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param student_id query string false "Student ID"
// @Param class_id query string false "Class ID"
// @Param status query string false "UNPAID, PARTIAL or PAID"
// @Param year query int false "Billing year"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /tuitions [get]
func (h *PaymentHandler) ListTuitions(c *gin.Context) {
	filter, err := tuitionFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.StudentID = c.Query("student_id")
	filter.ClassID = c.Query("class_id")
	h.listTuitions(c, filter)
}

// StudentTuitions godoc
// @Summary List my tuitions
// @Description Lists the authenticated student's tuitions
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param status query string false "UNPAID, PARTIAL or PAID"
// @Param year query int false "Billing year"
// @Success 200 {object} response.Envelope
// @Router /student/tuitions [get]
func (h *PaymentHandler) StudentTuitions(c *gin.Context) {
	student := studentID(c)
	if student == "" {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	filter, err := tuitionFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.StudentID = student
	h.listTuitions(c, filter)
}

func (h *PaymentHandler) listTuitions(c *gin.Context, filter models.TuitionFilter) {
	tuitions, err := h.service.ListTuitions(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tuitions, nil, map[string]interface{}{"count": len(tuitions)})
}

// GetTuition godoc
// @Summary Get tuition
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Tuition ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /tuitions/{id} [get]
func (h *PaymentHandler) GetTuition(c *gin.Context) {
	tuition, err := h.service.GetTuition(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tuition, nil)
}

// ListPayments godoc
// @Summary List tuition payments
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Tuition ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /tuitions/{id}/payments [get]
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	payments, err := h.service.ListByTuition(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, nil)
}

func tuitionFilterFromQuery(c *gin.Context) (models.TuitionFilter, error) {
	var filter models.TuitionFilter
	if raw := strings.ToUpper(strings.TrimSpace(c.Query("status"))); raw != "" {
		status := models.TuitionStatus(raw)
		switch status {
		case models.TuitionStatusUnpaid, models.TuitionStatusPartial, models.TuitionStatusPaid:
			filter.Status = status
		default:
			return filter, appErrors.Clone(appErrors.ErrValidation, "status must be UNPAID, PARTIAL or PAID")
		}
	}
	if raw := c.Query("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil || year <= 0 {
			return filter, appErrors.Clone(appErrors.ErrValidation, "year must be a positive integer")
		}
		filter.Year = year
	}
	return filter, nil
}
