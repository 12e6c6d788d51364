package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/response"
)

type paymentRequestService interface {
	Now() time.Time
	Create(ctx context.Context, studentID string, req dto.CreatePaymentRequest, clientKey string) (*models.PaymentRequestDetail, bool, error)
	Cancel(ctx context.Context, requestID, studentID string) (*models.PaymentRequestDetail, error)
	Get(ctx context.Context, requestID, studentID string) (*models.PaymentRequestDetail, error)
	GetActive(ctx context.Context, studentID string) (*models.PaymentRequestDetail, error)
	ListByStudent(ctx context.Context, studentID string, limit int) ([]models.PaymentRequest, error)
	BankAccounts(ctx context.Context) ([]models.BankAccount, error)
	VerifyTransfer(ctx context.Context, event models.TransferEvent) (*models.TransferMatch, error)
	ExpireStale(ctx context.Context) (int64, error)
	Receipt(ctx context.Context, requestID, studentID string) ([]byte, string, error)
}

// PaymentRequestHandler serves the student checkout flow and its staff views.
type PaymentRequestHandler struct {
	service paymentRequestService
}

// NewPaymentRequestHandler constructs the handler.
func NewPaymentRequestHandler(svc paymentRequestService) *PaymentRequestHandler {
	return &PaymentRequestHandler{service: svc}
}

// Create godoc
// @Summary Create payment request
// @Description Bundle unpaid tuitions into one transfer with a unique total amount
// @Tags PaymentRequests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Client supplied idempotency key"
// @Param payload body dto.CreatePaymentRequest true "Checkout payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /student/payment-requests [post]
func (h *PaymentRequestHandler) Create(c *gin.Context) {
	student := studentID(c)
	if student == "" {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment request payload"))
		return
	}

	detail, replayed, err := h.service.Create(c.Request.Context(), student, req, c.GetHeader(idempotencyKeyHeader))
	if err != nil {
		response.Error(c, err)
		return
	}
	if replayed {
		c.Header(idempotentReplayedHeader, "true")
	}

	response.Created(c, dto.NewPaymentRequestView(*detail, h.service.Now()))
}

// Active godoc
// @Summary Get active payment request
// @Description Returns the student's pending payment request; data is empty when there is none
// @Tags PaymentRequests
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /student/payment-requests/active [get]
func (h *PaymentRequestHandler) Active(c *gin.Context) {
	student := studentID(c)
	if student == "" {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	detail, err := h.service.GetActive(c.Request.Context(), student)
	if err != nil {
		response.Error(c, err)
		return
	}
	if detail == nil {
		response.JSON(c, http.StatusOK, nil, nil, map[string]interface{}{"active": false})
		return
	}
	response.JSON(c, http.StatusOK, dto.NewPaymentRequestView(*detail, h.service.Now()), nil, map[string]interface{}{"active": true})
}

// List godoc
// @Summary List payment requests
// @Description Lists the student's payment request history, newest first
// @Tags PaymentRequests
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum rows (default 20, max 100)"
// @Success 200 {object} response.Envelope
// @Router /student/payment-requests [get]
func (h *PaymentRequestHandler) List(c *gin.Context) {
	student := studentID(c)
	if student == "" {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	requests, err := h.service.ListByStudent(c.Request.Context(), student, queryLimit(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewPaymentRequestSummaries(requests, h.service.Now()), nil, map[string]interface{}{"count": len(requests)})
}

// Get godoc
// @Summary Get payment request
// @Description Returns one payment request owned by the student
// @Tags PaymentRequests
// @Produce json
// @Security BearerAuth
// @Param id path string true "Payment request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /student/payment-requests/{id} [get]
func (h *PaymentRequestHandler) Get(c *gin.Context) {
	student := studentID(c)
	if student == "" {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	detail, err := h.service.Get(c.Request.Context(), c.Param("id"), student)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewPaymentRequestView(*detail, h.service.Now()), nil)
}

// Cancel godoc
// @Summary Cancel payment request
// @Description Cancels the student's pending payment request
// @Tags PaymentRequests
// @Produce json
// @Security BearerAuth
// @Param id path string true "Payment request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /student/payment-requests/{id}/cancel [post]
func (h *PaymentRequestHandler) Cancel(c *gin.Context) {
	student := studentID(c)
	if student == "" {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	detail, err := h.service.Cancel(c.Request.Context(), c.Param("id"), student)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewPaymentRequestView(*detail, h.service.Now()), nil)
}

// Receipt godoc
// @Summary Download receipt
// @Description Renders a PDF receipt for a verified payment request
// @Tags PaymentRequests
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "Payment request ID"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /student/payment-requests/{id}/receipt [get]
func (h *PaymentRequestHandler) Receipt(c *gin.Context) {
	student := studentID(c)
	if student == "" {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	h.writeReceipt(c, student)
}

// StaffReceipt godoc
// @Summary Download receipt (staff)
// @Description Renders a PDF receipt for any verified payment request
// @Tags PaymentRequests
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "Payment request ID"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /payment-requests/{id}/receipt [get]
func (h *PaymentRequestHandler) StaffReceipt(c *gin.Context) {
	h.writeReceipt(c, "")
}

func (h *PaymentRequestHandler) writeReceipt(c *gin.Context, student string) {
	pdf, filename, err := h.service.Receipt(c.Request.Context(), c.Param("id"), student)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// BankAccounts godoc
// @Summary List bank accounts
// @Description Lists active transfer destinations
// @Tags PaymentRequests
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /student/bank-accounts [get]
func (h *PaymentRequestHandler) BankAccounts(c *gin.Context) {
	accounts, err := h.service.BankAccounts(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	views := make([]dto.BankAccountView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, dto.BankAccountView{
			ID:            account.ID,
			BankName:      account.BankName,
			AccountNumber: account.AccountNumber,
			AccountName:   account.AccountName,
		})
	}
	response.JSON(c, http.StatusOK, views, nil)
}

// StaffGet godoc
// @Summary Get payment request (staff)
// @Description Returns any payment request with its bundled tuitions
// @Tags PaymentRequests
// @Produce json
// @Security BearerAuth
// @Param id path string true "Payment request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /payment-requests/{id} [get]
func (h *PaymentRequestHandler) StaffGet(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), c.Param("id"), "")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Verify godoc
// @Summary Verify transfer manually
// @Description Reconciles an observed transfer amount synchronously
// @Tags PaymentRequests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.TransferEventRequest true "Observed transfer"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /payment-requests/verify [post]
func (h *PaymentRequestHandler) Verify(c *gin.Context) {
	var req dto.TransferEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transfer payload"))
		return
	}

	event := models.TransferEvent{
		Amount:     req.Amount,
		SenderInfo: req.SenderInfo,
		Reference:  req.Reference,
	}
	if req.ObservedAt != nil {
		event.ObservedAt = req.ObservedAt.UTC()
	}

	match, err := h.service.VerifyTransfer(c.Request.Context(), event)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, match, nil)
}

// ExpireStale godoc
// @Summary Expire stale payment requests
// @Description Runs the expiry sweep immediately
// @Tags PaymentRequests
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /payment-requests/expire [post]
func (h *PaymentRequestHandler) ExpireStale(c *gin.Context) {
	expired, err := h.service.ExpireStale(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"expired": expired}, nil)
}
