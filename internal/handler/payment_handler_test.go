package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/middleware"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
)

type paymentServiceMock struct {
	lastReq    dto.ProcessPaymentRequest
	lastActor  string
	lastFilter models.TuitionFilter
	err        error
	listCalled bool
	reversedID string
}

func (m *paymentServiceMock) ProcessPayment(ctx context.Context, req dto.ProcessPaymentRequest, actorID string) (*dto.PaymentResult, error) {
	m.lastReq = req
	m.lastActor = actorID
	if m.err != nil {
		return nil, m.err
	}
	return &dto.PaymentResult{
		Payment: &models.Payment{ID: "pay-1", TuitionID: req.TuitionID, Amount: req.Amount},
		Tuition: &models.Tuition{ID: req.TuitionID, Status: models.TuitionStatusPartial},
	}, nil
}

func (m *paymentServiceMock) ReversePayment(ctx context.Context, paymentID, actorID string) (*dto.PaymentResult, error) {
	m.reversedID = paymentID
	m.lastActor = actorID
	if m.err != nil {
		return nil, m.err
	}
	return &dto.PaymentResult{Tuition: &models.Tuition{ID: "tu-1", Status: models.TuitionStatusUnpaid}}, nil
}

func (m *paymentServiceMock) ListByTuition(ctx context.Context, tuitionID string) ([]models.Payment, error) {
	return []models.Payment{{ID: "pay-1", TuitionID: tuitionID}}, m.err
}

func (m *paymentServiceMock) GetTuition(ctx context.Context, tuitionID string) (*models.Tuition, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Tuition{ID: tuitionID}, nil
}

func (m *paymentServiceMock) ListTuitions(ctx context.Context, filter models.TuitionFilter) ([]models.Tuition, error) {
	m.listCalled = true
	m.lastFilter = filter
	return []models.Tuition{{ID: "tu-1"}}, m.err
}

func TestPaymentHandlerProcess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &paymentServiceMock{}
	handler := NewPaymentHandler(mockSvc)

	c, w := studentContext(http.MethodPost, "/payments", []byte(`{"tuition_id":"tu-1","amount":300000}`))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "treasurer-1", Role: models.RoleTreasurer})
	handler.Process(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "tu-1", mockSvc.lastReq.TuitionID)
	assert.True(t, mockSvc.lastReq.Amount.Equal(decimal.NewFromInt(300000)))
	assert.Equal(t, "treasurer-1", mockSvc.lastActor)
	assert.Contains(t, w.Body.String(), `"status":"PARTIAL"`)
}

func TestPaymentHandlerProcessConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPaymentHandler(&paymentServiceMock{err: appErrors.Clone(appErrors.ErrConflict, "tuition is already paid")})

	c, w := studentContext(http.MethodPost, "/payments", []byte(`{"tuition_id":"tu-1","amount":"1"}`))
	handler.Process(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "tuition is already paid")
}

func TestPaymentHandlerReverse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &paymentServiceMock{}
	handler := NewPaymentHandler(mockSvc)

	c, w := studentContext(http.MethodDelete, "/payments/pay-9", nil)
	c.Params = gin.Params{{Key: "id", Value: "pay-9"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	handler.Reverse(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pay-9", mockSvc.reversedID)
	assert.Equal(t, "admin-1", mockSvc.lastActor)
}

func TestPaymentHandlerListTuitionsFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &paymentServiceMock{}
	handler := NewPaymentHandler(mockSvc)

	c, w := studentContext(http.MethodGet, "/tuitions?student_id=stu-2&status=partial&year=2025", nil)
	handler.ListTuitions(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.TuitionFilter{StudentID: "stu-2", Status: models.TuitionStatusPartial, Year: 2025}, mockSvc.lastFilter)
}

func TestPaymentHandlerListTuitionsRejectsBadQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []string{"/tuitions?status=LATE", "/tuitions?year=abc", "/tuitions?year=-1"}
	for _, target := range cases {
		mockSvc := &paymentServiceMock{}
		handler := NewPaymentHandler(mockSvc)

		c, w := studentContext(http.MethodGet, target, nil)
		handler.ListTuitions(c)

		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.False(t, mockSvc.listCalled, target)
	}
}

func TestPaymentHandlerStudentTuitionsScopedToClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &paymentServiceMock{}
	handler := NewPaymentHandler(mockSvc)

	c, w := studentContext(http.MethodGet, "/student/tuitions?student_id=someone-else", nil)
	handler.StudentTuitions(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu-1", mockSvc.lastFilter.StudentID)
}

func TestPaymentHandlerGetTuitionNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPaymentHandler(&paymentServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "tuition not found")})

	c, w := studentContext(http.MethodGet, "/tuitions/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	handler.GetTuition(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
