package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/response"
)

type transferIntake interface {
	Submit(req dto.TransferEventRequest) (*dto.TransferAccepted, error)
}

// TransferHandler receives detected bank transfers from the mutation detector.
type TransferHandler struct {
	intake transferIntake
}

// NewTransferHandler constructs the handler.
func NewTransferHandler(intake transferIntake) *TransferHandler {
	return &TransferHandler{intake: intake}
}

// Submit godoc
// @Summary Submit detected transfer
// @Description Queues an incoming transfer for reconciliation against pending payment requests
// @Tags Integrations
// @Accept json
// @Produce json
// @Param X-Transfer-Secret header string true "Shared secret"
// @Param payload body dto.TransferEventRequest true "Observed transfer"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /integrations/transfers [post]
func (h *TransferHandler) Submit(c *gin.Context) {
	var req dto.TransferEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transfer payload"))
		return
	}

	accepted, err := h.intake.Submit(req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, accepted)
}
