package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/jobs"
)

const transferJobType = "bank_transfer"

type transferVerifier interface {
	VerifyTransfer(ctx context.Context, event models.TransferEvent) (*models.TransferMatch, error)
}

type transferQueue interface {
	Enqueue(job jobs.Job[models.TransferEvent]) error
}

// TransferIntakeService accepts detected bank transfers and settles them asynchronously.
type TransferIntakeService struct {
	verifier transferVerifier
	queue    transferQueue
	logger   *zap.Logger
	now      func() time.Time
}

// NewTransferIntakeService constructs the intake service. Call Attach before Submit.
func NewTransferIntakeService(verifier transferVerifier, logger *zap.Logger) *TransferIntakeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferIntakeService{
		verifier: verifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Attach sets the queue Submit pushes onto.
func (s *TransferIntakeService) Attach(queue transferQueue) {
	s.queue = queue
}

// Submit validates an event and enqueues it for settlement.
func (s *TransferIntakeService) Submit(req dto.TransferEventRequest) (*dto.TransferAccepted, error) {
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "transfer amount must be greater than zero")
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transfer queue is not running")
	}

	event := models.TransferEvent{
		Amount:     req.Amount,
		SenderInfo: req.SenderInfo,
		Reference:  req.Reference,
		ObservedAt: s.now(),
	}
	if req.ObservedAt != nil {
		event.ObservedAt = req.ObservedAt.UTC()
	}

	job := jobs.Job[models.TransferEvent]{
		ID:       uuid.NewString(),
		Type:     transferJobType,
		Payload:  event,
		Enqueued: s.now(),
	}
	if err := s.queue.Enqueue(job); err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.Clone(appErrors.ErrCapacity, "transfer intake is busy, retry shortly")
		}
		return nil, appErrors.Internal(err, "failed to enqueue transfer")
	}
	s.logger.Info("transfer enqueued", zap.String("job_id", job.ID), zap.String("amount", event.Amount.String()))
	return &dto.TransferAccepted{JobID: job.ID}, nil
}

// Handle is the queue handler. Validation failures and unmatched transfers are
// final; only unexpected failures are returned for retry.
func (s *TransferIntakeService) Handle(ctx context.Context, job jobs.Job[models.TransferEvent]) error {
	match, err := s.verifier.VerifyTransfer(ctx, job.Payload)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Status < 500 {
			s.logger.Warn("transfer rejected", zap.String("job_id", job.ID), zap.Error(err))
			return nil
		}
		return err
	}
	if !match.Matched {
		s.logger.Warn("transfer left unmatched",
			zap.String("job_id", job.ID),
			zap.String("amount", job.Payload.Amount.String()),
			zap.String("reference", job.Payload.Reference),
			zap.Time("observed_at", job.Payload.ObservedAt),
			zap.Time("enqueued_at", job.Enqueued),
		)
		return nil
	}
	s.logger.Info("transfer settled",
		zap.String("job_id", job.ID),
		zap.String("payment_request_id", match.PaymentRequestID),
		zap.Int("attempt", job.Attempt),
	)
	return nil
}

// Dropped logs a transfer that exhausted its retries so operators can replay it.
func (s *TransferIntakeService) Dropped(job jobs.Job[models.TransferEvent], err error) {
	s.logger.Error("transfer dropped after retries",
		zap.String("job_id", job.ID),
		zap.String("amount", job.Payload.Amount.String()),
		zap.String("reference", job.Payload.Reference),
		zap.Time("observed_at", job.Payload.ObservedAt),
		zap.Error(err),
	)
}
