package services

import (
	"context"
	"fmt"

	"homebuh/internal/amqp"
	"homebuh/internal/core"
	"homebuh/internal/log"
	"homebuh/internal/transfer"
)

// TransferService runs transfers and announces the committed ones. The
// ledger is the source of truth: publishing is best-effort and never fails
// a transfer that already committed.
type TransferService struct {
	orchestrator *transfer.Orchestrator
	publisher    TransferPublisher
	cache        Invalidator
	logger       *log.Logger
}

func NewTransferService(o *transfer.Orchestrator, publisher TransferPublisher, cache Invalidator, logger *log.Logger) *TransferService {
	if cache == nil {
		cache = nopInvalidator{}
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &TransferService{
		orchestrator: o,
		publisher:    publisher,
		cache:        cache,
		logger:       logger.WithComponent(log.ComponentTransfer),
	}
}

func (s *TransferService) Transfer(ctx context.Context, req transfer.Request) (transfer.Result, error) {
	req.Amount = core.RoundAmount(req.Amount)
	res, err := s.orchestrator.Transfer(ctx, req)
	if err != nil {
		return transfer.Result{}, err
	}
	if res.Replayed {
		return res, nil
	}

	s.cache.Invalidate()

	if err := s.publish(ctx, res); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish transfer event",
			"from_tx", res.From.ID, "to_tx", res.To.ID, log.FieldError, err)
	}
	return res, nil
}

func (s *TransferService) publish(ctx context.Context, res transfer.Result) error {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not configured, skipping transfer event")
		return nil
	}
	msg := amqp.TransferCompletedMessage{
		FromTxID:      res.From.ID,
		ToTxID:        res.To.ID,
		FromAccountID: res.From.AccountID,
		ToAccountID:   res.To.AccountID,
		Amount:        res.To.Amount.StringFixed(2),
		Currency:      res.To.Currency,
		Timestamp:     res.To.Timestamp,
	}
	if err := s.publisher.PublishTransferCompleted(ctx, msg); err != nil {
		return fmt.Errorf("publish transfer %d/%d: %w", res.From.ID, res.To.ID, err)
	}
	return nil
}
