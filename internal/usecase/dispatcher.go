package usecase

import (
	"context"
	"time"

	"github.com/billforge/billing/internal/domain/model"
	"github.com/billforge/billing/internal/domain/repository"
	"go.uber.org/zap"
)

// Dispatcher drains pending outbox messages and fans them out to webhook
// endpoints. A message is marked processed only after its fan-out was
// persisted; a crash in between leaves it pending, so delivery is at
// least once and consumers must tolerate duplicates. Multiple dispatcher
// instances may run against the same outbox.
type Dispatcher struct {
	outboxRepo repository.OutboxRepository
	webhooks   *WebhookService
	batchSize  int
	logger     *zap.Logger
	now        func() time.Time
}

// NewDispatcher creates a new outbox dispatcher
func NewDispatcher(outboxRepo repository.OutboxRepository, webhooks *WebhookService, batchSize int, logger *zap.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Dispatcher{
		outboxRepo: outboxRepo,
		webhooks:   webhooks,
		batchSize:  batchSize,
		logger:     logger,
		now:        time.Now,
	}
}

// DispatchPending processes one batch of pending messages, oldest first.
// Returns the number of messages marked processed.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	now := d.now().UTC()

	messages, err := d.outboxRepo.GetPending(ctx, d.batchSize, now)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, msg := range messages {
		if _, err := d.webhooks.Fanout(ctx, msg.Type, model.JSONB(msg.Payload)); err != nil {
			retries, incErr := d.outboxRepo.IncrementRetry(ctx, msg.ID)
			if incErr != nil {
				d.logger.Error("failed to increment outbox retry",
					zap.Int64("message_id", msg.ID),
					zap.Error(incErr))
			}
			d.logger.Warn("outbox message dispatch failed",
				zap.Int64("message_id", msg.ID),
				zap.String("type", msg.Type),
				zap.Int("retries", retries),
				zap.Error(err))
			continue
		}

		if err := d.outboxRepo.MarkProcessed(ctx, msg.ID, d.now().UTC()); err != nil {
			d.logger.Error("failed to mark outbox message processed",
				zap.Int64("message_id", msg.ID),
				zap.Error(err))
			continue
		}
		processed++
	}

	return processed, nil
}

// CleanupProcessed deletes processed messages older than the retention
// cutoff and returns the number deleted.
func (d *Dispatcher) CleanupProcessed(ctx context.Context, olderThanUtc time.Time) (int64, error) {
	deleted, err := d.outboxRepo.CleanupProcessed(ctx, olderThanUtc)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		d.logger.Info("outbox cleanup completed",
			zap.Int64("deleted", deleted),
			zap.Time("older_than", olderThanUtc))
	}
	return deleted, nil
}
