package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/billforge/billing/internal/domain/model"
	"github.com/billforge/billing/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type outboxRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *gorm.DB, logger *zap.Logger) repository.OutboxRepository {
	return &outboxRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue appends a message outside any domain transaction
func (r *outboxRepository) Enqueue(ctx context.Context, message *model.OutboxMessage) error {
	if message.OccurredAt.IsZero() {
		message.OccurredAt = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		r.logger.Error("Failed to enqueue outbox message",
			zap.String("type", message.Type),
			zap.Error(err))
		return fmt.Errorf("failed to enqueue outbox message: %w", err)
	}
	return nil
}

// GetPending returns up to take pending messages that occurred at or
// before olderThanUtc, oldest first
func (r *outboxRepository) GetPending(ctx context.Context, take int, olderThanUtc time.Time) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage

	query := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND occurred_at <= ?", olderThanUtc).
		Order("occurred_at ASC, id ASC")

	if take > 0 {
		query = query.Limit(take)
	}

	if err := query.Find(&messages).Error; err != nil {
		r.logger.Error("Failed to get pending outbox messages", zap.Error(err))
		return nil, fmt.Errorf("failed to get pending outbox messages: %w", err)
	}

	return messages, nil
}

// MarkProcessed sets processed_at iff still pending. Re-invoking on an
// already-processed id affects zero rows and is a no-op.
func (r *outboxRepository) MarkProcessed(ctx context.Context, messageID int64, processedAtUtc time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND processed_at IS NULL", messageID).
		Update("processed_at", processedAtUtc)

	if result.Error != nil {
		r.logger.Error("Failed to mark outbox message processed",
			zap.Int64("message_id", messageID),
			zap.Error(result.Error))
		return fmt.Errorf("failed to mark outbox message processed: %w", result.Error)
	}

	return nil
}

// IncrementRetry bumps the retry counter and returns the new count
func (r *outboxRepository) IncrementRetry(ctx context.Context, messageID int64) (int, error) {
	var newCount int

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg model.OutboxMessage
		if err := tx.Where("id = ?", messageID).First(&msg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("outbox message not found: %d", messageID)
			}
			return err
		}

		newCount = msg.Retries + 1
		return tx.Model(&model.OutboxMessage{}).
			Where("id = ?", messageID).
			Update("retries", newCount).Error
	})

	if err != nil {
		r.logger.Error("Failed to increment outbox retry",
			zap.Int64("message_id", messageID),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment outbox retry: %w", err)
	}

	return newCount, nil
}

// CleanupProcessed deletes processed messages past the retention cutoff
// and returns the number deleted
func (r *outboxRepository) CleanupProcessed(ctx context.Context, olderThanUtc time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ?", olderThanUtc).
		Delete(&model.OutboxMessage{})

	if result.Error != nil {
		r.logger.Error("Failed to cleanup processed outbox messages", zap.Error(result.Error))
		return 0, fmt.Errorf("failed to cleanup processed outbox messages: %w", result.Error)
	}

	return result.RowsAffected, nil
}
