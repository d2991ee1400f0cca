package repository

import (
	"context"
	"time"

	"github.com/billforge/billing/internal/domain/model"
)

// OutboxRepository is the dispatcher contract over the durable event queue.
// Domain writes enqueue their events transactionally through the invoice
// and subscription repositories; this interface serves the external
// dispatch worker. Multiple workers may drain the same outbox: MarkProcessed
// is an idempotent compare-and-swap, so duplicate dispatch is possible and
// consumers must tolerate it.
type OutboxRepository interface {
	// Enqueue appends a message outside any domain transaction. Used by
	// callers that have no accompanying domain write (manual replay).
	Enqueue(ctx context.Context, message *model.OutboxMessage) error

	// GetPending returns up to take pending messages that occurred at or
	// before olderThanUtc, oldest first.
	GetPending(ctx context.Context, take int, olderThanUtc time.Time) ([]*model.OutboxMessage, error)

	// MarkProcessed sets processed_at iff the message is still pending.
	// Re-invoking on an already-processed id is a no-op.
	MarkProcessed(ctx context.Context, messageID int64, processedAtUtc time.Time) error

	// IncrementRetry bumps the retry counter and returns the new count.
	IncrementRetry(ctx context.Context, messageID int64) (int, error)

	// CleanupProcessed deletes processed messages older than the retention
	// cutoff and returns the number deleted.
	CleanupProcessed(ctx context.Context, olderThanUtc time.Time) (int64, error)
}
