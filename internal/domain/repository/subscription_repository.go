package repository

import (
	"context"
	"time"

	"github.com/billforge/billing/internal/domain/model"
)

// SubscriptionRepository persists subscriptions, their feature allotments
// and the append-only change log. Every mutating method writes its change
// log row and outbox event in the same transaction as the mutation.
type SubscriptionRepository interface {
	GetByID(ctx context.Context, subscriptionID int64) (*model.Subscription, error)

	// Create inserts the subscription with its allotment items, the Created
	// change-log row and the outbox event in one transaction.
	Create(ctx context.Context, sub *model.Subscription, items []model.SubscriptionItem, changeLog *model.SubscriptionChangeLog, event *model.OutboxMessage) error

	// ReplaceItemsAndUpdate applies the already-mutated subscription fields,
	// fully replaces the allotment items, appends the change-log row and
	// enqueues the event in one transaction. Stale allotments are dropped.
	ReplaceItemsAndUpdate(ctx context.Context, sub *model.Subscription, items []model.SubscriptionItem, changeLog *model.SubscriptionChangeLog, event *model.OutboxMessage) error

	// Cancel conditionally cancels a not-yet-cancelled subscription.
	// Returns false when the subscription is already canceled or expired.
	Cancel(ctx context.Context, subscriptionID int64, endAt time.Time, reason string, changeLog *model.SubscriptionChangeLog, event *model.OutboxMessage) (bool, error)

	// RecordRenewal advances the subscription, appends the Renewed
	// change-log row and enqueues the event in one transaction. A non-nil
	// invoice is created in the same transaction. The update is guarded on
	// fromPeriodStart still being the current period start; false means a
	// concurrent renewal already advanced the period and nothing was
	// written.
	RecordRenewal(ctx context.Context, sub *model.Subscription, fromPeriodStart time.Time, invoice *model.Invoice, changeLog *model.SubscriptionChangeLog, event *model.OutboxMessage) (bool, error)

	// RecordRenewalFailure bumps the renewal attempt counter and schedules
	// or stalls the next attempt.
	RecordRenewalFailure(ctx context.Context, subscriptionID int64, attemptCount int, nextRenewAt *time.Time, needsAttention bool) error

	// ListChangeLogs returns the change history ordered by effective_date
	// then insertion order.
	ListChangeLogs(ctx context.Context, subscriptionID int64) ([]*model.SubscriptionChangeLog, error)

	// ListDueForRenewal returns auto-renewing subscriptions whose renew_at
	// has passed, for the renewal sweep.
	ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]*model.Subscription, error)
}
