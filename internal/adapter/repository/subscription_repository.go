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

type subscriptionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *gorm.DB, logger *zap.Logger) repository.SubscriptionRepository {
	return &subscriptionRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a subscription with its plan and allotments, nil when
// not found
func (r *subscriptionRepository) GetByID(ctx context.Context, subscriptionID int64) (*model.Subscription, error) {
	var sub model.Subscription

	err := r.db.WithContext(ctx).
		Preload("Plan").
		Preload("Items").
		Where("id = ?", subscriptionID).
		First(&sub).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get subscription",
			zap.Int64("subscription_id", subscriptionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return &sub, nil
}

// Create inserts the subscription, its allotments, the Created change-log
// row and the outbox event in one transaction
func (r *subscriptionRepository) Create(ctx context.Context, sub *model.Subscription, items []model.SubscriptionItem, changeLog *model.SubscriptionChangeLog, event *model.OutboxMessage) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}

		for i := range items {
			items[i].SubscriptionID = sub.ID
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return fmt.Errorf("failed to create subscription items: %w", err)
			}
		}

		if changeLog != nil {
			changeLog.SubscriptionID = sub.ID
			if err := tx.Create(changeLog).Error; err != nil {
				return fmt.Errorf("failed to create change log: %w", err)
			}
		}

		if event != nil {
			event.Payload["subscription_id"] = sub.ID
			if err := tx.Create(event).Error; err != nil {
				return fmt.Errorf("failed to enqueue outbox event: %w", err)
			}
		}

		return nil
	})

	if err != nil {
		r.logger.Error("Failed to create subscription",
			zap.Int64("plan_id", sub.PlanID),
			zap.Error(err))
	}
	return err
}

// ReplaceItemsAndUpdate applies the mutated subscription fields, fully
// replaces the allotments and appends the change-log row in one
// transaction. Stale allotments are dropped, not merged.
func (r *subscriptionRepository) ReplaceItemsAndUpdate(ctx context.Context, sub *model.Subscription, items []model.SubscriptionItem, changeLog *model.SubscriptionChangeLog, event *model.OutboxMessage) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"plan_id":    sub.PlanID,
			"currency":   sub.Currency,
			"unit_price": sub.UnitPrice,
			"updated_at": time.Now().UTC(),
		}
		if err := tx.Model(&model.Subscription{}).
			Where("id = ?", sub.ID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}

		if err := tx.Where("subscription_id = ?", sub.ID).
			Delete(&model.SubscriptionItem{}).Error; err != nil {
			return fmt.Errorf("failed to drop stale allotments: %w", err)
		}
		if len(items) > 0 {
			for i := range items {
				items[i].ID = 0
				items[i].SubscriptionID = sub.ID
			}
			if err := tx.Create(&items).Error; err != nil {
				return fmt.Errorf("failed to create allotments: %w", err)
			}
		}

		if changeLog != nil {
			if err := tx.Create(changeLog).Error; err != nil {
				return fmt.Errorf("failed to create change log: %w", err)
			}
		}

		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return fmt.Errorf("failed to enqueue outbox event: %w", err)
			}
		}

		return nil
	})

	if err != nil {
		r.logger.Error("Failed to replace subscription items",
			zap.Int64("subscription_id", sub.ID),
			zap.Error(err))
	}
	return err
}

// Cancel conditionally cancels a not-yet-cancelled subscription. The
// status guard in the WHERE clause makes concurrent cancels converge to
// one winner.
func (r *subscriptionRepository) Cancel(ctx context.Context, subscriptionID int64, endAt time.Time, reason string, changeLog *model.SubscriptionChangeLog, event *model.OutboxMessage) (bool, error) {
	cancelled := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Subscription{}).
			Where("id = ? AND status NOT IN ?", subscriptionID, []model.SubscriptionStatus{
				model.SubscriptionStatusCanceled,
				model.SubscriptionStatusExpired,
			}).
			Updates(map[string]interface{}{
				"status":              model.SubscriptionStatusCanceled,
				"end_at":              endAt,
				"renew_at":            nil,
				"cancellation_reason": reason,
				"updated_at":          time.Now().UTC(),
			})

		if result.Error != nil {
			return fmt.Errorf("failed to cancel subscription: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		cancelled = true

		if changeLog != nil {
			if err := tx.Create(changeLog).Error; err != nil {
				return fmt.Errorf("failed to create change log: %w", err)
			}
		}
		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return fmt.Errorf("failed to enqueue outbox event: %w", err)
			}
		}
		return nil
	})

	if err != nil {
		r.logger.Error("Failed to cancel subscription",
			zap.Int64("subscription_id", subscriptionID),
			zap.Error(err))
		return false, err
	}

	return cancelled, nil
}

// RecordRenewal advances the subscription into its new period with the
// Renewed change-log row and outbox event in one transaction. The period
// guard in the WHERE clause makes concurrent renewals converge to one
// winner; the loser writes nothing, not even the change-log row.
func (r *subscriptionRepository) RecordRenewal(ctx context.Context, sub *model.Subscription, fromPeriodStart time.Time, invoice *model.Invoice, changeLog *model.SubscriptionChangeLog, event *model.OutboxMessage) (bool, error) {
	renewed := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":                sub.Status,
			"current_period_start":  sub.CurrentPeriodStart,
			"current_period_end":    sub.CurrentPeriodEnd,
			"renewal_attempt_count": sub.RenewalAttemptCount,
			"needs_attention":       sub.NeedsAttention,
			"last_invoiced_at":      sub.LastInvoicedAt,
			"last_invoice_id":       sub.LastInvoiceID,
			"renew_at":              sub.RenewAt,
			"trial_ends_at":         sub.TrialEndsAt,
			"updated_at":            time.Now().UTC(),
		}
		result := tx.Model(&model.Subscription{}).
			Where("id = ? AND current_period_start = ?", sub.ID, fromPeriodStart).
			Updates(updates)

		if result.Error != nil {
			return fmt.Errorf("failed to advance subscription period: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		renewed = true

		if invoice != nil {
			if err := tx.Create(invoice).Error; err != nil {
				return fmt.Errorf("failed to create renewal invoice: %w", err)
			}
		}
		if changeLog != nil {
			if err := tx.Create(changeLog).Error; err != nil {
				return fmt.Errorf("failed to create change log: %w", err)
			}
		}
		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return fmt.Errorf("failed to enqueue outbox event: %w", err)
			}
		}
		return nil
	})

	if err != nil {
		r.logger.Error("Failed to record renewal",
			zap.Int64("subscription_id", sub.ID),
			zap.Error(err))
		return false, err
	}

	return renewed, nil
}

// RecordRenewalFailure bumps the attempt counter and schedules or stalls
// the next attempt
func (r *subscriptionRepository) RecordRenewalFailure(ctx context.Context, subscriptionID int64, attemptCount int, nextRenewAt *time.Time, needsAttention bool) error {
	err := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(map[string]interface{}{
			"renewal_attempt_count": attemptCount,
			"renew_at":              nextRenewAt,
			"needs_attention":       needsAttention,
			"updated_at":            time.Now().UTC(),
		}).Error

	if err != nil {
		r.logger.Error("Failed to record renewal failure",
			zap.Int64("subscription_id", subscriptionID),
			zap.Error(err))
		return fmt.Errorf("failed to record renewal failure: %w", err)
	}
	return nil
}

// ListChangeLogs returns the change history ordered by effective_date then
// insertion order
func (r *subscriptionRepository) ListChangeLogs(ctx context.Context, subscriptionID int64) ([]*model.SubscriptionChangeLog, error) {
	var logs []*model.SubscriptionChangeLog

	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("effective_date ASC, id ASC").
		Find(&logs).Error

	if err != nil {
		r.logger.Error("Failed to list change logs",
			zap.Int64("subscription_id", subscriptionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list change logs: %w", err)
	}

	return logs, nil
}

// ListDueForRenewal returns auto-renewing subscriptions whose renew_at has
// passed
func (r *subscriptionRepository) ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]*model.Subscription, error) {
	var subs []*model.Subscription

	query := r.db.WithContext(ctx).
		Preload("Plan").
		Where("status IN ? AND renewal_policy = ? AND renew_at IS NOT NULL AND renew_at <= ?",
			[]model.SubscriptionStatus{
				model.SubscriptionStatusTrial,
				model.SubscriptionStatusActive,
			},
			model.RenewalPolicyAuto,
			now).
		Order("renew_at ASC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&subs).Error; err != nil {
		r.logger.Error("Failed to list subscriptions due for renewal", zap.Error(err))
		return nil, fmt.Errorf("failed to list subscriptions due for renewal: %w", err)
	}

	return subs, nil
}
