package database

import (
	"fmt"

	"github.com/billforge/billing/internal/domain/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate runs database migrations
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	logger.Info("Running database migrations...")

	err := db.AutoMigrate(
		&model.Plan{},
		&model.PlanFeatureLimit{},
		&model.Subscription{},
		&model.SubscriptionItem{},
		&model.SubscriptionChangeLog{},
		&model.Invoice{},
		&model.InvoicePaymentAttempt{},
		&model.OutboxMessage{},
		&model.WebhookEndpoint{},
		&model.WebhookDelivery{},
	)
	if err != nil {
		logger.Error("Failed to run migrations", zap.Error(err))
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		logger.Error("Failed to create custom indexes", zap.Error(err))
		return err
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

func createCustomIndexes(db *gorm.DB) error {
	indexes := []string{
		// One invoice per subscription billing period.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_subscription_period
		 ON invoices (subscription_id, period_start) WHERE subscription_id IS NOT NULL`,
		// Pending-only partial index keeps the dispatcher sweep cheap.
		`CREATE INDEX IF NOT EXISTS idx_outbox_pending
		 ON outbox_messages (occurred_at) WHERE processed_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_retryable
		 ON invoices (next_retry_at) WHERE next_retry_at IS NOT NULL`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
