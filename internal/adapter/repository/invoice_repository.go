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

type invoiceRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *gorm.DB, logger *zap.Logger) repository.InvoiceRepository {
	return &invoiceRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves an invoice by id, nil when not found
func (r *invoiceRepository) GetByID(ctx context.Context, invoiceID int64) (*model.Invoice, error) {
	var inv model.Invoice

	err := r.db.WithContext(ctx).
		Where("id = ?", invoiceID).
		First(&inv).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get invoice",
			zap.Int64("invoice_id", invoiceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	return &inv, nil
}

// Create inserts a new invoice
func (r *invoiceRepository) Create(ctx context.Context, invoice *model.Invoice) error {
	if err := r.db.WithContext(ctx).Create(invoice).Error; err != nil {
		r.logger.Error("Failed to create invoice",
			zap.Int64("app_id", invoice.AppID),
			zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// TransitionStatus applies a compare-and-swap status update. The WHERE
// clause on the current status is the mutual-exclusion guard; zero rows
// affected means another caller won.
func (r *invoiceRepository) TransitionStatus(ctx context.Context, invoiceID int64, allowed []model.InvoicePaymentStatus, to model.InvoicePaymentStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Invoice{}).
		Where("id = ? AND payment_status IN ?", invoiceID, allowed).
		Updates(map[string]interface{}{
			"payment_status": to,
			"updated_at":     time.Now().UTC(),
		})

	if result.Error != nil {
		r.logger.Error("Failed to transition invoice status",
			zap.Int64("invoice_id", invoiceID),
			zap.String("to", string(to)),
			zap.Error(result.Error))
		return false, fmt.Errorf("failed to transition invoice status: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// FinishAttempt records the attempt row, the invoice field updates and the
// outbox event in one transaction
func (r *invoiceRepository) FinishAttempt(ctx context.Context, invoice *model.Invoice, attempt *model.InvoicePaymentAttempt, event *model.OutboxMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(attempt).Error; err != nil {
			return fmt.Errorf("failed to create payment attempt: %w", err)
		}

		updates := map[string]interface{}{
			"payment_status":        invoice.PaymentStatus,
			"payment_attempt_count": invoice.PaymentAttemptCount,
			"last_attempt_at":       invoice.LastAttemptAt,
			"paid_at":               invoice.PaidAt,
			"failed_at":             invoice.FailedAt,
			"requires_action":       invoice.RequiresAction,
			"next_retry_at":         invoice.NextRetryAt,
			"last_error_code":       invoice.LastErrorCode,
			"last_error_message":    invoice.LastErrorMessage,
			"payment_reference":     invoice.PaymentReference,
			"updated_at":            time.Now().UTC(),
		}

		if err := tx.Model(&model.Invoice{}).
			Where("id = ?", invoice.ID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update invoice: %w", err)
		}

		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return fmt.Errorf("failed to enqueue outbox event: %w", err)
			}
		}

		return nil
	})
}

// Cancel conditionally transitions a non-terminal invoice to canceled and
// enqueues the event in the same transaction
func (r *invoiceRepository) Cancel(ctx context.Context, invoiceID int64, reason string, canceledAt time.Time, event *model.OutboxMessage) (bool, error) {
	canceled := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Invoice{}).
			Where("id = ? AND payment_status NOT IN ?", invoiceID, []model.InvoicePaymentStatus{
				model.InvoiceStatusSucceeded,
				model.InvoiceStatusCanceled,
			}).
			Updates(map[string]interface{}{
				"payment_status":      model.InvoiceStatusCanceled,
				"cancellation_reason": reason,
				"canceled_at":         canceledAt,
				"next_retry_at":       nil,
				"updated_at":          canceledAt,
			})

		if result.Error != nil {
			return fmt.Errorf("failed to cancel invoice: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		canceled = true

		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return fmt.Errorf("failed to enqueue outbox event: %w", err)
			}
		}
		return nil
	})

	if err != nil {
		r.logger.Error("Failed to cancel invoice",
			zap.Int64("invoice_id", invoiceID),
			zap.Error(err))
		return false, err
	}

	return canceled, nil
}

// ListAttempts returns the attempt log ordered by attempted_at ascending
func (r *invoiceRepository) ListAttempts(ctx context.Context, invoiceID int64) ([]*model.InvoicePaymentAttempt, error) {
	var attempts []*model.InvoicePaymentAttempt

	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("attempted_at ASC, id ASC").
		Find(&attempts).Error

	if err != nil {
		r.logger.Error("Failed to list payment attempts",
			zap.Int64("invoice_id", invoiceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list payment attempts: %w", err)
	}

	return attempts, nil
}

// processingStaleAfter is how long a processing invoice may sit untouched
// before the sweep treats its worker as gone and reclaims the row.
const processingStaleAfter = 15 * time.Minute

// ListRetryable returns non-terminal invoices whose backoff has elapsed.
// Processing rows count too once they have gone stale, so an invoice left
// behind by a crashed attempt re-enters the sweep.
func (r *invoiceRepository) ListRetryable(ctx context.Context, now time.Time, limit int) ([]*model.Invoice, error) {
	var invoices []*model.Invoice

	query := r.db.WithContext(ctx).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", now).
		Where("payment_status IN ? OR (payment_status = ? AND updated_at <= ?)",
			[]model.InvoicePaymentStatus{
				model.InvoiceStatusPending,
				model.InvoiceStatusFailed,
			},
			model.InvoiceStatusProcessing,
			now.Add(-processingStaleAfter)).
		Order("next_retry_at ASC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&invoices).Error; err != nil {
		r.logger.Error("Failed to list retryable invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to list retryable invoices: %w", err)
	}

	return invoices, nil
}

// ListBySubscription returns the invoices of a subscription, newest first
func (r *invoiceRepository) ListBySubscription(ctx context.Context, subscriptionID int64) ([]*model.Invoice, error) {
	var invoices []*model.Invoice

	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("period_start DESC").
		Find(&invoices).Error

	if err != nil {
		r.logger.Error("Failed to list invoices by subscription",
			zap.Int64("subscription_id", subscriptionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	return invoices, nil
}

// GetBySubscriptionAndPeriod finds the invoice covering the period
// starting at periodStart, nil when none exists
func (r *invoiceRepository) GetBySubscriptionAndPeriod(ctx context.Context, subscriptionID int64, periodStart time.Time) (*model.Invoice, error) {
	var inv model.Invoice

	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND period_start = ?", subscriptionID, periodStart).
		First(&inv).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get invoice by period: %w", err)
	}

	return &inv, nil
}
