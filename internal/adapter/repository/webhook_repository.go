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

type webhookEndpointRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewWebhookEndpointRepository creates a new webhook endpoint repository
func NewWebhookEndpointRepository(db *gorm.DB, logger *zap.Logger) repository.WebhookEndpointRepository {
	return &webhookEndpointRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves an endpoint by id, nil when not found
func (r *webhookEndpointRepository) GetByID(ctx context.Context, endpointID int64) (*model.WebhookEndpoint, error) {
	var ep model.WebhookEndpoint

	err := r.db.WithContext(ctx).
		Where("id = ?", endpointID).
		First(&ep).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("Failed to get webhook endpoint",
			zap.Int64("endpoint_id", endpointID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get webhook endpoint: %w", err)
	}

	return &ep, nil
}

// ListActive returns every active endpoint
func (r *webhookEndpointRepository) ListActive(ctx context.Context) ([]*model.WebhookEndpoint, error) {
	var endpoints []*model.WebhookEndpoint

	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&endpoints).Error

	if err != nil {
		r.logger.Error("Failed to list active webhook endpoints", zap.Error(err))
		return nil, fmt.Errorf("failed to list active webhook endpoints: %w", err)
	}

	return endpoints, nil
}

// UpdateDeliveryStatus records the latest delivery outcome on the endpoint
func (r *webhookEndpointRepository) UpdateDeliveryStatus(ctx context.Context, endpointID int64, responseStatus int, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&model.WebhookEndpoint{}).
		Where("id = ?", endpointID).
		Updates(map[string]interface{}{
			"last_delivery_status": responseStatus,
			"last_delivery_at":     at,
			"updated_at":           time.Now().UTC(),
		}).Error

	if err != nil {
		return fmt.Errorf("failed to update endpoint delivery status: %w", err)
	}
	return nil
}

// RotateSecret replaces the signing secret
func (r *webhookEndpointRepository) RotateSecret(ctx context.Context, endpointID int64, newSecret string, rotatedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.WebhookEndpoint{}).
		Where("id = ?", endpointID).
		Updates(map[string]interface{}{
			"secret":            newSecret,
			"secret_rotated_at": rotatedAt,
			"updated_at":        rotatedAt,
		})

	if result.Error != nil {
		r.logger.Error("Failed to rotate webhook secret",
			zap.Int64("endpoint_id", endpointID),
			zap.Error(result.Error))
		return fmt.Errorf("failed to rotate webhook secret: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("webhook endpoint not found: %d", endpointID)
	}

	return nil
}

type webhookDeliveryRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewWebhookDeliveryRepository creates a new webhook delivery repository
func NewWebhookDeliveryRepository(db *gorm.DB, logger *zap.Logger) repository.WebhookDeliveryRepository {
	return &webhookDeliveryRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a delivery row
func (r *webhookDeliveryRepository) Create(ctx context.Context, delivery *model.WebhookDelivery) error {
	if err := r.db.WithContext(ctx).Create(delivery).Error; err != nil {
		r.logger.Error("Failed to create webhook delivery",
			zap.Int64("endpoint_id", delivery.EndpointID),
			zap.Error(err))
		return fmt.Errorf("failed to create webhook delivery: %w", err)
	}
	return nil
}

// Update rewrites the delivery row after a resubmission
func (r *webhookDeliveryRepository) Update(ctx context.Context, delivery *model.WebhookDelivery) error {
	err := r.db.WithContext(ctx).
		Model(&model.WebhookDelivery{}).
		Where("id = ?", delivery.ID).
		Updates(map[string]interface{}{
			"attempted_at":    delivery.AttemptedAt,
			"response_status": delivery.ResponseStatus,
			"response_body":   delivery.ResponseBody,
			"retries":         delivery.Retries,
			"next_retry_at":   delivery.NextRetryAt,
		}).Error

	if err != nil {
		r.logger.Error("Failed to update webhook delivery",
			zap.Int64("delivery_id", delivery.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update webhook delivery: %w", err)
	}
	return nil
}

// ListRetryable returns deliveries with a transient failure response and
// retries below maxAttempts. Permanent failures never match: 4xx other
// than timeout and rate limit are dead-lettered.
func (r *webhookDeliveryRepository) ListRetryable(ctx context.Context, endpointID int64, maxAttempts int) ([]*model.WebhookDelivery, error) {
	var deliveries []*model.WebhookDelivery

	err := r.db.WithContext(ctx).
		Where("endpoint_id = ? AND retries < ? AND (response_status = 0 OR response_status IN (408, 429) OR response_status >= 500)",
			endpointID, maxAttempts).
		Order("attempted_at ASC").
		Find(&deliveries).Error

	if err != nil {
		r.logger.Error("Failed to list retryable deliveries",
			zap.Int64("endpoint_id", endpointID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list retryable deliveries: %w", err)
	}

	return deliveries, nil
}

// ListByEndpoint returns recent deliveries for an endpoint, newest first
func (r *webhookDeliveryRepository) ListByEndpoint(ctx context.Context, endpointID int64, limit int) ([]*model.WebhookDelivery, error) {
	var deliveries []*model.WebhookDelivery

	query := r.db.WithContext(ctx).
		Where("endpoint_id = ?", endpointID).
		Order("attempted_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&deliveries).Error; err != nil {
		r.logger.Error("Failed to list deliveries",
			zap.Int64("endpoint_id", endpointID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}

	return deliveries, nil
}
