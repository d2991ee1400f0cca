package repository

import (
	"context"
	"time"

	"github.com/billforge/billing/internal/domain/model"
)

// WebhookEndpointRepository persists delivery targets.
type WebhookEndpointRepository interface {
	GetByID(ctx context.Context, endpointID int64) (*model.WebhookEndpoint, error)

	// ListActive returns every active endpoint; event-type filtering
	// happens in the delivery service against event_types_csv.
	ListActive(ctx context.Context) ([]*model.WebhookEndpoint, error)

	// UpdateDeliveryStatus records the most recent delivery outcome on the
	// endpoint for the admin surface.
	UpdateDeliveryStatus(ctx context.Context, endpointID int64, responseStatus int, at time.Time) error

	// RotateSecret replaces the signing secret. Historical deliveries keep
	// their recorded responses; only future signatures use the new secret.
	RotateSecret(ctx context.Context, endpointID int64, newSecret string, rotatedAt time.Time) error
}

// WebhookDeliveryRepository persists per-endpoint delivery rows.
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *model.WebhookDelivery) error

	// Update rewrites the row after a resubmission (attempted_at, response,
	// retries).
	Update(ctx context.Context, delivery *model.WebhookDelivery) error

	// ListRetryable returns deliveries for the endpoint whose recorded
	// response is a transient failure and whose retries are below
	// maxAttempts.
	ListRetryable(ctx context.Context, endpointID int64, maxAttempts int) ([]*model.WebhookDelivery, error)

	ListByEndpoint(ctx context.Context, endpointID int64, limit int) ([]*model.WebhookDelivery, error)
}
