package database

import (
	"github.com/billforge/billing/internal/adapter/repository"
	domainRepo "github.com/billforge/billing/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repositories holds all repository instances
type Repositories struct {
	Invoice         domainRepo.InvoiceRepository
	Subscription    domainRepo.SubscriptionRepository
	Plan            domainRepo.PlanRepository
	Outbox          domainRepo.OutboxRepository
	WebhookEndpoint domainRepo.WebhookEndpointRepository
	WebhookDelivery domainRepo.WebhookDeliveryRepository
}

// NewRepositories creates new repository instances with database connection
func NewRepositories(db *gorm.DB, logger *zap.Logger) *Repositories {
	return &Repositories{
		Invoice:         repository.NewInvoiceRepository(db, logger),
		Subscription:    repository.NewSubscriptionRepository(db, logger),
		Plan:            repository.NewPlanRepository(db, logger),
		Outbox:          repository.NewOutboxRepository(db, logger),
		WebhookEndpoint: repository.NewWebhookEndpointRepository(db, logger),
		WebhookDelivery: repository.NewWebhookDeliveryRepository(db, logger),
	}
}
