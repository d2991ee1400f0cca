package usecase

import (
	"context"
	"time"

	"github.com/billforge/billing/internal/domain/model"
	"github.com/billforge/billing/internal/domain/provider"
	"github.com/stretchr/testify/mock"
)

// MockInvoiceRepository is a mock implementation of InvoiceRepository
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) GetByID(ctx context.Context, invoiceID int64) (*model.Invoice, error) {
	args := m.Called(ctx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) Create(ctx context.Context, invoice *model.Invoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

func (m *MockInvoiceRepository) TransitionStatus(ctx context.Context, invoiceID int64, allowed []model.InvoicePaymentStatus, to model.InvoicePaymentStatus) (bool, error) {
	args := m.Called(ctx, invoiceID, allowed, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockInvoiceRepository) FinishAttempt(ctx context.Context, invoice *model.Invoice, attempt *model.InvoicePaymentAttempt, event *model.OutboxMessage) error {
	args := m.Called(ctx, invoice, attempt, event)
	return args.Error(0)
}

func (m *MockInvoiceRepository) Cancel(ctx context.Context, invoiceID int64, reason string, canceledAt time.Time, event *model.OutboxMessage) (bool, error) {
	args := m.Called(ctx, invoiceID, reason, canceledAt, event)
	return args.Bool(0), args.Error(1)
}

func (m *MockInvoiceRepository) ListAttempts(ctx context.Context, invoiceID int64) ([]*model.InvoicePaymentAttempt, error) {
	args := m.Called(ctx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.InvoicePaymentAttempt), args.Error(1)
}

func (m *MockInvoiceRepository) ListRetryable(ctx context.Context, now time.Time, limit int) ([]*model.Invoice, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) ListBySubscription(ctx context.Context, subscriptionID int64) ([]*model.Invoice, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Invoice), args.Error(1)
}

func (m *MockInvoiceRepository) GetBySubscriptionAndPeriod(ctx context.Context, subscriptionID int64, periodStart time.Time) (*model.Invoice, error) {
	args := m.Called(ctx, subscriptionID, periodStart)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invoice), args.Error(1)
}

// MockPaymentProvider is a mock implementation of PaymentProvider
type MockPaymentProvider struct {
	mock.Mock
}

func (m *MockPaymentProvider) ChargeInvoice(ctx context.Context, req *provider.ChargeRequest) (*provider.ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.ChargeResult), args.Error(1)
}

func (m *MockPaymentProvider) GetProviderName() string {
	args := m.Called()
	return args.String(0)
}

// MockSubscriptionRepository is a mock implementation of SubscriptionRepository
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) GetByID(ctx context.Context, subscriptionID int64) (*model.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, sub *model.Subscription, items []model.SubscriptionItem, changeLog *model.SubscriptionChangeLog, event *model.OutboxMessage) error {
	args := m.Called(ctx, sub, items, changeLog, event)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) ReplaceItemsAndUpdate(ctx context.Context, sub *model.Subscription, items []model.SubscriptionItem, changeLog *model.SubscriptionChangeLog, event *model.OutboxMessage) error {
	args := m.Called(ctx, sub, items, changeLog, event)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) Cancel(ctx context.Context, subscriptionID int64, endAt time.Time, reason string, changeLog *model.SubscriptionChangeLog, event *model.OutboxMessage) (bool, error) {
	args := m.Called(ctx, subscriptionID, endAt, reason, changeLog, event)
	return args.Bool(0), args.Error(1)
}

func (m *MockSubscriptionRepository) RecordRenewal(ctx context.Context, sub *model.Subscription, fromPeriodStart time.Time, invoice *model.Invoice, changeLog *model.SubscriptionChangeLog, event *model.OutboxMessage) (bool, error) {
	args := m.Called(ctx, sub, fromPeriodStart, invoice, changeLog, event)
	return args.Bool(0), args.Error(1)
}

func (m *MockSubscriptionRepository) RecordRenewalFailure(ctx context.Context, subscriptionID int64, attemptCount int, nextRenewAt *time.Time, needsAttention bool) error {
	args := m.Called(ctx, subscriptionID, attemptCount, nextRenewAt, needsAttention)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) ListChangeLogs(ctx context.Context, subscriptionID int64) ([]*model.SubscriptionChangeLog, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.SubscriptionChangeLog), args.Error(1)
}

func (m *MockSubscriptionRepository) ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]*model.Subscription, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Subscription), args.Error(1)
}

// MockPlanRepository is a mock implementation of PlanRepository
type MockPlanRepository struct {
	mock.Mock
}

func (m *MockPlanRepository) GetByID(ctx context.Context, planID int64) (*model.Plan, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Plan), args.Error(1)
}

func (m *MockPlanRepository) ListByApp(ctx context.Context, appID int64) ([]*model.Plan, error) {
	args := m.Called(ctx, appID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Plan), args.Error(1)
}

// MockWebhookEndpointRepository is a mock implementation of WebhookEndpointRepository
type MockWebhookEndpointRepository struct {
	mock.Mock
}

func (m *MockWebhookEndpointRepository) GetByID(ctx context.Context, endpointID int64) (*model.WebhookEndpoint, error) {
	args := m.Called(ctx, endpointID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookEndpoint), args.Error(1)
}

func (m *MockWebhookEndpointRepository) ListActive(ctx context.Context) ([]*model.WebhookEndpoint, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WebhookEndpoint), args.Error(1)
}

func (m *MockWebhookEndpointRepository) UpdateDeliveryStatus(ctx context.Context, endpointID int64, responseStatus int, at time.Time) error {
	args := m.Called(ctx, endpointID, responseStatus, at)
	return args.Error(0)
}

func (m *MockWebhookEndpointRepository) RotateSecret(ctx context.Context, endpointID int64, secret string, rotatedAt time.Time) error {
	args := m.Called(ctx, endpointID, secret, rotatedAt)
	return args.Error(0)
}

// MockWebhookDeliveryRepository is a mock implementation of WebhookDeliveryRepository
type MockWebhookDeliveryRepository struct {
	mock.Mock
}

func (m *MockWebhookDeliveryRepository) Create(ctx context.Context, delivery *model.WebhookDelivery) error {
	args := m.Called(ctx, delivery)
	return args.Error(0)
}

func (m *MockWebhookDeliveryRepository) Update(ctx context.Context, delivery *model.WebhookDelivery) error {
	args := m.Called(ctx, delivery)
	return args.Error(0)
}

func (m *MockWebhookDeliveryRepository) ListRetryable(ctx context.Context, endpointID int64, maxAttempts int) ([]*model.WebhookDelivery, error) {
	args := m.Called(ctx, endpointID, maxAttempts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WebhookDelivery), args.Error(1)
}

func (m *MockWebhookDeliveryRepository) ListByEndpoint(ctx context.Context, endpointID int64, limit int) ([]*model.WebhookDelivery, error) {
	args := m.Called(ctx, endpointID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WebhookDelivery), args.Error(1)
}

// MockOutboxRepository is a mock implementation of OutboxRepository
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Enqueue(ctx context.Context, message *model.OutboxMessage) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, take int, olderThanUtc time.Time) ([]*model.OutboxMessage, error) {
	args := m.Called(ctx, take, olderThanUtc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.OutboxMessage), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, messageID int64, processedAtUtc time.Time) error {
	args := m.Called(ctx, messageID, processedAtUtc)
	return args.Error(0)
}

func (m *MockOutboxRepository) IncrementRetry(ctx context.Context, messageID int64) (int, error) {
	args := m.Called(ctx, messageID)
	return args.Int(0), args.Error(1)
}

func (m *MockOutboxRepository) CleanupProcessed(ctx context.Context, olderThanUtc time.Time) (int64, error) {
	args := m.Called(ctx, olderThanUtc)
	return args.Get(0).(int64), args.Error(1)
}
