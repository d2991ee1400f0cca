package repository

import (
	"context"
	"time"

	"github.com/billforge/billing/internal/domain/model"
)

// InvoiceRepository persists invoices, their append-only attempt log and
// the outbox rows describing their transitions. Multi-row writes happen in
// one database transaction.
type InvoiceRepository interface {
	GetByID(ctx context.Context, invoiceID int64) (*model.Invoice, error)
	Create(ctx context.Context, invoice *model.Invoice) error

	// TransitionStatus conditionally moves the invoice from one of the
	// allowed statuses to the target status. Returns false when another
	// caller won the race or the status changed underneath.
	TransitionStatus(ctx context.Context, invoiceID int64, allowed []model.InvoicePaymentStatus, to model.InvoicePaymentStatus) (bool, error)

	// FinishAttempt appends the attempt row, applies the invoice field
	// updates and, when event is non-nil, enqueues it, all in one
	// transaction.
	FinishAttempt(ctx context.Context, invoice *model.Invoice, attempt *model.InvoicePaymentAttempt, event *model.OutboxMessage) error

	// Cancel conditionally transitions a non-terminal invoice to canceled
	// and enqueues event in the same transaction. Returns false when the
	// invoice was already terminal.
	Cancel(ctx context.Context, invoiceID int64, reason string, canceledAt time.Time, event *model.OutboxMessage) (bool, error)

	// ListAttempts returns the attempt log ordered by attempted_at ascending.
	ListAttempts(ctx context.Context, invoiceID int64) ([]*model.InvoicePaymentAttempt, error)

	// ListRetryable returns non-terminal invoices whose next_retry_at has
	// passed, for the retry sweep.
	ListRetryable(ctx context.Context, now time.Time, limit int) ([]*model.Invoice, error)

	ListBySubscription(ctx context.Context, subscriptionID int64) ([]*model.Invoice, error)

	// GetBySubscriptionAndPeriod finds the invoice covering the period
	// starting at periodStart, so a repeated renewal attempt reuses the
	// invoice it already opened.
	GetBySubscriptionAndPeriod(ctx context.Context, subscriptionID int64, periodStart time.Time) (*model.Invoice, error)
}
