package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/billforge/billing/internal/backoff"
	domainErrors "github.com/billforge/billing/internal/domain/errors"
	"github.com/billforge/billing/internal/domain/model"
	"github.com/billforge/billing/internal/domain/provider"
	"github.com/billforge/billing/internal/domain/repository"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// invoiceProcessableStatuses are the statuses a retry may move into
// processing from. Processing itself is included so a crashed attempt can
// be picked up again.
var invoiceProcessableStatuses = []model.InvoicePaymentStatus{
	model.InvoiceStatusPending,
	model.InvoiceStatusFailed,
	model.InvoiceStatusRequiresAction,
	model.InvoiceStatusProcessing,
}

// InvoiceWorkflow drives an invoice through payment attempts. All provider
// failures are absorbed into invoice state; only validation and not-found
// errors reach the caller.
type InvoiceWorkflow struct {
	invoiceRepo repository.InvoiceRepository
	provider    provider.PaymentProvider
	policy      *backoff.Policy
	logger      *zap.Logger
	now         func() time.Time
}

// NewInvoiceWorkflow creates a new invoice payment workflow
func NewInvoiceWorkflow(
	invoiceRepo repository.InvoiceRepository,
	paymentProvider provider.PaymentProvider,
	policy *backoff.Policy,
	logger *zap.Logger,
) *InvoiceWorkflow {
	return &InvoiceWorkflow{
		invoiceRepo: invoiceRepo,
		provider:    paymentProvider,
		policy:      policy,
		logger:      logger,
		now:         time.Now,
	}
}

// Retry performs one payment attempt against the provider if the invoice
// is eligible. Ineligible calls (terminal status, backoff not elapsed,
// stalled after the attempt cap, lost race) return the current invoice
// unchanged. force bypasses the eligibility check for this call only.
func (w *InvoiceWorkflow) Retry(ctx context.Context, invoiceID int64, force bool) (*model.Invoice, error) {
	inv, err := w.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domainErrors.ErrInvoiceNotFound
	}

	if inv.PaymentStatus.Terminal() {
		return inv, nil
	}

	now := w.now().UTC()

	if !force {
		// Stalled invoices stopped scheduling retries at the attempt cap
		// and only progress through a forced call.
		if w.policy.Exhausted(inv.PaymentAttemptCount) {
			return inv, nil
		}
		if !backoff.Eligible(now, inv.NextRetryAt, false) {
			return inv, nil
		}
	}

	// Conditional transition to processing is the mutual-exclusion guard.
	// Losing the race is a safe no-op, not an error.
	ok, err := w.invoiceRepo.TransitionStatus(ctx, invoiceID, invoiceProcessableStatuses, model.InvoiceStatusProcessing)
	if err != nil {
		return nil, err
	}
	if !ok {
		w.logger.Info("invoice retry lost status race",
			zap.Int64("invoice_id", invoiceID))
		return w.invoiceRepo.GetByID(ctx, invoiceID)
	}

	priorStatus := inv.PaymentStatus

	// The idempotency key is derived from the attempt count, so a
	// duplicated call can never double-charge.
	result, chargeErr := w.provider.ChargeInvoice(ctx, &provider.ChargeRequest{
		InvoiceID:      inv.ID,
		Amount:         inv.Total,
		Currency:       inv.Currency,
		IdempotencyKey: fmt.Sprintf("inv:%d:%d", inv.ID, inv.PaymentAttemptCount),
		Description:    fmt.Sprintf("invoice %d", inv.ID),
	})

	if chargeErr != nil && ctx.Err() != nil {
		// Cancellation before the attempt completed: restore the prior
		// status so the invoice is back in its pre-attempt state. The
		// restore runs on a detached context; the cancelled one would
		// abort the write and strand the invoice in processing.
		if _, restoreErr := w.invoiceRepo.TransitionStatus(context.WithoutCancel(ctx),
			invoiceID,
			[]model.InvoicePaymentStatus{model.InvoiceStatusProcessing},
			priorStatus,
		); restoreErr != nil {
			w.logger.Error("failed to restore invoice status after cancellation",
				zap.Int64("invoice_id", invoiceID),
				zap.Error(restoreErr))
		}
		return nil, ctx.Err()
	}

	if chargeErr != nil {
		result = chargeResultFromError(chargeErr)
	}

	attempt := &model.InvoicePaymentAttempt{
		InvoiceID:      inv.ID,
		AttemptedAt:    now,
		Amount:         inv.Total,
		Currency:       inv.Currency,
		ResultStatus:   string(result.Outcome),
		RequiresAction: result.Outcome == provider.OutcomeRequiresAction,
	}
	if result.ProviderReference != "" {
		attempt.ProviderReference = &result.ProviderReference
	}
	if result.ResponseCode != "" {
		attempt.ResponseCode = &result.ResponseCode
	}
	if result.ResponseMessage != "" {
		attempt.ResponseMessage = &result.ResponseMessage
	}

	inv.PaymentAttemptCount++
	inv.LastAttemptAt = &now

	var event *model.OutboxMessage
	switch result.Outcome {
	case provider.OutcomeSucceeded:
		inv.PaymentStatus = model.InvoiceStatusSucceeded
		paidAt := now
		if result.PaidAt != nil {
			paidAt = *result.PaidAt
		}
		inv.PaidAt = &paidAt
		inv.RequiresAction = false
		inv.NextRetryAt = nil
		if result.ProviderReference != "" {
			inv.PaymentReference = &result.ProviderReference
		}
		event = newOutboxMessage(model.EventInvoicePaid, now, datatypes.JSONMap{
			"invoice_id":      inv.ID,
			"subscription_id": inv.SubscriptionID,
			"amount":          inv.Total.String(),
			"currency":        inv.Currency,
		})

	case provider.OutcomeRequiresAction:
		inv.PaymentStatus = model.InvoiceStatusRequiresAction
		inv.RequiresAction = true
		inv.NextRetryAt = nil

	default:
		inv.PaymentStatus = model.InvoiceStatusFailed
		inv.FailedAt = &now
		if result.ResponseCode != "" {
			inv.LastErrorCode = &result.ResponseCode
		}
		if result.ResponseMessage != "" {
			inv.LastErrorMessage = &result.ResponseMessage
		}
		if !result.Transient || w.policy.Exhausted(inv.PaymentAttemptCount) {
			// Permanent declines and stalled invoices schedule no retry
			// time; an operator has to force the next attempt.
			inv.NextRetryAt = nil
		} else {
			next := w.policy.NextRetryAt(inv.PaymentAttemptCount, now)
			inv.NextRetryAt = &next
		}
		event = newOutboxMessage(model.EventInvoicePaymentFailed, now, datatypes.JSONMap{
			"invoice_id":    inv.ID,
			"attempt_count": inv.PaymentAttemptCount,
			"error_code":    result.ResponseCode,
		})
	}

	if err := w.invoiceRepo.FinishAttempt(ctx, inv, attempt, event); err != nil {
		w.logger.Error("failed to record payment attempt",
			zap.Int64("invoice_id", inv.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to record payment attempt: %w", err)
	}

	w.logger.Info("invoice payment attempt recorded",
		zap.Int64("invoice_id", inv.ID),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("attempt_count", inv.PaymentAttemptCount),
		zap.Bool("forced", force))

	return inv, nil
}

// Cancel transitions a non-terminal invoice to canceled. Calling it on a
// succeeded or canceled invoice returns the current state unchanged.
func (w *InvoiceWorkflow) Cancel(ctx context.Context, invoiceID int64, reason string) (*model.Invoice, error) {
	inv, err := w.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domainErrors.ErrInvoiceNotFound
	}

	if inv.PaymentStatus.Terminal() {
		return inv, nil
	}

	now := w.now().UTC()
	event := newOutboxMessage(model.EventInvoiceCanceled, now, datatypes.JSONMap{
		"invoice_id": inv.ID,
		"reason":     reason,
	})

	ok, err := w.invoiceRepo.Cancel(ctx, invoiceID, reason, now, event)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another caller reached a terminal state first.
		return w.invoiceRepo.GetByID(ctx, invoiceID)
	}

	w.logger.Info("invoice canceled",
		zap.Int64("invoice_id", invoiceID),
		zap.String("reason", reason))

	return w.invoiceRepo.GetByID(ctx, invoiceID)
}

// Attempts returns the attempt log ordered by attempted_at ascending.
func (w *InvoiceWorkflow) Attempts(ctx context.Context, invoiceID int64) ([]*model.InvoicePaymentAttempt, error) {
	inv, err := w.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domainErrors.ErrInvoiceNotFound
	}
	return w.invoiceRepo.ListAttempts(ctx, invoiceID)
}

// SweepRetryable retries every invoice whose backoff has elapsed. Invoked
// by the polling driver, never by the workflow itself.
func (w *InvoiceWorkflow) SweepRetryable(ctx context.Context, limit int) (int, error) {
	due, err := w.invoiceRepo.ListRetryable(ctx, w.now().UTC(), limit)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, inv := range due {
		if _, err := w.Retry(ctx, inv.ID, false); err != nil {
			w.logger.Error("sweep retry failed",
				zap.Int64("invoice_id", inv.ID),
				zap.Error(err))
			continue
		}
		retried++
	}
	return retried, nil
}

// chargeResultFromError turns a provider error into a recordable result.
func chargeResultFromError(err error) *provider.ChargeResult {
	var pErr *provider.Error
	if errors.As(err, &pErr) {
		return &provider.ChargeResult{
			Outcome:         provider.OutcomeFailed,
			ResponseCode:    pErr.Code,
			ResponseMessage: pErr.Message,
			Transient:       pErr.Transient,
		}
	}
	return &provider.ChargeResult{
		Outcome:         provider.OutcomeFailed,
		ResponseCode:    "provider_error",
		ResponseMessage: err.Error(),
		Transient:       true,
	}
}

func newOutboxMessage(eventType string, occurredAt time.Time, payload datatypes.JSONMap) *model.OutboxMessage {
	return &model.OutboxMessage{
		Type:       eventType,
		Payload:    payload,
		OccurredAt: occurredAt,
	}
}
