package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/billforge/billing/internal/backoff"
	domainErrors "github.com/billforge/billing/internal/domain/errors"
	"github.com/billforge/billing/internal/domain/model"
	"github.com/billforge/billing/internal/domain/provider"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestInvoiceWorkflow(repo *MockInvoiceRepository, prov *MockPaymentProvider) *InvoiceWorkflow {
	w := NewInvoiceWorkflow(repo, prov, backoff.NewPolicy(10*time.Minute, 24*time.Hour, 8), zap.NewNop())
	w.now = func() time.Time { return testNow }
	return w
}

func pendingInvoice(id int64) *model.Invoice {
	return &model.Invoice{
		ID:            id,
		AppID:         1,
		Currency:      "USD",
		Subtotal:      decimal.NewFromInt(29),
		Total:         decimal.NewFromInt(29),
		PaymentStatus: model.InvoiceStatusPending,
	}
}

func TestInvoiceWorkflow_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("successful attempt records attempt and paid event", func(t *testing.T) {
		repo := new(MockInvoiceRepository)
		prov := new(MockPaymentProvider)
		w := newTestInvoiceWorkflow(repo, prov)

		inv := pendingInvoice(7)
		inv.PaymentAttemptCount = 2

		repo.On("GetByID", ctx, int64(7)).Return(inv, nil)
		repo.On("TransitionStatus", ctx, int64(7), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
			Return(true, nil)
		prov.On("ChargeInvoice", ctx, mock.MatchedBy(func(req *provider.ChargeRequest) bool {
			return req.InvoiceID == 7 && req.IdempotencyKey == "inv:7:2"
		})).Return(&provider.ChargeResult{
			Outcome:           provider.OutcomeSucceeded,
			ProviderReference: "pi_123",
		}, nil)
		repo.On("FinishAttempt", ctx, inv, mock.MatchedBy(func(a *model.InvoicePaymentAttempt) bool {
			return a.InvoiceID == 7 && a.ResultStatus == string(provider.OutcomeSucceeded)
		}), mock.MatchedBy(func(e *model.OutboxMessage) bool {
			return e != nil && e.Type == model.EventInvoicePaid
		})).Return(nil)

		got, err := w.Retry(ctx, 7, false)

		assert.NoError(t, err)
		assert.Equal(t, model.InvoiceStatusSucceeded, got.PaymentStatus)
		assert.Equal(t, 3, got.PaymentAttemptCount)
		assert.NotNil(t, got.PaidAt)
		assert.Nil(t, got.NextRetryAt)
		repo.AssertExpectations(t)
		prov.AssertExpectations(t)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		repo := new(MockInvoiceRepository)
		prov := new(MockPaymentProvider)
		w := newTestInvoiceWorkflow(repo, prov)

		repo.On("GetByID", ctx, int64(404)).Return(nil, nil)

		_, err := w.Retry(ctx, 404, false)

		assert.ErrorIs(t, err, domainErrors.ErrInvoiceNotFound)
		prov.AssertNotCalled(t, "ChargeInvoice", mock.Anything, mock.Anything)
	})

	t.Run("terminal invoice is a no-op", func(t *testing.T) {
		repo := new(MockInvoiceRepository)
		prov := new(MockPaymentProvider)
		w := newTestInvoiceWorkflow(repo, prov)

		inv := pendingInvoice(8)
		inv.PaymentStatus = model.InvoiceStatusSucceeded
		repo.On("GetByID", ctx, int64(8)).Return(inv, nil)

		got, err := w.Retry(ctx, 8, true)

		assert.NoError(t, err)
		assert.Equal(t, model.InvoiceStatusSucceeded, got.PaymentStatus)
		prov.AssertNotCalled(t, "ChargeInvoice", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "FinishAttempt", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no attempt before next_retry_at", func(t *testing.T) {
		repo := new(MockInvoiceRepository)
		prov := new(MockPaymentProvider)
		w := newTestInvoiceWorkflow(repo, prov)

		inv := pendingInvoice(9)
		inv.PaymentStatus = model.InvoiceStatusFailed
		inv.PaymentAttemptCount = 1
		next := testNow.Add(30 * time.Minute)
		inv.NextRetryAt = &next
		repo.On("GetByID", ctx, int64(9)).Return(inv, nil)

		got, err := w.Retry(ctx, 9, false)

		assert.NoError(t, err)
		assert.Equal(t, 1, got.PaymentAttemptCount)
		prov.AssertNotCalled(t, "ChargeInvoice", mock.Anything, mock.Anything)
	})

	t.Run("force attempts regardless of schedule", func(t *testing.T) {
		repo := new(MockInvoiceRepository)
		prov := new(MockPaymentProvider)
		w := newTestInvoiceWorkflow(repo, prov)

		inv := pendingInvoice(10)
		inv.PaymentStatus = model.InvoiceStatusFailed
		inv.PaymentAttemptCount = 1
		next := testNow.Add(30 * time.Minute)
		inv.NextRetryAt = &next

		repo.On("GetByID", ctx, int64(10)).Return(inv, nil)
		repo.On("TransitionStatus", ctx, int64(10), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
			Return(true, nil)
		prov.On("ChargeInvoice", ctx, mock.Anything).Return(&provider.ChargeResult{
			Outcome: provider.OutcomeSucceeded,
		}, nil)
		repo.On("FinishAttempt", ctx, inv, mock.Anything, mock.Anything).Return(nil)

		got, err := w.Retry(ctx, 10, true)

		assert.NoError(t, err)
		assert.Equal(t, 2, got.PaymentAttemptCount)
		prov.AssertExpectations(t)
	})

	t.Run("stalled invoice only progresses when forced", func(t *testing.T) {
		repo := new(MockInvoiceRepository)
		prov := new(MockPaymentProvider)
		w := newTestInvoiceWorkflow(repo, prov)

		inv := pendingInvoice(11)
		inv.PaymentStatus = model.InvoiceStatusFailed
		inv.PaymentAttemptCount = 8 // at the cap, no retry scheduled
		repo.On("GetByID", ctx, int64(11)).Return(inv, nil)

		got, err := w.Retry(ctx, 11, false)

		assert.NoError(t, err)
		assert.Equal(t, 8, got.PaymentAttemptCount)
		prov.AssertNotCalled(t, "ChargeInvoice", mock.Anything, mock.Anything)

		repo.On("TransitionStatus", ctx, int64(11), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
			Return(true, nil)
		prov.On("ChargeInvoice", ctx, mock.Anything).Return(&provider.ChargeResult{
			Outcome: provider.OutcomeSucceeded,
		}, nil)
		repo.On("FinishAttempt", ctx, inv, mock.Anything, mock.Anything).Return(nil)

		got, err = w.Retry(ctx, 11, true)

		assert.NoError(t, err)
		assert.Equal(t, 9, got.PaymentAttemptCount)
	})

	t.Run("lost status race reloads without charging", func(t *testing.T) {
		repo := new(MockInvoiceRepository)
		prov := new(MockPaymentProvider)
		w := newTestInvoiceWorkflow(repo, prov)

		inv := pendingInvoice(12)
		repo.On("GetByID", ctx, int64(12)).Return(inv, nil)
		repo.On("TransitionStatus", ctx, int64(12), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
			Return(false, nil)

		_, err := w.Retry(ctx, 12, false)

		assert.NoError(t, err)
		prov.AssertNotCalled(t, "ChargeInvoice", mock.Anything, mock.Anything)
	})

	t.Run("transient failure schedules the next retry", func(t *testing.T) {
		repo := new(MockInvoiceRepository)
		prov := new(MockPaymentProvider)
		w := newTestInvoiceWorkflow(repo, prov)

		inv := pendingInvoice(13)
		repo.On("GetByID", ctx, int64(13)).Return(inv, nil)
		repo.On("TransitionStatus", ctx, int64(13), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
			Return(true, nil)
		prov.On("ChargeInvoice", ctx, mock.Anything).
			Return(nil, provider.NewTransientError("card_processing", "issuer unavailable"))
		repo.On("FinishAttempt", ctx, inv, mock.MatchedBy(func(a *model.InvoicePaymentAttempt) bool {
			return a.ResultStatus == string(provider.OutcomeFailed)
		}), mock.MatchedBy(func(e *model.OutboxMessage) bool {
			return e != nil && e.Type == model.EventInvoicePaymentFailed
		})).Return(nil)

		got, err := w.Retry(ctx, 13, false)

		assert.NoError(t, err)
		assert.Equal(t, model.InvoiceStatusFailed, got.PaymentStatus)
		assert.Equal(t, 1, got.PaymentAttemptCount)
		if assert.NotNil(t, got.NextRetryAt) {
			// one failed attempt: 10m base doubled once, 20% jitter either way
			delay := got.NextRetryAt.Sub(testNow)
			assert.GreaterOrEqual(t, delay, 16*time.Minute)
			assert.LessOrEqual(t, delay, 24*time.Minute)
		}
	})

	t.Run("permanent decline schedules no retry", func(t *testing.T) {
		repo := new(MockInvoiceRepository)
		prov := new(MockPaymentProvider)
		w := newTestInvoiceWorkflow(repo, prov)

		inv := pendingInvoice(14)
		repo.On("GetByID", ctx, int64(14)).Return(inv, nil)
		repo.On("TransitionStatus", ctx, int64(14), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
			Return(true, nil)
		prov.On("ChargeInvoice", ctx, mock.Anything).
			Return(nil, provider.NewPermanentError("card_declined", "insufficient funds"))
		repo.On("FinishAttempt", ctx, inv, mock.Anything, mock.Anything).Return(nil)

		got, err := w.Retry(ctx, 14, false)

		assert.NoError(t, err)
		assert.Equal(t, model.InvoiceStatusFailed, got.PaymentStatus)
		assert.Nil(t, got.NextRetryAt)
		if assert.NotNil(t, got.LastErrorCode) {
			assert.Equal(t, "card_declined", *got.LastErrorCode)
		}
	})

	t.Run("requires_action stops automatic retries", func(t *testing.T) {
		repo := new(MockInvoiceRepository)
		prov := new(MockPaymentProvider)
		w := newTestInvoiceWorkflow(repo, prov)

		inv := pendingInvoice(15)
		repo.On("GetByID", ctx, int64(15)).Return(inv, nil)
		repo.On("TransitionStatus", ctx, int64(15), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
			Return(true, nil)
		prov.On("ChargeInvoice", ctx, mock.Anything).Return(&provider.ChargeResult{
			Outcome: provider.OutcomeRequiresAction,
		}, nil)
		repo.On("FinishAttempt", ctx, inv, mock.MatchedBy(func(a *model.InvoicePaymentAttempt) bool {
			return a.RequiresAction
		}), mock.Anything).Return(nil)

		got, err := w.Retry(ctx, 15, false)

		assert.NoError(t, err)
		assert.Equal(t, model.InvoiceStatusRequiresAction, got.PaymentStatus)
		assert.True(t, got.RequiresAction)
		assert.Nil(t, got.NextRetryAt)
	})

	t.Run("cancellation mid-attempt restores the prior status", func(t *testing.T) {
		repo := new(MockInvoiceRepository)
		prov := new(MockPaymentProvider)
		w := newTestInvoiceWorkflow(repo, prov)

		cancelCtx, cancel := context.WithCancel(context.Background())

		inv := pendingInvoice(16)
		repo.On("GetByID", cancelCtx, int64(16)).Return(inv, nil)
		repo.On("TransitionStatus", cancelCtx, int64(16), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
			Return(true, nil)
		prov.On("ChargeInvoice", cancelCtx, mock.Anything).Run(func(mock.Arguments) {
			cancel()
		}).Return(nil, context.Canceled)

		// The restore must not run on the request context: it is already
		// cancelled and the write would be aborted, stranding the invoice
		// in processing.
		repo.On("TransitionStatus",
			mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }),
			int64(16),
			[]model.InvoicePaymentStatus{model.InvoiceStatusProcessing},
			model.InvoiceStatusPending,
		).Return(true, nil)

		_, err := w.Retry(cancelCtx, 16, false)

		assert.ErrorIs(t, err, context.Canceled)
		repo.AssertNotCalled(t, "FinishAttempt", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		repo.AssertExpectations(t)
	})
}

func TestInvoiceWorkflow_RetryScheduleScenario(t *testing.T) {
	// T: attempt fails with a one-hour backoff. T+30m: no-op. T+1h+1s:
	// one more attempt.
	ctx := context.Background()
	repo := new(MockInvoiceRepository)
	prov := new(MockPaymentProvider)
	w := newTestInvoiceWorkflow(repo, prov)

	inv := pendingInvoice(20)
	inv.PaymentStatus = model.InvoiceStatusFailed
	inv.PaymentAttemptCount = 1
	next := testNow.Add(time.Hour)
	inv.NextRetryAt = &next

	repo.On("GetByID", ctx, int64(20)).Return(inv, nil)

	// T+30m
	w.now = func() time.Time { return testNow.Add(30 * time.Minute) }
	_, err := w.Retry(ctx, 20, false)
	assert.NoError(t, err)
	prov.AssertNumberOfCalls(t, "ChargeInvoice", 0)

	// T+1h+1s
	w.now = func() time.Time { return testNow.Add(time.Hour + time.Second) }
	repo.On("TransitionStatus", ctx, int64(20), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
		Return(true, nil)
	prov.On("ChargeInvoice", ctx, mock.Anything).Return(&provider.ChargeResult{
		Outcome: provider.OutcomeSucceeded,
	}, nil)
	repo.On("FinishAttempt", ctx, inv, mock.Anything, mock.Anything).Return(nil)

	got, err := w.Retry(ctx, 20, false)
	assert.NoError(t, err)
	assert.Equal(t, 2, got.PaymentAttemptCount)
	prov.AssertNumberOfCalls(t, "ChargeInvoice", 1)
}

func TestInvoiceWorkflow_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels a pending invoice with an event", func(t *testing.T) {
		repo := new(MockInvoiceRepository)
		w := newTestInvoiceWorkflow(repo, new(MockPaymentProvider))

		inv := pendingInvoice(30)
		canceled := pendingInvoice(30)
		canceled.PaymentStatus = model.InvoiceStatusCanceled

		repo.On("GetByID", ctx, int64(30)).Return(inv, nil).Once()
		repo.On("Cancel", ctx, int64(30), "duplicate", testNow, mock.MatchedBy(func(e *model.OutboxMessage) bool {
			return e != nil && e.Type == model.EventInvoiceCanceled
		})).Return(true, nil)
		repo.On("GetByID", ctx, int64(30)).Return(canceled, nil)

		got, err := w.Cancel(ctx, 30, "duplicate")

		assert.NoError(t, err)
		assert.Equal(t, model.InvoiceStatusCanceled, got.PaymentStatus)
		repo.AssertExpectations(t)
	})

	t.Run("cancelling a succeeded invoice leaves it unchanged", func(t *testing.T) {
		repo := new(MockInvoiceRepository)
		w := newTestInvoiceWorkflow(repo, new(MockPaymentProvider))

		inv := pendingInvoice(31)
		inv.PaymentStatus = model.InvoiceStatusSucceeded
		repo.On("GetByID", ctx, int64(31)).Return(inv, nil)

		got, err := w.Cancel(ctx, 31, "late cancel")

		assert.NoError(t, err)
		assert.Equal(t, model.InvoiceStatusSucceeded, got.PaymentStatus)
		repo.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestInvoiceWorkflow_SweepRetryable(t *testing.T) {
	ctx := context.Background()
	repo := new(MockInvoiceRepository)
	prov := new(MockPaymentProvider)
	w := newTestInvoiceWorkflow(repo, prov)

	due := []*model.Invoice{pendingInvoice(40), pendingInvoice(41)}
	repo.On("ListRetryable", ctx, testNow, 50).Return(due, nil)
	for _, inv := range due {
		repo.On("GetByID", ctx, inv.ID).Return(inv, nil)
		repo.On("TransitionStatus", ctx, inv.ID, invoiceProcessableStatuses, model.InvoiceStatusProcessing).
			Return(true, nil)
	}
	prov.On("ChargeInvoice", ctx, mock.Anything).Return(&provider.ChargeResult{
		Outcome: provider.OutcomeSucceeded,
	}, nil)
	repo.On("FinishAttempt", ctx, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	retried, err := w.SweepRetryable(ctx, 50)

	assert.NoError(t, err)
	assert.Equal(t, 2, retried)
	prov.AssertNumberOfCalls(t, "ChargeInvoice", 2)
}
