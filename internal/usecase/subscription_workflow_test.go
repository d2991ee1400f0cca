package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/billforge/billing/internal/backoff"
	domainErrors "github.com/billforge/billing/internal/domain/errors"
	"github.com/billforge/billing/internal/domain/model"
	"github.com/billforge/billing/internal/domain/provider"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type subscriptionFixture struct {
	subRepo  *MockSubscriptionRepository
	planRepo *MockPlanRepository
	invRepo  *MockInvoiceRepository
	prov     *MockPaymentProvider
	workflow *SubscriptionWorkflow
}

func newSubscriptionFixture() *subscriptionFixture {
	f := &subscriptionFixture{
		subRepo:  new(MockSubscriptionRepository),
		planRepo: new(MockPlanRepository),
		invRepo:  new(MockInvoiceRepository),
		prov:     new(MockPaymentProvider),
	}
	invoices := NewInvoiceWorkflow(f.invRepo, f.prov, backoff.NewPolicy(10*time.Minute, 24*time.Hour, 8), zap.NewNop())
	invoices.now = func() time.Time { return testNow }
	f.workflow = NewSubscriptionWorkflow(f.subRepo, f.planRepo, f.invRepo, invoices,
		backoff.NewPolicy(10*time.Minute, 24*time.Hour, 5), zap.NewNop())
	f.workflow.now = func() time.Time { return testNow }
	return f
}

func monthlyPlan(id, appID int64, trialDays int) *model.Plan {
	return &model.Plan{
		ID:        id,
		AppID:     appID,
		Name:      "Pro",
		Currency:  "USD",
		UnitPrice: decimal.NewFromInt(29),
		Interval:  "month",
		TrialDays: trialDays,
		IsActive:  true,
		FeatureLimits: []model.PlanFeatureLimit{
			{PlanID: id, FeatureCode: "api_calls", LimitValue: 10000},
			{PlanID: id, FeatureCode: "seats", LimitValue: 5},
		},
	}
}

func activeSubscription(id int64) *model.Subscription {
	renewAt := testNow.Add(-time.Minute)
	return &model.Subscription{
		ID:                 id,
		AppID:              1,
		UserID:             uuid.New(),
		PlanID:             10,
		Status:             model.SubscriptionStatusActive,
		Currency:           "USD",
		UnitPrice:          decimal.NewFromInt(29),
		StartAt:            testNow.AddDate(0, -1, 0),
		CurrentPeriodStart: testNow.AddDate(0, -1, 0),
		CurrentPeriodEnd:   testNow,
		RenewalPolicy:      model.RenewalPolicyAuto,
		RenewAt:            &renewAt,
	}
}

func TestSubscriptionWorkflow_Start(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()

	t.Run("plan without trial starts active", func(t *testing.T) {
		f := newSubscriptionFixture()
		plan := monthlyPlan(10, 1, 0)
		f.planRepo.On("GetByID", ctx, int64(10)).Return(plan, nil)
		f.subRepo.On("Create", ctx, mock.Anything,
			mock.MatchedBy(func(items []model.SubscriptionItem) bool {
				return len(items) == 2
			}),
			mock.MatchedBy(func(cl *model.SubscriptionChangeLog) bool {
				return cl.ChangeType == model.ChangeTypeCreated
			}),
			mock.MatchedBy(func(e *model.OutboxMessage) bool {
				return e != nil && e.Type == model.EventSubscriptionCreated
			})).Return(nil)

		sub, err := f.workflow.Start(ctx, &StartSubscriptionRequest{
			AppID: 1, UserID: uuid.New(), PlanID: 10,
		}, actor)

		assert.NoError(t, err)
		assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
		assert.Nil(t, sub.TrialEndsAt)
		assert.Equal(t, model.RenewalPolicyAuto, sub.RenewalPolicy)
		if assert.NotNil(t, sub.RenewAt) {
			assert.Equal(t, sub.CurrentPeriodEnd, *sub.RenewAt)
		}
		f.subRepo.AssertExpectations(t)
	})

	t.Run("plan with trial starts in trial", func(t *testing.T) {
		f := newSubscriptionFixture()
		plan := monthlyPlan(11, 1, 14)
		f.planRepo.On("GetByID", ctx, int64(11)).Return(plan, nil)
		f.subRepo.On("Create", ctx, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		sub, err := f.workflow.Start(ctx, &StartSubscriptionRequest{
			AppID: 1, UserID: uuid.New(), PlanID: 11,
		}, actor)

		assert.NoError(t, err)
		assert.Equal(t, model.SubscriptionStatusTrial, sub.Status)
		if assert.NotNil(t, sub.TrialEndsAt) {
			assert.Equal(t, testNow.AddDate(0, 0, 14), *sub.TrialEndsAt)
		}
	})

	t.Run("inactive plan is rejected", func(t *testing.T) {
		f := newSubscriptionFixture()
		plan := monthlyPlan(12, 1, 0)
		plan.IsActive = false
		f.planRepo.On("GetByID", ctx, int64(12)).Return(plan, nil)

		_, err := f.workflow.Start(ctx, &StartSubscriptionRequest{
			AppID: 1, UserID: uuid.New(), PlanID: 12,
		}, actor)

		assert.True(t, domainErrors.IsValidation(err))
		f.subRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("plan of another app is rejected", func(t *testing.T) {
		f := newSubscriptionFixture()
		f.planRepo.On("GetByID", ctx, int64(13)).Return(monthlyPlan(13, 2, 0), nil)

		_, err := f.workflow.Start(ctx, &StartSubscriptionRequest{
			AppID: 1, UserID: uuid.New(), PlanID: 13,
		}, actor)

		assert.True(t, domainErrors.IsValidation(err))
	})
}

func TestSubscriptionWorkflow_ChangePlan(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()

	t.Run("writes exactly one plan_changed row with both amounts", func(t *testing.T) {
		f := newSubscriptionFixture()
		sub := activeSubscription(1)
		newPlan := monthlyPlan(20, 1, 0)
		newPlan.UnitPrice = decimal.NewFromInt(59)

		f.subRepo.On("GetByID", ctx, int64(1)).Return(sub, nil)
		f.planRepo.On("GetByID", ctx, int64(20)).Return(newPlan, nil)
		f.subRepo.On("ReplaceItemsAndUpdate", ctx, sub,
			mock.MatchedBy(func(items []model.SubscriptionItem) bool {
				return len(items) == 2 && items[0].SubscriptionID == 1
			}),
			mock.MatchedBy(func(cl *model.SubscriptionChangeLog) bool {
				return cl.ChangeType == model.ChangeTypePlanChanged &&
					cl.OldPlanID != nil && *cl.OldPlanID == 10 &&
					cl.NewPlanID != nil && *cl.NewPlanID == 20 &&
					cl.OldAmount != nil && cl.OldAmount.Equal(decimal.NewFromInt(29)) &&
					cl.NewAmount != nil && cl.NewAmount.Equal(decimal.NewFromInt(59))
			}),
			mock.MatchedBy(func(e *model.OutboxMessage) bool {
				return e != nil && e.Type == model.EventSubscriptionPlanChanged
			})).Return(nil)

		got, err := f.workflow.ChangePlan(ctx, 1, 20, actor, "upgrade")

		assert.NoError(t, err)
		assert.Equal(t, int64(20), got.PlanID)
		assert.True(t, got.UnitPrice.Equal(decimal.NewFromInt(59)))
		f.subRepo.AssertExpectations(t)
	})

	t.Run("canceled subscription is returned unchanged", func(t *testing.T) {
		f := newSubscriptionFixture()
		sub := activeSubscription(2)
		sub.Status = model.SubscriptionStatusCanceled
		f.subRepo.On("GetByID", ctx, int64(2)).Return(sub, nil)

		got, err := f.workflow.ChangePlan(ctx, 2, 20, actor, "")

		assert.NoError(t, err)
		assert.Equal(t, int64(10), got.PlanID)
		f.planRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})

	t.Run("plan of another app is rejected", func(t *testing.T) {
		f := newSubscriptionFixture()
		f.subRepo.On("GetByID", ctx, int64(3)).Return(activeSubscription(3), nil)
		f.planRepo.On("GetByID", ctx, int64(21)).Return(monthlyPlan(21, 9, 0), nil)

		_, err := f.workflow.ChangePlan(ctx, 3, 21, actor, "")

		assert.True(t, domainErrors.IsValidation(err))
		f.subRepo.AssertNotCalled(t, "ReplaceItemsAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSubscriptionWorkflow_Cancel(t *testing.T) {
	ctx := context.Background()
	actor := uuid.New()

	t.Run("defaults to immediate cancellation", func(t *testing.T) {
		f := newSubscriptionFixture()
		sub := activeSubscription(1)
		f.subRepo.On("GetByID", ctx, int64(1)).Return(sub, nil)
		f.subRepo.On("Cancel", ctx, int64(1), testNow, "no longer needed",
			mock.MatchedBy(func(cl *model.SubscriptionChangeLog) bool {
				return cl.ChangeType == model.ChangeTypeCancelled
			}),
			mock.MatchedBy(func(e *model.OutboxMessage) bool {
				return e != nil && e.Type == model.EventSubscriptionCanceled
			})).Return(true, nil)

		err := f.workflow.Cancel(ctx, 1, nil, actor, "no longer needed")

		assert.NoError(t, err)
		f.subRepo.AssertExpectations(t)
	})

	t.Run("already cancelled is a no-op", func(t *testing.T) {
		f := newSubscriptionFixture()
		sub := activeSubscription(2)
		sub.Status = model.SubscriptionStatusCanceled
		f.subRepo.On("GetByID", ctx, int64(2)).Return(sub, nil)

		err := f.workflow.Cancel(ctx, 2, nil, actor, "again")

		assert.NoError(t, err)
		f.subRepo.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown subscription", func(t *testing.T) {
		f := newSubscriptionFixture()
		f.subRepo.On("GetByID", ctx, int64(404)).Return(nil, nil)

		err := f.workflow.Cancel(ctx, 404, nil, actor, "")

		assert.ErrorIs(t, err, domainErrors.ErrSubscriptionNotFound)
	})
}

func TestSubscriptionWorkflow_Renew(t *testing.T) {
	ctx := context.Background()

	t.Run("successful renewal advances the period", func(t *testing.T) {
		f := newSubscriptionFixture()
		sub := activeSubscription(1)
		periodStart := sub.CurrentPeriodEnd

		f.subRepo.On("GetByID", ctx, int64(1)).Return(sub, nil)
		f.invRepo.On("GetBySubscriptionAndPeriod", ctx, int64(1), periodStart).Return(nil, nil)
		f.invRepo.On("Create", ctx, mock.MatchedBy(func(inv *model.Invoice) bool {
			return inv.SubscriptionID != nil && *inv.SubscriptionID == 1 &&
				inv.PeriodStart.Equal(periodStart) &&
				inv.PaymentStatus == model.InvoiceStatusPending
		})).Run(func(args mock.Arguments) {
			args.Get(1).(*model.Invoice).ID = 100
		}).Return(nil)

		created := pendingInvoice(100)
		created.SubscriptionID = &sub.ID
		created.PeriodStart = periodStart
		f.invRepo.On("GetByID", ctx, int64(100)).Return(created, nil)
		f.invRepo.On("TransitionStatus", ctx, int64(100), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
			Return(true, nil)
		f.prov.On("ChargeInvoice", ctx, mock.Anything).Return(&provider.ChargeResult{
			Outcome: provider.OutcomeSucceeded,
		}, nil)
		f.invRepo.On("FinishAttempt", ctx, created, mock.Anything, mock.Anything).Return(nil)

		f.subRepo.On("RecordRenewal", ctx, sub, sub.CurrentPeriodStart, (*model.Invoice)(nil),
			mock.MatchedBy(func(cl *model.SubscriptionChangeLog) bool {
				return cl.ChangeType == model.ChangeTypeRenewed
			}),
			mock.MatchedBy(func(e *model.OutboxMessage) bool {
				return e != nil && e.Type == model.EventSubscriptionRenewed
			})).Return(true, nil)

		got, err := f.workflow.Renew(ctx, 1, false)

		assert.NoError(t, err)
		assert.Equal(t, periodStart, got.CurrentPeriodStart)
		assert.Equal(t, periodStart.AddDate(0, 1, 0), got.CurrentPeriodEnd)
		assert.Equal(t, 0, got.RenewalAttemptCount)
		assert.False(t, got.NeedsAttention)
		if assert.NotNil(t, got.LastInvoiceID) {
			assert.Equal(t, int64(100), *got.LastInvoiceID)
		}
		f.subRepo.AssertExpectations(t)
	})

	t.Run("failed charge schedules the next renewal attempt", func(t *testing.T) {
		f := newSubscriptionFixture()
		sub := activeSubscription(2)
		periodStart := sub.CurrentPeriodEnd

		open := pendingInvoice(200)
		open.SubscriptionID = &sub.ID
		open.PeriodStart = periodStart

		f.subRepo.On("GetByID", ctx, int64(2)).Return(sub, nil)
		f.invRepo.On("GetBySubscriptionAndPeriod", ctx, int64(2), periodStart).Return(open, nil)
		f.invRepo.On("GetByID", ctx, int64(200)).Return(open, nil)
		f.invRepo.On("TransitionStatus", ctx, int64(200), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
			Return(true, nil)
		f.prov.On("ChargeInvoice", ctx, mock.Anything).
			Return(nil, provider.NewTransientError("card_processing", "issuer unavailable"))
		f.invRepo.On("FinishAttempt", ctx, open, mock.Anything, mock.Anything).Return(nil)

		f.subRepo.On("RecordRenewalFailure", ctx, int64(2), 1,
			mock.MatchedBy(func(next *time.Time) bool {
				return next != nil && next.After(testNow)
			}), false).Return(nil)

		_, err := f.workflow.Renew(ctx, 2, false)

		assert.NoError(t, err)
		f.subRepo.AssertExpectations(t)
		f.subRepo.AssertNotCalled(t, "RecordRenewal", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("exhausted renewal attempts flag for attention", func(t *testing.T) {
		f := newSubscriptionFixture()
		sub := activeSubscription(3)
		sub.RenewalAttemptCount = 4 // one below the cap of 5
		periodStart := sub.CurrentPeriodEnd

		open := pendingInvoice(300)
		open.SubscriptionID = &sub.ID
		open.PeriodStart = periodStart

		f.subRepo.On("GetByID", ctx, int64(3)).Return(sub, nil)
		f.invRepo.On("GetBySubscriptionAndPeriod", ctx, int64(3), periodStart).Return(open, nil)
		f.invRepo.On("GetByID", ctx, int64(300)).Return(open, nil)
		f.invRepo.On("TransitionStatus", ctx, int64(300), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
			Return(true, nil)
		f.prov.On("ChargeInvoice", ctx, mock.Anything).
			Return(nil, provider.NewTransientError("card_processing", "issuer unavailable"))
		f.invRepo.On("FinishAttempt", ctx, open, mock.Anything, mock.Anything).Return(nil)

		f.subRepo.On("RecordRenewalFailure", ctx, int64(3), 5, (*time.Time)(nil), true).Return(nil)

		_, err := f.workflow.Renew(ctx, 3, false)

		assert.NoError(t, err)
		f.subRepo.AssertExpectations(t)
	})

	t.Run("lost period race writes no change log", func(t *testing.T) {
		f := newSubscriptionFixture()
		sub := activeSubscription(7)
		periodStart := sub.CurrentPeriodEnd

		open := pendingInvoice(700)
		open.SubscriptionID = &sub.ID
		open.PeriodStart = periodStart

		f.subRepo.On("GetByID", ctx, int64(7)).Return(sub, nil)
		f.invRepo.On("GetBySubscriptionAndPeriod", ctx, int64(7), periodStart).Return(open, nil)
		f.invRepo.On("GetByID", ctx, int64(700)).Return(open, nil)
		f.invRepo.On("TransitionStatus", ctx, int64(700), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
			Return(true, nil)
		f.prov.On("ChargeInvoice", ctx, mock.Anything).Return(&provider.ChargeResult{
			Outcome: provider.OutcomeSucceeded,
		}, nil)
		f.invRepo.On("FinishAttempt", ctx, open, mock.Anything, mock.Anything).Return(nil)

		// A concurrent renewal advanced the period between the snapshot
		// read and the commit: the guarded update affects zero rows.
		f.subRepo.On("RecordRenewal", ctx, sub, sub.CurrentPeriodStart, (*model.Invoice)(nil),
			mock.Anything, mock.Anything).Return(false, nil)

		got, err := f.workflow.Renew(ctx, 7, false)

		assert.NoError(t, err)
		assert.NotNil(t, got)
		f.subRepo.AssertNumberOfCalls(t, "RecordRenewal", 1)
	})

	t.Run("renewal_policy none is a no-op", func(t *testing.T) {
		f := newSubscriptionFixture()
		sub := activeSubscription(4)
		sub.RenewalPolicy = model.RenewalPolicyNone
		f.subRepo.On("GetByID", ctx, int64(4)).Return(sub, nil)

		got, err := f.workflow.Renew(ctx, 4, false)

		assert.NoError(t, err)
		assert.Equal(t, sub, got)
		f.invRepo.AssertNotCalled(t, "GetBySubscriptionAndPeriod", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("renew before renew_at is a no-op without force", func(t *testing.T) {
		f := newSubscriptionFixture()
		sub := activeSubscription(5)
		renewAt := testNow.Add(48 * time.Hour)
		sub.RenewAt = &renewAt
		f.subRepo.On("GetByID", ctx, int64(5)).Return(sub, nil)

		_, err := f.workflow.Renew(ctx, 5, false)

		assert.NoError(t, err)
		f.invRepo.AssertNotCalled(t, "GetBySubscriptionAndPeriod", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSubscriptionWorkflow_RenewReusesOpenInvoice(t *testing.T) {
	// A crashed previous renewal left a pending invoice for the period;
	// the next run must reuse it rather than open a second one.
	ctx := context.Background()
	f := newSubscriptionFixture()
	sub := activeSubscription(6)
	periodStart := sub.CurrentPeriodEnd

	open := pendingInvoice(600)
	open.SubscriptionID = &sub.ID
	open.PeriodStart = periodStart

	f.subRepo.On("GetByID", ctx, int64(6)).Return(sub, nil)
	f.invRepo.On("GetBySubscriptionAndPeriod", ctx, int64(6), periodStart).Return(open, nil)
	f.invRepo.On("GetByID", ctx, int64(600)).Return(open, nil)
	f.invRepo.On("TransitionStatus", ctx, int64(600), invoiceProcessableStatuses, model.InvoiceStatusProcessing).
		Return(true, nil)
	f.prov.On("ChargeInvoice", ctx, mock.Anything).Return(&provider.ChargeResult{
		Outcome: provider.OutcomeSucceeded,
	}, nil)
	f.invRepo.On("FinishAttempt", ctx, open, mock.Anything, mock.Anything).Return(nil)
	f.subRepo.On("RecordRenewal", ctx, sub, sub.CurrentPeriodStart, (*model.Invoice)(nil), mock.Anything, mock.Anything).Return(true, nil)

	_, err := f.workflow.Renew(ctx, 6, false)

	assert.NoError(t, err)
	f.invRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}
