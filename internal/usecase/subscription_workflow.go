package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/billforge/billing/internal/backoff"
	domainErrors "github.com/billforge/billing/internal/domain/errors"
	"github.com/billforge/billing/internal/domain/model"
	"github.com/billforge/billing/internal/domain/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// StartSubscriptionRequest carries the inputs for starting a subscription.
type StartSubscriptionRequest struct {
	AppID         int64               `json:"app_id" validate:"required"`
	UserID        uuid.UUID           `json:"user_id" validate:"required"`
	PlanID        int64               `json:"plan_id" validate:"required"`
	RenewalPolicy model.RenewalPolicy `json:"renewal_policy"`
}

// SubscriptionWorkflow advances a subscription through trial, renewal,
// plan change and cancellation while keeping the change log append-only.
type SubscriptionWorkflow struct {
	subscriptionRepo repository.SubscriptionRepository
	planRepo         repository.PlanRepository
	invoiceRepo      repository.InvoiceRepository
	invoices         *InvoiceWorkflow
	renewalPolicy    *backoff.Policy
	logger           *zap.Logger
	now              func() time.Time
}

// NewSubscriptionWorkflow creates a new subscription lifecycle workflow
func NewSubscriptionWorkflow(
	subscriptionRepo repository.SubscriptionRepository,
	planRepo repository.PlanRepository,
	invoiceRepo repository.InvoiceRepository,
	invoices *InvoiceWorkflow,
	renewalPolicy *backoff.Policy,
	logger *zap.Logger,
) *SubscriptionWorkflow {
	return &SubscriptionWorkflow{
		subscriptionRepo: subscriptionRepo,
		planRepo:         planRepo,
		invoiceRepo:      invoiceRepo,
		invoices:         invoices,
		renewalPolicy:    renewalPolicy,
		logger:           logger,
		now:              time.Now,
	}
}

// Start creates a subscription in trial or active depending on the plan's
// trial length and writes the Created change-log row.
func (w *SubscriptionWorkflow) Start(ctx context.Context, req *StartSubscriptionRequest, actingUserID uuid.UUID) (*model.Subscription, error) {
	plan, err := w.planRepo.GetByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domainErrors.ErrPlanNotFound
	}
	if plan.AppID != req.AppID {
		return nil, domainErrors.NewValidationError("plan_id", "plan does not belong to the application")
	}
	if !plan.IsActive {
		return nil, domainErrors.NewValidationError("plan_id", "plan is not active")
	}

	now := w.now().UTC()
	periodEnd := addInterval(now, plan.Interval)

	sub := &model.Subscription{
		AppID:              req.AppID,
		UserID:             req.UserID,
		PlanID:             plan.ID,
		Status:             model.SubscriptionStatusActive,
		Currency:           plan.Currency,
		UnitPrice:          plan.UnitPrice,
		StartAt:            now,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   periodEnd,
		RenewalPolicy:      req.RenewalPolicy,
	}
	if sub.RenewalPolicy == "" {
		sub.RenewalPolicy = model.RenewalPolicyAuto
	}
	if plan.TrialDays > 0 {
		sub.Status = model.SubscriptionStatusTrial
		trialEnd := now.AddDate(0, 0, plan.TrialDays)
		sub.TrialEndsAt = &trialEnd
	}
	if sub.RenewalPolicy != model.RenewalPolicyNone {
		renewAt := periodEnd
		sub.RenewAt = &renewAt
	}

	items := itemsFromPlan(plan)

	amount := plan.UnitPrice
	changeLog := &model.SubscriptionChangeLog{
		ChangeType:    model.ChangeTypeCreated,
		NewPlanID:     &plan.ID,
		NewAmount:     &amount,
		Currency:      plan.Currency,
		ActingUserID:  &actingUserID,
		EffectiveDate: now,
	}

	event := newOutboxMessage(model.EventSubscriptionCreated, now, datatypes.JSONMap{
		"app_id":  req.AppID,
		"user_id": req.UserID.String(),
		"plan_id": plan.ID,
	})

	if err := w.subscriptionRepo.Create(ctx, sub, items, changeLog, event); err != nil {
		w.logger.Error("failed to create subscription",
			zap.Int64("plan_id", plan.ID),
			zap.String("user_id", req.UserID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	w.logger.Info("subscription started",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("plan_id", plan.ID),
		zap.String("status", string(sub.Status)))

	return sub, nil
}

// ChangePlan moves the subscription to a plan of the same application,
// fully replacing the feature allotments and writing one PlanChanged row.
// The change itself creates no invoice; billing of the difference belongs
// to the next renewal cycle.
func (w *SubscriptionWorkflow) ChangePlan(ctx context.Context, subscriptionID, newPlanID int64, actingUserID uuid.UUID, reason string) (*model.Subscription, error) {
	sub, err := w.subscriptionRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domainErrors.ErrSubscriptionNotFound
	}

	if sub.Status == model.SubscriptionStatusCanceled || sub.Status == model.SubscriptionStatusExpired {
		// Ineligible transition: return current state, not an error.
		return sub, nil
	}

	newPlan, err := w.planRepo.GetByID(ctx, newPlanID)
	if err != nil {
		return nil, err
	}
	if newPlan == nil {
		return nil, domainErrors.ErrPlanNotFound
	}
	if newPlan.AppID != sub.AppID {
		return nil, domainErrors.NewValidationError("plan_id", "plan does not belong to the subscription's application")
	}

	now := w.now().UTC()
	oldPlanID := sub.PlanID
	oldAmount := sub.UnitPrice
	newAmount := newPlan.UnitPrice

	sub.PlanID = newPlan.ID
	sub.Currency = newPlan.Currency
	sub.UnitPrice = newPlan.UnitPrice

	items := itemsFromPlan(newPlan)
	for i := range items {
		items[i].SubscriptionID = sub.ID
	}

	changeLog := &model.SubscriptionChangeLog{
		SubscriptionID: sub.ID,
		ChangeType:     model.ChangeTypePlanChanged,
		OldPlanID:      &oldPlanID,
		NewPlanID:      &newPlan.ID,
		OldAmount:      &oldAmount,
		NewAmount:      &newAmount,
		Currency:       newPlan.Currency,
		ActingUserID:   &actingUserID,
		EffectiveDate:  now,
	}
	if reason != "" {
		changeLog.Reason = &reason
	}

	event := newOutboxMessage(model.EventSubscriptionPlanChanged, now, datatypes.JSONMap{
		"subscription_id": sub.ID,
		"old_plan_id":     oldPlanID,
		"new_plan_id":     newPlan.ID,
	})

	if err := w.subscriptionRepo.ReplaceItemsAndUpdate(ctx, sub, items, changeLog, event); err != nil {
		w.logger.Error("failed to change plan",
			zap.Int64("subscription_id", sub.ID),
			zap.Int64("new_plan_id", newPlan.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to change plan: %w", err)
	}

	w.logger.Info("subscription plan changed",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("old_plan_id", oldPlanID),
		zap.Int64("new_plan_id", newPlan.ID))

	return sub, nil
}

// Cancel ends the subscription immediately when endAt is nil, otherwise at
// the given instant. Re-cancelling an already-cancelled subscription is a
// no-op.
func (w *SubscriptionWorkflow) Cancel(ctx context.Context, subscriptionID int64, endAt *time.Time, actingUserID uuid.UUID, reason string) error {
	sub, err := w.subscriptionRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return domainErrors.ErrSubscriptionNotFound
	}

	if sub.Status == model.SubscriptionStatusCanceled {
		return nil
	}

	now := w.now().UTC()
	effectiveEnd := now
	if endAt != nil {
		effectiveEnd = endAt.UTC()
	}

	changeLog := &model.SubscriptionChangeLog{
		SubscriptionID: sub.ID,
		ChangeType:     model.ChangeTypeCancelled,
		OldPlanID:      &sub.PlanID,
		Currency:       sub.Currency,
		ActingUserID:   &actingUserID,
		EffectiveDate:  effectiveEnd,
	}
	if reason != "" {
		changeLog.Reason = &reason
	}

	event := newOutboxMessage(model.EventSubscriptionCanceled, now, datatypes.JSONMap{
		"subscription_id": sub.ID,
		"end_at":          effectiveEnd.Format(time.RFC3339),
		"reason":          reason,
	})

	ok, err := w.subscriptionRepo.Cancel(ctx, subscriptionID, effectiveEnd, reason, changeLog, event)
	if err != nil {
		return err
	}
	if !ok {
		// Another caller cancelled first.
		return nil
	}

	w.logger.Info("subscription cancelled",
		zap.Int64("subscription_id", subscriptionID),
		zap.Time("end_at", effectiveEnd),
		zap.String("reason", reason))

	return nil
}

// Renew advances the subscription into its next billing period. It opens
// (or reuses) the next-period invoice, collects it through the invoice
// workflow, and only advances the period once the invoice succeeded. On
// payment failure the renewal attempt counter grows and the next attempt
// is scheduled with the shared backoff policy; past the attempt cap the
// subscription is flagged for manual attention instead of silently
// lapsing. Invoked by the external scheduler at or after renew_at.
func (w *SubscriptionWorkflow) Renew(ctx context.Context, subscriptionID int64, force bool) (*model.Subscription, error) {
	sub, err := w.subscriptionRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domainErrors.ErrSubscriptionNotFound
	}

	now := w.now().UTC()

	if sub.Status == model.SubscriptionStatusCanceled || sub.Status == model.SubscriptionStatusExpired {
		return sub, nil
	}
	if sub.RenewalPolicy == model.RenewalPolicyNone {
		return sub, nil
	}
	if sub.EndAt != nil && !sub.EndAt.After(now) {
		return sub, nil
	}
	if !force {
		if w.renewalPolicy.Exhausted(sub.RenewalAttemptCount) {
			return sub, nil
		}
		if !backoff.Eligible(now, sub.RenewAt, false) {
			return sub, nil
		}
	}

	invoice, err := w.openRenewalInvoice(ctx, sub, now)
	if err != nil {
		return nil, err
	}

	invoice, err = w.invoices.Retry(ctx, invoice.ID, true)
	if err != nil {
		return nil, err
	}

	if invoice.PaymentStatus != model.InvoiceStatusSucceeded {
		attempts := sub.RenewalAttemptCount + 1
		var nextRenewAt *time.Time
		needsAttention := false
		if w.renewalPolicy.Exhausted(attempts) {
			needsAttention = true
		} else {
			next := w.renewalPolicy.NextRetryAt(attempts, now)
			nextRenewAt = &next
		}

		if err := w.subscriptionRepo.RecordRenewalFailure(ctx, sub.ID, attempts, nextRenewAt, needsAttention); err != nil {
			return nil, err
		}

		w.logger.Warn("subscription renewal attempt failed",
			zap.Int64("subscription_id", sub.ID),
			zap.Int("attempt_count", attempts),
			zap.Bool("needs_attention", needsAttention))

		return w.subscriptionRepo.GetByID(ctx, sub.ID)
	}

	fromPeriodStart := sub.CurrentPeriodStart
	newStart := sub.CurrentPeriodEnd
	newEnd := addInterval(newStart, planIntervalOf(sub))
	amount := sub.UnitPrice

	sub.Status = model.SubscriptionStatusActive
	sub.CurrentPeriodStart = newStart
	sub.CurrentPeriodEnd = newEnd
	sub.RenewalAttemptCount = 0
	sub.NeedsAttention = false
	sub.LastInvoicedAt = &now
	sub.LastInvoiceID = &invoice.ID
	renewAt := newEnd
	sub.RenewAt = &renewAt
	sub.TrialEndsAt = nil

	changeLog := &model.SubscriptionChangeLog{
		SubscriptionID: sub.ID,
		ChangeType:     model.ChangeTypeRenewed,
		OldPlanID:      &sub.PlanID,
		NewPlanID:      &sub.PlanID,
		OldAmount:      &amount,
		NewAmount:      &amount,
		Currency:       sub.Currency,
		EffectiveDate:  newStart,
	}

	event := newOutboxMessage(model.EventSubscriptionRenewed, now, datatypes.JSONMap{
		"subscription_id": sub.ID,
		"invoice_id":      invoice.ID,
		"period_start":    newStart.Format(time.RFC3339),
		"period_end":      newEnd.Format(time.RFC3339),
	})

	renewed, err := w.subscriptionRepo.RecordRenewal(ctx, sub, fromPeriodStart, nil, changeLog, event)
	if err != nil {
		return nil, fmt.Errorf("failed to record renewal: %w", err)
	}
	if !renewed {
		// A concurrent renewal advanced the period first. Nothing was
		// written; hand back the winner's state.
		w.logger.Info("subscription renewal lost period race",
			zap.Int64("subscription_id", sub.ID))
		return w.subscriptionRepo.GetByID(ctx, sub.ID)
	}

	w.logger.Info("subscription renewed",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("invoice_id", invoice.ID),
		zap.Time("period_end", newEnd))

	return sub, nil
}

// openRenewalInvoice finds the invoice already opened for the upcoming
// period or creates a pending one.
func (w *SubscriptionWorkflow) openRenewalInvoice(ctx context.Context, sub *model.Subscription, now time.Time) (*model.Invoice, error) {
	periodStart := sub.CurrentPeriodEnd
	periodEnd := addInterval(periodStart, planIntervalOf(sub))

	existing, err := w.invoiceRepo.GetBySubscriptionAndPeriod(ctx, sub.ID, periodStart)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	due := periodStart
	invoice := &model.Invoice{
		AppID:          sub.AppID,
		UserID:         sub.UserID,
		SubscriptionID: &sub.ID,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		Currency:       sub.Currency,
		Subtotal:       sub.UnitPrice,
		Total:          sub.UnitPrice,
		PaymentStatus:  model.InvoiceStatusPending,
		DueDate:        &due,
	}
	if err := w.invoiceRepo.Create(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to create renewal invoice: %w", err)
	}
	return invoice, nil
}

// RebuildItemsFromPlan recomputes the feature allotments from the current
// plan definition, dropping stale rows. Recorded as a manual adjustment.
func (w *SubscriptionWorkflow) RebuildItemsFromPlan(ctx context.Context, subscriptionID int64, actingUserID uuid.UUID) (*model.Subscription, error) {
	sub, err := w.subscriptionRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domainErrors.ErrSubscriptionNotFound
	}

	plan, err := w.planRepo.GetByID(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domainErrors.ErrPlanNotFound
	}

	now := w.now().UTC()
	items := itemsFromPlan(plan)
	for i := range items {
		items[i].SubscriptionID = sub.ID
	}

	reason := "allotment rebuild from plan"
	changeLog := &model.SubscriptionChangeLog{
		SubscriptionID: sub.ID,
		ChangeType:     model.ChangeTypeManualAdjustment,
		OldPlanID:      &sub.PlanID,
		NewPlanID:      &sub.PlanID,
		Currency:       sub.Currency,
		Reason:         &reason,
		ActingUserID:   &actingUserID,
		EffectiveDate:  now,
	}

	if err := w.subscriptionRepo.ReplaceItemsAndUpdate(ctx, sub, items, changeLog, nil); err != nil {
		return nil, fmt.Errorf("failed to rebuild allotments: %w", err)
	}

	return sub, nil
}

// ChangeHistory returns the change log ordered by effective_date then
// insertion order.
func (w *SubscriptionWorkflow) ChangeHistory(ctx context.Context, subscriptionID int64) ([]*model.SubscriptionChangeLog, error) {
	sub, err := w.subscriptionRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domainErrors.ErrSubscriptionNotFound
	}
	return w.subscriptionRepo.ListChangeLogs(ctx, subscriptionID)
}

// SweepRenewals renews every auto-renewing subscription whose renew_at has
// passed. Invoked by the polling driver.
func (w *SubscriptionWorkflow) SweepRenewals(ctx context.Context, limit int) (int, error) {
	due, err := w.subscriptionRepo.ListDueForRenewal(ctx, w.now().UTC(), limit)
	if err != nil {
		return 0, err
	}

	renewed := 0
	for _, sub := range due {
		if _, err := w.Renew(ctx, sub.ID, false); err != nil {
			w.logger.Error("sweep renewal failed",
				zap.Int64("subscription_id", sub.ID),
				zap.Error(err))
			continue
		}
		renewed++
	}
	return renewed, nil
}

func itemsFromPlan(plan *model.Plan) []model.SubscriptionItem {
	items := make([]model.SubscriptionItem, 0, len(plan.FeatureLimits))
	for _, fl := range plan.FeatureLimits {
		items = append(items, model.SubscriptionItem{
			FeatureCode: fl.FeatureCode,
			LimitValue:  fl.LimitValue,
		})
	}
	return items
}

// planIntervalOf falls back to monthly when the plan is not preloaded.
func planIntervalOf(sub *model.Subscription) string {
	if sub.Plan != nil {
		return sub.Plan.Interval
	}
	return "month"
}

func addInterval(t time.Time, interval string) time.Time {
	switch interval {
	case "day":
		return t.AddDate(0, 0, 1)
	case "week":
		return t.AddDate(0, 0, 7)
	case "year":
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}
