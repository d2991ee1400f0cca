package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/billforge/billing/internal/config"
	"github.com/billforge/billing/internal/usecase"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Worker runs the polling sweeps on a schedule: outbox dispatch, invoice
// retries, subscription renewals and outbox cleanup. Every sweep calls a
// public workflow operation, so a run started here and a run started from
// the operations API behave identically.
type Worker struct {
	cfg           config.WorkerConfig
	dispatcher    *usecase.Dispatcher
	invoices      *usecase.InvoiceWorkflow
	subscriptions *usecase.SubscriptionWorkflow
	logger        *zap.Logger
	cron          *cron.Cron
}

func NewWorker(
	cfg config.WorkerConfig,
	dispatcher *usecase.Dispatcher,
	invoices *usecase.InvoiceWorkflow,
	subscriptions *usecase.SubscriptionWorkflow,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		cfg:           cfg,
		dispatcher:    dispatcher,
		invoices:      invoices,
		subscriptions: subscriptions,
		logger:        logger,
		cron:          cron.New(),
	}
}

// Start registers the sweeps and starts the scheduler. Zero intervals
// disable the corresponding sweep.
func (w *Worker) Start() error {
	if err := w.addEvery(w.cfg.OutboxInterval, "outbox dispatch", w.runOutbox); err != nil {
		return err
	}
	if err := w.addEvery(w.cfg.InvoiceSweepInterval, "invoice retry sweep", w.runInvoiceSweep); err != nil {
		return err
	}
	if err := w.addEvery(w.cfg.RenewalInterval, "renewal sweep", w.runRenewalSweep); err != nil {
		return err
	}
	if err := w.addEvery(w.cfg.CleanupInterval, "outbox cleanup", w.runCleanup); err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Background worker started",
		zap.Duration("outbox_interval", w.cfg.OutboxInterval),
		zap.Duration("invoice_sweep_interval", w.cfg.InvoiceSweepInterval),
		zap.Duration("renewal_interval", w.cfg.RenewalInterval),
		zap.Duration("cleanup_interval", w.cfg.CleanupInterval))
	return nil
}

// Stop halts the scheduler and waits for in-flight sweeps to finish.
func (w *Worker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.logger.Info("Background worker stopped")
}

func (w *Worker) addEvery(interval time.Duration, name string, job func()) error {
	if interval <= 0 {
		w.logger.Info("Sweep disabled", zap.String("sweep", name))
		return nil
	}
	if _, err := w.cron.AddFunc(fmt.Sprintf("@every %s", interval), job); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

func (w *Worker) runOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.OutboxInterval)
	defer cancel()

	dispatched, err := w.dispatcher.DispatchPending(ctx)
	if err != nil {
		w.logger.Error("Outbox dispatch failed", zap.Error(err))
		return
	}
	if dispatched > 0 {
		w.logger.Info("Outbox dispatched", zap.Int("messages", dispatched))
	}
}

func (w *Worker) runInvoiceSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.InvoiceSweepInterval)
	defer cancel()

	attempted, err := w.invoices.SweepRetryable(ctx, w.cfg.OutboxBatchSize)
	if err != nil {
		w.logger.Error("Invoice retry sweep failed", zap.Error(err))
		return
	}
	if attempted > 0 {
		w.logger.Info("Invoice retries attempted", zap.Int("invoices", attempted))
	}
}

func (w *Worker) runRenewalSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RenewalInterval)
	defer cancel()

	renewed, err := w.subscriptions.SweepRenewals(ctx, w.cfg.OutboxBatchSize)
	if err != nil {
		w.logger.Error("Renewal sweep failed", zap.Error(err))
		return
	}
	if renewed > 0 {
		w.logger.Info("Renewals attempted", zap.Int("subscriptions", renewed))
	}
}

func (w *Worker) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.CleanupInterval)
	defer cancel()

	cutoff := time.Now().UTC().Add(-w.cfg.CleanupRetention)
	removed, err := w.dispatcher.CleanupProcessed(ctx, cutoff)
	if err != nil {
		w.logger.Error("Outbox cleanup failed", zap.Error(err))
		return
	}
	if removed > 0 {
		w.logger.Info("Processed outbox rows removed", zap.Int64("rows", removed))
	}
}
