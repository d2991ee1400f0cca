package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/billforge/billing/internal/backoff"
	"github.com/billforge/billing/internal/config"
	"github.com/billforge/billing/internal/infrastructure/database"
	"github.com/billforge/billing/internal/infrastructure/provider/stripe"
	"github.com/billforge/billing/internal/infrastructure/worker"
	"github.com/billforge/billing/internal/usecase"
	pkglogger "github.com/billforge/billing/pkg/logger"
	"go.uber.org/zap"
)

// Standalone sweep runner. Deploy this instead of the in-process worker
// when the API and the background load need to scale separately.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := pkglogger.NewZapLogger(pkglogger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      cfg.Log.Output,
		FilePath:    cfg.Log.FilePath,
		Development: cfg.Log.Development,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, logger); err != nil {
			logger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	repos := database.NewRepositories(db, logger)
	paymentProvider := stripe.NewStripeProvider(cfg.Service.StripeSecretKey, logger)

	paymentPolicy := backoff.NewPolicy(cfg.Billing.RetryBaseDelay, cfg.Billing.RetryMaxDelay, cfg.Billing.MaxAttempts)
	renewalPolicy := backoff.NewPolicy(cfg.Billing.RetryBaseDelay, cfg.Billing.RetryMaxDelay, cfg.Billing.RenewalMaxAttempts)
	webhookPolicy := backoff.NewPolicy(cfg.Billing.RetryBaseDelay, cfg.Billing.RetryMaxDelay, cfg.Webhook.MaxAttempts)

	invoices := usecase.NewInvoiceWorkflow(repos.Invoice, paymentProvider, paymentPolicy, logger)
	subscriptions := usecase.NewSubscriptionWorkflow(repos.Subscription, repos.Plan, repos.Invoice, invoices, renewalPolicy, logger)
	webhooks := usecase.NewWebhookService(
		repos.WebhookEndpoint,
		repos.WebhookDelivery,
		&http.Client{Timeout: cfg.Webhook.RequestTimeout},
		webhookPolicy,
		cfg.Webhook.SignatureHeader,
		logger,
	)
	dispatcher := usecase.NewDispatcher(repos.Outbox, webhooks, cfg.Worker.OutboxBatchSize, logger)

	bgWorker := worker.NewWorker(cfg.Worker, dispatcher, invoices, subscriptions, logger)
	if err := bgWorker.Start(); err != nil {
		logger.Fatal("Failed to start background worker", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down dispatcher...")
	bgWorker.Stop()
	logger.Info("Dispatcher stopped")
}
