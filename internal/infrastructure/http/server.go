package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	handlers "github.com/billforge/billing/internal/adapter/handler/http"
	"github.com/billforge/billing/internal/backoff"
	"github.com/billforge/billing/internal/config"
	"github.com/billforge/billing/internal/domain/provider"
	"github.com/billforge/billing/internal/infrastructure/database"
	"github.com/billforge/billing/internal/middleware/auth"
	"github.com/billforge/billing/internal/usecase"
	pkglogger "github.com/billforge/billing/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// requestValidator adapts go-playground/validator to echo's Validator
// interface so handlers can call c.Validate on bound requests.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

type Server struct {
	config *config.Config
	logger *zap.Logger
	echo   *echo.Echo
	repos  *database.Repositories

	invoices      *usecase.InvoiceWorkflow
	subscriptions *usecase.SubscriptionWorkflow
	webhooks      *usecase.WebhookService
	dispatcher    *usecase.Dispatcher
}

func NewServer(cfg *config.Config, logger *zap.Logger, repos *database.Repositories, paymentProvider provider.PaymentProvider) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}

	// Middleware
	e.Use(pkglogger.NewEchoRequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.Service.ClientURL},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE},
	}))

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

	return &Server{
		config:        cfg,
		logger:        logger,
		echo:          e,
		repos:         repos,
		invoices:      invoices,
		subscriptions: subscriptions,
		webhooks:      webhooks,
		dispatcher:    dispatcher,
	}
}

// Workflows exposes the wired usecases so the background worker can share
// them with the HTTP surface.
func (s *Server) Workflows() (*usecase.InvoiceWorkflow, *usecase.SubscriptionWorkflow, *usecase.Dispatcher) {
	return s.invoices, s.subscriptions, s.dispatcher
}

func (s *Server) Start() error {
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.HTTP.Host, s.config.Server.HTTP.Port)
	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": s.config.Service.Name,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	planHandler := handlers.NewPlanHandler(s.repos.Plan, s.logger)
	invoiceHandler := handlers.NewInvoiceHandler(s.invoices, s.repos.Invoice, s.logger)
	subscriptionHandler := handlers.NewSubscriptionHandler(s.subscriptions, s.repos.Subscription, s.repos.Invoice, s.logger)
	webhookHandler := handlers.NewWebhookHandler(s.webhooks, s.repos.WebhookEndpoint, s.repos.WebhookDelivery, s.config.Webhook.MaxAttempts, s.logger)
	opsHandler := handlers.NewOpsHandler(s.dispatcher, s.invoices, s.subscriptions, s.repos.Outbox, s.logger)

	jwtConfig := auth.JWTConfig{
		Secret: s.config.JWT.Secret,
		Logger: s.logger,
		SkipPaths: []string{
			"/health",
			"/api/v1/plans",
		},
	}

	v1 := s.echo.Group("/api/v1")

	// Plans are public for browsing
	v1.GET("/plans", planHandler.GetPlans)
	v1.GET("/plans/:id", planHandler.GetPlan)

	protected := v1.Group("", auth.JWTMiddleware(jwtConfig))

	invoices := protected.Group("/invoices")
	invoices.GET("/:id", invoiceHandler.GetInvoice)
	invoices.GET("/:id/attempts", invoiceHandler.GetAttempts)
	invoices.POST("/:id/retry", invoiceHandler.RetryInvoice)
	invoices.POST("/:id/cancel", invoiceHandler.CancelInvoice)

	subscriptions := protected.Group("/subscriptions")
	subscriptions.POST("", subscriptionHandler.StartSubscription)
	subscriptions.GET("/:id", subscriptionHandler.GetSubscription)
	subscriptions.GET("/:id/history", subscriptionHandler.GetChangeHistory)
	subscriptions.GET("/:id/invoices", subscriptionHandler.GetInvoices)
	subscriptions.POST("/:id/change-plan", subscriptionHandler.ChangePlan)
	subscriptions.POST("/:id/renew", subscriptionHandler.RenewSubscription)
	subscriptions.POST("/:id/rebuild-items", subscriptionHandler.RebuildItems)
	subscriptions.DELETE("/:id", subscriptionHandler.CancelSubscription)

	webhooks := protected.Group("/webhooks/endpoints")
	webhooks.GET("/:id", webhookHandler.GetEndpoint)
	webhooks.GET("/:id/deliveries", webhookHandler.GetDeliveries)
	webhooks.POST("/:id/retry-failed", webhookHandler.RetryFailed)
	webhooks.POST("/:id/rotate-secret", webhookHandler.RotateSecret)
	webhooks.POST("/:id/test", webhookHandler.TestPing)

	// Internal operations surface
	internal := protected.Group("/internal")
	internal.POST("/outbox/dispatch", opsHandler.DispatchOutbox)
	internal.POST("/outbox/enqueue", opsHandler.EnqueueEvent)
	internal.POST("/outbox/cleanup", opsHandler.CleanupOutbox)
	internal.POST("/sweeps/invoices", opsHandler.SweepInvoices)
	internal.POST("/sweeps/renewals", opsHandler.SweepRenewals)
}
