package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/billforge/billing/internal/config"
	"github.com/billforge/billing/internal/infrastructure/database"
	grpcServer "github.com/billforge/billing/internal/infrastructure/grpc"
	httpServer "github.com/billforge/billing/internal/infrastructure/http"
	"github.com/billforge/billing/internal/infrastructure/provider/stripe"
	"github.com/billforge/billing/internal/infrastructure/worker"
	pkglogger "github.com/billforge/billing/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
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

	// Initialize database connection
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, logger); err != nil {
			logger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	// Run database migrations
	if err := database.Migrate(db, logger); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Initialize repositories and the payment provider
	repos := database.NewRepositories(db, logger)
	paymentProvider := stripe.NewStripeProvider(cfg.Service.StripeSecretKey, logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize servers
	grpcSrv := grpcServer.NewServer(cfg, logger)
	httpSrv := httpServer.NewServer(cfg, logger, repos, paymentProvider)

	// Background sweeps share the HTTP surface's workflows
	invoices, subscriptions, dispatcher := httpSrv.Workflows()
	bgWorker := worker.NewWorker(cfg.Worker, dispatcher, invoices, subscriptions, logger)
	if err := bgWorker.Start(); err != nil {
		logger.Fatal("Failed to start background worker", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := grpcSrv.Start(); err != nil {
			logger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.Start(); err != nil {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down servers...")

	bgWorker.Stop()

	if err := grpcSrv.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown gRPC server", zap.Error(err))
	}

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}

	logger.Info("Servers shut down successfully")
}
