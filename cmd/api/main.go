// Package main is the entry point for the KidsCan API server.
//
// It loads configuration, connects the database pool, builds the external
// client registry (real Stripe clients or stubs depending on environment),
// wires the domain services and HTTP handlers, and serves until a shutdown
// signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"kidscan/internal/api"
	"kidscan/internal/api/handlers"
	"kidscan/internal/billing"
	"kidscan/internal/config"
	"kidscan/internal/core"
	"kidscan/internal/db"
	"kidscan/internal/external"
	"kidscan/internal/planchange"
	"kidscan/internal/referrals"
	"kidscan/internal/taskflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("kidscan API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	registry, err := external.NewClientRegistry(cfg, logger)
	if err != nil {
		return fmt.Errorf("building client registry: %w", err)
	}

	metrics, reconciler, err := newAWSSinks(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building AWS sinks: %w", err)
	}

	// Repositories and transactional store.
	store := db.NewStore(pool)
	serviceRepo := db.NewServiceRepo(pool)
	taskRepo := db.NewTaskRepo(pool)
	homeRepo := db.NewHomeRepo(pool)
	profileRepo := db.NewProfileRepo(pool)

	// Domain services.
	coordinator := planchange.NewCoordinator(db.PlanChangeStore{Store: store}, registry.Gateway, reconciler, metrics, logger)
	provisioner := planchange.NewProvisioner(db.ProvisionStore{Store: store}, registry.Gateway, metrics, logger)
	completer := taskflow.NewCompleter(db.TaskflowStore{Store: store}, registry.Gateway, reconciler, metrics, logger)
	minter := referrals.NewMinter(profileRepo, logger)

	// HTTP handlers.
	serviceHandler := handlers.NewServiceHandler(coordinator, provisioner, serviceRepo, logger)
	taskHandler := handlers.NewTaskHandler(completer, taskRepo, serviceRepo, logger)
	referralHandler := handlers.NewReferralHandler(minter, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(
		registry.Verifier,
		homeRepo,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)

	router := api.NewRouter(api.Dependencies{
		Services:  serviceHandler,
		Tasks:     taskHandler,
		Referrals: referralHandler,
		Webhook:   webhookHandler,
		Probes:    []core.HealthProbe{&db.Probe{Pool: pool}},
		Logger:    logger,
	})

	return serveHTTP(router, cfg, logger)
}

// newAWSSinks builds the CloudWatch metrics emitter and the SQS reconcile
// queue sender. When no reconcile queue is configured (local development),
// failed provider syncs are logged and dropped instead of queued.
func newAWSSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) (billing.Metrics, billing.Reconciler, error) {
	if cfg.IsTestMode || cfg.Environment == "local" {
		return billing.NopMetrics{}, billing.NewNopReconciler(logger), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}

	endpointOverride := func(endpoint string) func(o *cloudwatch.Options) {
		return func(o *cloudwatch.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}
	var cwClient *cloudwatch.Client
	var sqsClient *sqs.Client
	if cfg.AWS.EndpointURL != "" {
		cwClient = cloudwatch.NewFromConfig(awsCfg, endpointOverride(cfg.AWS.EndpointURL))
		sqsClient = sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		})
	} else {
		cwClient = cloudwatch.NewFromConfig(awsCfg)
		sqsClient = sqs.NewFromConfig(awsCfg)
	}

	metrics := billing.NewCloudWatchMetrics(cwClient, logger)

	var reconciler billing.Reconciler
	if cfg.AWS.ReconcileQueueURL != "" {
		reconciler = billing.NewSQSReconciler(sqsClient, cfg.AWS.ReconcileQueueURL, logger)
	} else {
		logger.Warn("no reconcile queue configured, failed billing syncs will not be queued")
		reconciler = billing.NewNopReconciler(logger)
	}

	return metrics, reconciler, nil
}

// serveHTTP runs the HTTP server with graceful shutdown on SIGINT/SIGTERM.
func serveHTTP(handler http.Handler, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
