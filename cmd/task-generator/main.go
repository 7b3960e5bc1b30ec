// Package main is the entrypoint for the Task Generator Lambda function.
//
// It runs on a monthly EventBridge schedule and extends every active
// recurring service with pending tasks through the end of the current month.
// Homes without a chargeable payment method are skipped so no unbillable
// work is scheduled.
//
// This file handles dependency wiring (cold start); the generation logic
// lives in internal/taskflow.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"kidscan/internal/config"
	"kidscan/internal/db"
	"kidscan/internal/external"
	"kidscan/internal/taskflow"
)

// GeneratorInput is the Lambda invocation payload. The scheduled rule sends
// an empty object; operators can invoke manually with the same shape.
type GeneratorInput struct {
	// Reason is echoed into the logs for manually triggered runs.
	Reason string `json:"reason,omitempty"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("task generator Lambda initializing (cold start)")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}

	registry, err := external.NewClientRegistry(cfg, logger)
	if err != nil {
		logger.Error("failed to build client registry", "error", err)
		os.Exit(1)
	}

	store := db.NewStore(pool)
	generator := taskflow.NewGenerator(store, registry.Gateway, cfg.Scheduler.GenerateConcurrency, logger)

	logger.Info("task generator Lambda initialized",
		"environment", cfg.Environment,
		"concurrency", cfg.Scheduler.GenerateConcurrency,
	)

	lambda.Start(newHandler(generator, logger))
}

// newHandler wraps Generator.ExtendAll with input logging and a summary
// result string for the Lambda console.
func newHandler(generator *taskflow.Generator, logger *slog.Logger) func(ctx context.Context, input GeneratorInput) (string, error) {
	return func(ctx context.Context, input GeneratorInput) (string, error) {
		logger.InfoContext(ctx, "task generator handler invoked",
			"reason", input.Reason,
		)

		report, err := generator.ExtendAll(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "task generation failed", "error", err)
			return "", fmt.Errorf("task generation failed: %w", err)
		}

		result := fmt.Sprintf("generation complete: %d services processed, %d tasks created, %d skipped, %d failed",
			report.Processed, report.Created, report.Skipped, report.Failed)
		logger.InfoContext(ctx, result,
			"processed", report.Processed,
			"created", report.Created,
			"skipped", report.Skipped,
			"failed", report.Failed,
		)

		return result, nil
	}
}
