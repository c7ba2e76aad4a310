// Command queue-worker is the SQS-triggered Lambda that forwards queued
// records to the GraphQL API using cached service tokens.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/pineapplepizza/tokenkeeper/internal/app"
	"github.com/pineapplepizza/tokenkeeper/internal/observability"
	"github.com/pineapplepizza/tokenkeeper/internal/worker"
)

// configPathEnv optionally points at a TOML file bundled with the function.
const configPathEnv = "TOKENKEEPER_CONFIG_FILE"

func main() {
	ctx := context.Background()

	handler, err := setup(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "queue worker setup failed", "error", err)
		os.Exit(1)
	}

	lambda.Start(handler.Handle)
}

// setup runs once per cold start; the token cache outlives invocations.
// The sandbox is frozen between invocations and never shut down cleanly,
// so the handler flushes telemetry at the end of every batch.
func setup(ctx context.Context) (*worker.Handler, error) {
	cfg, err := app.Load(os.Getenv(configPathEnv), nil, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	telemetry, err := observability.Instrument(ctx, observability.Config{
		Level:    cfg.LogLevel,
		Format:   string(cfg.LogFormat),
		Exporter: cfg.LogExporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	tokens, err := app.NewTokens(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return app.NewWorker(ctx, cfg, tokens,
		worker.WithTracerProvider(telemetry.TracerProvider()),
		worker.WithFlush(telemetry.ForceFlush),
	)
}
