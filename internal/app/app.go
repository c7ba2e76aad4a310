package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/pineapplepizza/tokenkeeper/internal/graphql"
	"github.com/pineapplepizza/tokenkeeper/internal/server"
	"github.com/pineapplepizza/tokenkeeper/internal/tokencache"
	"github.com/pineapplepizza/tokenkeeper/internal/worker"
)

// App orchestrates the lifecycle of the token broker and related services.
type App struct {
	cfg    *Config
	tokens *Tokens
	server *server.Server
}

// New creates a new App instance.
func New(ctx context.Context, cfg *Config, opts ...TokensOption) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tokens, err := NewTokens(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}

	var serverOpts []server.Option
	serverOpts = append(serverOpts, server.WithLogger(slog.Default()))
	if cfg.GraphQL.URL != "" {
		ts, err := tokens.TokenSource(ctx, cfg.GraphQL.TokenName)
		if err != nil {
			_ = tokens.Close()
			return nil, err
		}
		serverOpts = append(serverOpts, server.WithGraphQLProxy(cfg.GraphQL.URL, ts))
	}

	srv, err := server.New(tokens, serverOpts...)
	if err != nil {
		_ = tokens.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &App{
		cfg:    cfg,
		tokens: tokens,
		server: srv,
	}, nil
}

// Tokens returns the token registry.
func (a *App) Tokens() *Tokens {
	return a.tokens
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
		return a.tokens.Close()
	})

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting token broker", "address", address, "tokens", a.tokens.Names())
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		_ = a.tokens.Close()
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", a.server.Addr())

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// NewWorker builds the queue worker handler over the configured GraphQL API.
func NewWorker(ctx context.Context, cfg *Config, tokens *Tokens, opts ...worker.Option) (*worker.Handler, error) {
	if cfg.GraphQL.URL == "" {
		return nil, tokencache.NewConfigurationError("graphql.url", "required for the queue worker")
	}

	ts, err := tokens.TokenSource(ctx, cfg.GraphQL.TokenName)
	if err != nil {
		return nil, err
	}

	client, err := graphql.New(cfg.GraphQL.URL, ts)
	if err != nil {
		return nil, tokencache.NewConfigurationError("graphql.url", err.Error())
	}

	return worker.NewHandler(client, cfg.GraphQL.Mutation, slog.Default(), opts...)
}
