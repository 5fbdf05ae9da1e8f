// Package app wires the order index together and manages its lifecycle: the
// firehose consumer, the chain watcher, the worker pool and the API server
// all run under one errgroup and shut down together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openfloor/nftindex/internal/config"
	"github.com/openfloor/nftindex/internal/feed"
	"github.com/openfloor/nftindex/internal/jobs"
	"github.com/openfloor/nftindex/internal/server"
	"github.com/openfloor/nftindex/internal/server/handler"
	"github.com/openfloor/nftindex/internal/server/ws"
)

// shutdownGrace bounds how long the HTTP server may drain in-flight requests.
const shutdownGrace = 10 * time.Second

// App is the root application object.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the configured components, and blocks
// until the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting order index",
		slog.Bool("feed", a.cfg.Feed.Enabled),
		slog.Bool("watcher", a.cfg.Chain.WatchEvents),
		slog.Bool("server", a.cfg.Server.Enabled),
		slog.Int("workers", a.cfg.Jobs.Workers),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	// --- Worker pool ---
	handlers := jobs.Handlers(jobs.HandlerDeps{
		Redis:     deps.Redis,
		Locks:     deps.Locks,
		Orders:    deps.Orders,
		TokenSets: deps.TokenSets,
		Checker:   deps.Checker,
		Queue:     deps.Queue,
		Relay:     deps.Relay,
		Archiver:  archiver(deps),
		Metrics:   deps.Metrics,
		Logger:    a.logger,
	})
	for i := 0; i < a.cfg.Jobs.Workers; i++ {
		worker := jobs.NewWorker(deps.Redis, deps.Queue, handlers, a.cfg.Jobs.MaxAttempts, deps.Metrics, a.logger)
		g.Go(func() error {
			return ignoreCancel(worker.Run(ctx))
		})
	}

	// --- Order firehose ---
	if a.cfg.Feed.Enabled {
		orderFeed := feed.NewOrderFeed(feed.Config{
			URL:        a.cfg.Feed.URL,
			Sources:    a.cfg.Feed.Sources,
			ArchiveRaw: a.cfg.Feed.ArchiveRaw,
		}, deps.Registry, deps.Engine, deps.Queue, deps.Metrics, a.logger)
		g.Go(func() error {
			return ignoreCancel(orderFeed.Run(ctx))
		})
	}

	// --- Chain watcher ---
	if deps.Watcher != nil {
		g.Go(func() error {
			return ignoreCancel(deps.Watcher.Run(ctx))
		})
	}

	// --- API server ---
	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.Redis.Underlying(), []string{jobs.UpdatesChannel}, a.logger)
		g.Go(func() error {
			return ignoreCancel(hub.Run(ctx))
		})

		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(a.healthChecks(deps), a.logger),
			Orders:    handler.NewOrderHandler(deps.Orders, deps.Registry, deps.Engine, a.logger),
			TokenSets: handler.NewTokenSetHandler(deps.TokenSets, a.logger),
			Activity:  handler.NewActivityHandler(deps.Orders, deps.Events, deps.Transfers, a.logger),
		}, hub, deps.Metrics, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// healthChecks builds the dependency probes for the health endpoint.
func (a *App) healthChecks(deps *Dependencies) []handler.HealthCheck {
	checks := []handler.HealthCheck{
		{Name: "postgres", Check: deps.Postgres.Pool().Ping},
		{Name: "redis", Check: deps.Redis.Ping},
	}
	if deps.S3 != nil {
		checks = append(checks, handler.HealthCheck{Name: "s3", Check: deps.S3.Health})
	}
	return checks
}

// archiver adapts the optional S3 archiver to the jobs interface without
// wrapping a typed nil in a non-nil interface value.
func archiver(deps *Dependencies) jobs.RawArchiver {
	if deps.Archiver == nil {
		return nil
	}
	return deps.Archiver
}

// ignoreCancel maps context cancellation to a clean exit so one component
// stopping on shutdown does not surface as a group error.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down order index")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
