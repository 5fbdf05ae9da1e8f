package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/openfloor/nftindex/internal/blob/s3"
	cacheredis "github.com/openfloor/nftindex/internal/cache/redis"
	"github.com/openfloor/nftindex/internal/chain"
	"github.com/openfloor/nftindex/internal/config"
	"github.com/openfloor/nftindex/internal/domain"
	"github.com/openfloor/nftindex/internal/engine"
	"github.com/openfloor/nftindex/internal/events"
	"github.com/openfloor/nftindex/internal/fillability"
	"github.com/openfloor/nftindex/internal/jobs"
	"github.com/openfloor/nftindex/internal/metrics"
	"github.com/openfloor/nftindex/internal/oracle"
	"github.com/openfloor/nftindex/internal/protocol"
	"github.com/openfloor/nftindex/internal/relay"
	"github.com/openfloor/nftindex/internal/store/postgres"
	"github.com/openfloor/nftindex/internal/tokenset"
)

// Dependencies bundles every concrete component the application runs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Orders    domain.OrderStore
	TokenSets domain.TokenSetStore
	Events    domain.OrderEventStore
	Transfers domain.TransferStore

	// Infrastructure
	Postgres *postgres.Client
	Redis    *cacheredis.Client
	Locks    domain.LockManager
	Queue    *jobs.Queue
	Chain    *chain.Reader
	Metrics  *metrics.Set

	// Pipeline
	Registry *protocol.Registry
	Resolver *tokenset.Resolver
	Checker  *fillability.Checker
	Engine   *engine.Engine
	Router   *events.Router
	Watcher  *events.Watcher

	// External services
	Oracle   *oracle.Client
	Relay    *relay.Client
	S3       *s3blob.Client
	Archiver *s3blob.Archiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Metrics: metrics.New()}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.Postgres = pgClient
	pool := pgClient.Pool()
	deps.Orders = postgres.NewOrderStore(pool)
	deps.TokenSets = postgres.NewTokenSetStore(pool)
	deps.Events = postgres.NewOrderEventStore(pool)
	deps.Transfers = postgres.NewTransferStore(pool)

	// --- Redis ---
	redisClient, err := cacheredis.New(ctx, cacheredis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.Locks = cacheredis.NewLockManager(redisClient)
	deps.Queue = jobs.NewQueue(redisClient, logger)

	// --- Chain RPC ---
	reader, err := chain.NewReader(ctx, chain.ReaderConfig{
		URL:               cfg.Chain.RPCURL,
		RequestsPerSecond: cfg.Chain.RequestsPerSecond,
		Timeout:           cfg.Chain.CallTimeout.Duration,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, reader.Close)
	deps.Chain = reader

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(s3Client, cfg.S3.KeyPrefix)
	}

	// --- External services ---
	deps.Oracle = oracle.NewClient(oracle.Config{
		BaseURL:  cfg.Oracle.BaseURL,
		Timeout:  cfg.Oracle.Timeout.Duration,
		CacheTTL: cfg.Oracle.CacheTTL.Duration,
	})
	if cfg.Relay.Enabled {
		deps.Relay = relay.NewClient(relay.Config{
			BaseURL:           cfg.Relay.BaseURL,
			APIKey:            cfg.Relay.APIKey,
			RequestsPerSecond: cfg.Relay.RequestsPerSecond,
			Timeout:           cfg.Relay.Timeout.Duration,
		})
	}

	// --- Pipeline ---
	protoCfg := cfg.Contracts.Protocol()
	deps.Registry = protocol.NewRegistry(protoCfg)
	deps.Resolver = tokenset.NewResolver(deps.TokenSets, logger)
	deps.Checker = fillability.NewChecker(reader, protoCfg, cfg.Chain.CallTimeout.Duration, logger)
	deps.Engine = engine.New(deps.Orders, deps.Events, deps.Resolver, deps.Checker, deps.Queue, deps.Metrics, logger, engine.Options{
		Concurrency: cfg.Engine.Concurrency,
	})
	deps.Router = events.NewRouter(deps.Orders, deps.Events, deps.Transfers, deps.Oracle, deps.Queue, protoCfg, deps.Metrics, logger)

	if cfg.Chain.WatchEvents {
		watcher, err := events.NewWatcher(ctx, events.WatcherConfig{
			RPCURL:        cfg.Chain.RPCURL,
			PollInterval:  cfg.Chain.PollInterval.Duration,
			Confirmations: cfg.Chain.Confirmations,
			StartBlock:    cfg.Chain.StartBlock,
			BatchBlocks:   cfg.Chain.BatchBlocks,
		}, deps.Router, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: watcher: %w", err)
		}
		closers = append(closers, watcher.Close)
		deps.Watcher = watcher
	}

	return deps, cleanup, nil
}
