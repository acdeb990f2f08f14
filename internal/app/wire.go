package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alexander-t-ho/prediction-market-sub001/internal/blob/s3"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/cache/redis"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/config"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/metrics"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/notify"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/server/handler"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/service"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/settlement"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/store/memory"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/store/postgres"
)

// AuditLog is an audit store that can also filter by market.
type AuditLog interface {
	domain.AuditStore
	handler.AuditLog
}

// Dependencies bundles every collaborator the modes need. Optional pieces are
// nil when their backend is disabled. It is constructed by Wire and torn down
// by the returned cleanup function.
type Dependencies struct {
	Store domain.SettlementStore
	Audit AuditLog

	// Postgres is set only for the postgres store driver; migrate and seed
	// need it directly.
	Postgres      *postgres.Client
	PostgresStore *postgres.SettlementStore

	// Redis-backed, nil without Redis. Cache falls back to an in-process map.
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	Cache       domain.ResultCache

	Archiver domain.ReportArchiver
	Notifier *notify.Notifier
	Metrics  *metrics.Manager

	Health map[string]handler.HealthCheck
}

// NewResolutionService builds the orchestrator over deps.
func (d *Dependencies) NewResolutionService(cfg *config.Config, logger *slog.Logger) *service.ResolutionService {
	opts := []service.ResolutionOption{
		service.WithResultCache(d.Cache),
		service.WithAuditStore(d.Audit),
	}
	if d.LockManager != nil {
		opts = append(opts, service.WithLockManager(d.LockManager))
	}
	if d.SignalBus != nil {
		opts = append(opts, service.WithSignalBus(d.SignalBus))
	}
	if d.Archiver != nil {
		opts = append(opts, service.WithReportArchiver(d.Archiver))
	}
	if d.Notifier != nil && d.Notifier.Enabled() {
		opts = append(opts, service.WithNotifier(d.Notifier))
	}
	if d.Metrics != nil {
		opts = append(opts, service.WithRecorder(d.Metrics))
	}

	return service.NewResolutionService(
		d.Store,
		settlement.NewEngine(cfg.Settlement.Engine()),
		service.ResolutionConfig{
			AllowEmptyMarkets: cfg.Settlement.AllowEmptyMarkets,
			LockTTL:           cfg.Settlement.LockTTL.Duration,
			LockWait:          cfg.Settlement.LockWait.Duration,
		},
		logger,
		opts...,
	)
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

	deps := &Dependencies{Health: map[string]handler.HealthCheck{}}

	// --- Settlement store ---
	switch cfg.StoreDriver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			ConnectTimeout:  cfg.Postgres.ConnectTimeout.Duration,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		// Migrate mode applies migrations itself and reports them.
		if cfg.Postgres.RunMigrations && cfg.Mode != "migrate" {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "wire: migrations applied", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.Postgres = pgClient
		deps.PostgresStore = postgres.NewSettlementStore(pool)
		deps.Store = deps.PostgresStore
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Ping

	case "memory":
		store := memory.NewSettlementStore()
		if path := cfg.Memory.FixturesPath; path != "" {
			n, err := store.LoadFixtures(path)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: memory fixtures: %w", err)
			}
			logger.InfoContext(ctx, "wire: fixtures loaded",
				slog.String("path", path),
				slog.Int("markets", n),
			)
		}
		deps.Store = store
		deps.Audit = memory.NewAuditStore()

	default:
		return nil, nil, fmt.Errorf("wire: unknown store driver %q", cfg.StoreDriver)
	}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Cache = redis.NewResultCache(redisClient, cfg.Redis.ResultTTL.Duration)
		deps.Health["redis"] = redisClient.Ping
	} else {
		deps.Cache = memory.NewResultCache()
	}

	// --- S3 report archive (optional) ---
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
		deps.Archiver = s3blob.NewReportArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.NewManager(metrics.WithNamespace(cfg.Metrics.Namespace))
	}

	return deps, cleanup, nil
}
