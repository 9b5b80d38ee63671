package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/arbitrage"
	s3blob "github.com/jonesconnor/prediction-market-arbitrage/internal/blob/s3"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/cache/memory"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/cache/redis"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/config"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/notify"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/service"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/store/postgres"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Redis
	Snapshots   *redis.SnapshotStore
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// In-process market state
	Markets *memory.MarketCache

	Engine        *arbitrage.Engine
	Opportunities *service.OpportunityService

	// Optional, nil when the backing service is disabled.
	Archive    domain.UpdateArchive
	BlobWriter domain.BlobWriter
	Notifier   *notify.Notifier
}

// Wire constructs the concrete dependencies from cfg. Redis is always
// required; Postgres and S3 only when enabled. Any connection failure aborts
// startup.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		URL:        cfg.Redis.URL,
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Snapshots = redis.NewSnapshotStore(redisClient, redis.StoreConfig{
		KeyPrefix:  cfg.Redis.KeyPrefix,
		HistoryCap: cfg.Redis.HistoryCap,
	}, logger)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient, cfg.Redis.KeyPrefix)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Redis.KeyPrefix)

	// --- Markets and opportunities ---
	deps.Markets = memory.NewMarketCache(logger)
	deps.Engine = arbitrage.NewEngine(arbitrage.Thresholds{
		MinEdge:      cfg.Edge.MinEdge,
		MinLiquidity: cfg.Edge.MinLiquidity,
	})
	deps.Opportunities = service.NewOpportunityService(deps.Engine, deps.Snapshots, logger)

	// --- PostgreSQL update archive ---
	if cfg.Postgres.Enabled {
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
		deps.Archive = postgres.NewUpdateStore(pgClient.Pool())
	}

	// --- S3 snapshot export ---
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
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Notifications ---
	deps.Notifier = newNotifier(cfg.Notify, logger)

	return deps, cleanup, nil
}

// newNotifier returns nil when no channel is configured.
func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}
