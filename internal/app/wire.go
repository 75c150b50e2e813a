package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	s3blob "github.com/alanyoungcy/venuearb/internal/blob/s3"
	"github.com/alanyoungcy/venuearb/internal/cache/redis"
	"github.com/alanyoungcy/venuearb/internal/config"
	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/notify"
	"github.com/alanyoungcy/venuearb/internal/ratelimit"
	"github.com/alanyoungcy/venuearb/internal/server/handler"
	"github.com/alanyoungcy/venuearb/internal/service"
	"github.com/alanyoungcy/venuearb/internal/store/postgres"
	"github.com/alanyoungcy/venuearb/internal/venue"
)

// Dependencies bundles the infrastructure the modes run on. Every backing
// service is optional; the pipeline runs with none of them configured.
type Dependencies struct {
	// Postgres
	Opportunities domain.OpportunityStore
	Executions    domain.ExecutionStore
	Audit         domain.AuditStore

	// Redis, or in-process stand-ins when disabled.
	Quotes      service.SnapshotCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	Signal      domain.SignalBus

	// S3
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	// Health probes the backing services for /api/health.
	Health map[string]handler.Check
}

// Wire constructs the configured backing services and returns them with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.Check)}

	// --- PostgreSQL ---
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, func() { _ = pgClient.Close() })

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Opportunities = postgres.NewOpportunityStore(pool)
		deps.Executions = postgres.NewExecutionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pool.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Quotes = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Signal = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient.Ping
	} else {
		deps.RateLimiter = ratelimit.NewLocal()
	}

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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Audit, cfg.S3.ArchivePrefix)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, ""))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// VenueConfigs converts the enabled [[venues]] entries into venue builder
// configs, reading RSA key files where configured.
func VenueConfigs(cfg *config.Config) ([]venue.Config, error) {
	enabled := cfg.EnabledVenues()
	out := make([]venue.Config, 0, len(enabled))
	for _, v := range enabled {
		vc := venue.Config{
			Name:        v.Name,
			Kind:        v.Kind,
			BaseURL:     v.BaseURL,
			WSURL:       v.WSURL,
			APIKey:      v.APIKey,
			Timeout:     v.Timeout.Duration,
			Instruments: v.Instruments,
			Symbols:     v.Symbols,
		}
		if vc.Timeout <= 0 {
			vc.Timeout = cfg.Market.FetchTimeout.Duration
		}
		if v.RSAPrivateKeyPath != "" {
			pem, err := os.ReadFile(v.RSAPrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("wire: venue %s: read rsa key: %w", v.Name, err)
			}
			vc.RSAPrivateKeyPEM = pem
		}
		if len(v.Quotes) > 0 {
			vc.Quotes = make(map[string]venue.StaticQuote, len(v.Quotes))
			for inst, q := range v.Quotes {
				vc.Quotes[inst] = venue.StaticQuote{Bid: q.Bid, Ask: q.Ask, Last: q.Last}
			}
		}
		out = append(out, vc)
	}
	return out, nil
}
