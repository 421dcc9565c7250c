package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"saas_template/internal/ai"
	"saas_template/internal/cache"
	"saas_template/internal/config"
	"saas_template/internal/email"
	"saas_template/internal/httpapi"
	"saas_template/internal/jobs"
	"saas_template/internal/logging"
	"saas_template/internal/pricing"
	"saas_template/internal/queue"
	"saas_template/internal/ratelimit"
	"saas_template/internal/storage"
	"saas_template/internal/usage"
	"saas_template/internal/utils"
)

// services holds every long-lived component of the process
type services struct {
	cfg      *config.Config
	db       *storage.DB
	redis    *storage.RedisClient
	archive  logging.Sink
	recorder *usage.Recorder
	reporter *usage.Reporter
	ai       *ai.Client
	users    *storage.UserRepository
	mailer   *email.Sender
	registry *queue.Registry
	logger   *utils.Logger
}

// setupLogging configures the process logger from cfg
func setupLogging(cfg *config.Config) io.Closer {
	return utils.ConfigureLogging(utils.LogOptions{
		Level:      utils.ParseLogLevel(cfg.Log.Level),
		JSON:       cfg.Log.Format == "json",
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

// openRedis connects to Redis
func openRedis(cfg *config.Config) (*storage.RedisClient, error) {
	return storage.NewRedisClient(storage.RedisConfig{
		URL:          cfg.Redis.URL,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
}

func queueConfig(cfg *config.Config) *queue.Config {
	qc := queue.DefaultConfig()
	qc.MaxRetries = cfg.Queue.MaxRetries
	qc.RetryBackoff = cfg.Queue.RetryBackoff
	qc.PollTimeout = cfg.Queue.PollTimeout
	return qc
}

// newMailer creates the transactional email sender
func newMailer(cfg *config.Config) *email.Sender {
	return email.NewSender(email.Config{
		APIKey:  cfg.Email.ResendAPIKey,
		BaseURL: cfg.Email.BaseURL,
		From:    cfg.Email.From,
	})
}

// openRegistry opens the job queues on the configured backend
func openRegistry(cfg *config.Config, redisClient *storage.RedisClient) (*queue.Registry, error) {
	qc := queueConfig(cfg)
	factory := queue.MemoryFactory()
	if cfg.Queue.Backend == "redis" {
		if redisClient == nil {
			return nil, fmt.Errorf("redis queue backend requires a Redis connection")
		}
		factory = queue.RedisFactory(redisClient.Client(), qc)
	}
	return jobs.NewRegistry(factory, qc, newMailer(cfg))
}

// newServices wires storage, caches, the AI client and the job queues
func newServices(ctx context.Context, cfg *config.Config) (*services, error) {
	s := &services{cfg: cfg, logger: utils.NewLogger("server")}

	// Initialize database
	dbConfig := storage.DefaultDBConfig()
	dbConfig.Driver = cfg.Database.Driver
	dbConfig.DSN = cfg.Database.URL
	dbConfig.MaxOpenConns = cfg.Database.MaxOpenConns
	dbConfig.MaxIdleConns = cfg.Database.MaxIdleConns
	dbConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	dbConfig.ConnMaxIdleTime = cfg.Database.ConnMaxIdleTime

	db, err := storage.NewDB(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	// Initialize Redis client
	redisClient, err := openRedis(cfg)
	if err != nil {
		s.close(ctx)
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}
	s.redis = redisClient

	// Initialize usage archive
	s.archive = logging.NewNoopSink()
	if cfg.Archive.Enabled {
		writer, err := logging.NewS3Writer(ctx, logging.S3WriterConfig{
			Bucket:   cfg.Archive.S3Bucket,
			Region:   cfg.Archive.S3Region,
			Prefix:   cfg.Archive.S3Prefix,
			PodName:  cfg.Archive.PodName,
			Endpoint: cfg.Archive.S3Endpoint,
		})
		if err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("failed to initialize usage archive: %w", err)
		}
		s.archive = logging.NewBufferedSink(writer, logging.BufferedSinkConfig{
			BufferSize:    cfg.Archive.BufferSize,
			FlushSize:     cfg.Archive.FlushSize,
			FlushInterval: cfg.Archive.FlushInterval,
		})
	}

	// Usage ledger
	repo := db.NewUsageLogRepository()
	s.recorder = usage.NewRecorder(repo, s.archive)
	s.reporter = usage.NewReporter(repo)
	s.users = db.NewUserRepository()
	s.mailer = newMailer(cfg)
	if !s.mailer.Enabled() {
		s.logger.Warn("RESEND_API_KEY not set, welcome emails will only be logged")
	}

	// Pricing and completion client
	resolver := pricing.NewResolver(cache.New(redisClient.Client()), pricing.Config{
		BaseURL:  cfg.OpenRouter.BaseURL,
		APIKey:   cfg.OpenRouter.APIKey,
		CacheTTL: cfg.OpenRouter.PricingCacheTTL,
	})
	s.ai = ai.NewClient(ai.Config{
		APIKey:       cfg.OpenRouter.APIKey,
		BaseURL:      cfg.OpenRouter.BaseURL,
		DefaultModel: cfg.OpenRouter.DefaultModel,
		Referer:      cfg.OpenRouter.Referer,
		Title:        cfg.OpenRouter.Title,
		Timeout:      cfg.OpenRouter.RequestTimeout,
	}, resolver, s.recorder)

	// Job queues
	registry, err := openRegistry(cfg, redisClient)
	if err != nil {
		s.close(ctx)
		return nil, fmt.Errorf("failed to open job queues: %w", err)
	}
	s.registry = registry

	return s, nil
}

// dependencies exposes the services to the HTTP layer
func (s *services) dependencies() *httpapi.Dependencies {
	return &httpapi.Dependencies{
		AI:        s.ai,
		Usage:     s.reporter,
		Queues:    s.registry,
		Users:     s.users,
		JWTSecret: s.cfg.JWTSecret,

		RateLimiter: ratelimit.NewRateLimiter(s.redis.Client()),
		AIRateLimit: s.cfg.OpenRouter.RateLimit,

		Health: map[string]httpapi.HealthCheck{
			"database": s.db.Health,
			"redis":    s.redis.Health,
		},
		RecorderStats: s.recorder.Stats,
	}
}

// close releases everything in reverse order of creation
func (s *services) close(ctx context.Context) error {
	var errs []error
	if s.registry != nil {
		errs = append(errs, s.registry.Close())
	}
	if s.archive != nil {
		// Flush remaining archived usage to S3
		errs = append(errs, s.archive.Shutdown(ctx))
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
