package container

import (
	"context"
	"fmt"
	"time"

	"github.com/PhuccNguyen/hhsvhbvn/internal/config"
	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
	"github.com/PhuccNguyen/hhsvhbvn/internal/repository"
	"github.com/PhuccNguyen/hhsvhbvn/internal/service"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/credentials"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/database"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/logger"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/redis"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/retry"
)

const limiterJanitorInterval = 5 * time.Minute

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *logger.Logger
	RedisClient *redis.Client
	DB          *database.PostgresDB
	Catalog     *domain.Catalog
	Credentials credentials.Provider
	Store       repository.SubmissionStore
	Limiter     *service.Limiter
	Checkin     *service.CheckinService
	StartedAt   time.Time

	memoryLimiter *service.MemoryLimiterStore
	cancel        context.CancelFunc
}

// Option customizes container construction
type Option func(*options)

type options struct {
	credentials credentials.Provider
	store       repository.SubmissionStore
}

// WithCredentials replaces the environment credential provider
func WithCredentials(p credentials.Provider) Option {
	return func(o *options) { o.credentials = p }
}

// WithStore replaces the spreadsheet store
func WithStore(s repository.SubmissionStore) Option {
	return func(o *options) { o.store = s }
}

// New creates a new dependency injection container. Redis and Postgres are
// optional: when they are not configured or unreachable the in-process
// limiter store and duplicate index are used instead.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Container, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	catalog := domain.DefaultCatalog()
	if cfg.EventsFile != "" {
		loaded, err := domain.LoadCatalog(cfg.EventsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load event catalog: %w", err)
		}
		catalog = loaded
		log.WithField("events_file", cfg.EventsFile).Info("Event catalog loaded")
	}

	c := &Container{
		Config:    cfg,
		Logger:    log,
		Catalog:   catalog,
		StartedAt: time.Now(),
	}

	// Initialize Redis client if Redis URL is configured
	if cfg.RedisURL != "" {
		client, err := redis.NewClient(cfg.RedisURL, cfg.Environment, log)
		if err != nil {
			log.WithError(err).Warn("Failed to initialize Redis client, using in-memory stores")
		} else {
			c.RedisClient = client
			log.Info("Redis client initialized successfully")
		}
	} else {
		log.Info("Redis URL not configured, using in-memory stores")
	}

	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Warn("Failed to connect to database, skipping Postgres duplicate index")
		} else if err := database.EnsureSchema(ctx, db.Pool); err != nil {
			log.WithError(err).Warn("Failed to prepare duplicate index schema, skipping Postgres duplicate index")
			db.Close()
		} else {
			c.DB = db
			log.Info("Database connection established")
		}
	}

	var limiterStore service.RateLimiterStore
	if c.RedisClient != nil {
		limiterStore = service.NewRedisLimiterStore(c.RedisClient)
	} else {
		c.memoryLimiter = service.NewMemoryLimiterStore()
		limiterStore = c.memoryLimiter
	}
	c.Limiter = service.NewLimiter(limiterStore, cfg.RateLimitMax, cfg.RateLimitWindow)

	c.Credentials = o.credentials
	if c.Credentials == nil {
		c.Credentials = credentials.NewEnvProvider()
	}

	c.Store = o.store
	if c.Store == nil {
		retryPolicy := retry.DefaultPolicy()
		retryPolicy.Attempts = cfg.RetryAttempts
		retryPolicy.BaseDelay = cfg.RetryBaseDelay

		c.Store = repository.NewSheetsStore(repository.SheetsStoreConfig{
			Credentials: c.Credentials,
			Catalog:     catalog,
			Index:       c.duplicateIndex(),
			Retry:       retryPolicy,
			Logger:      log,
			Endpoint:    cfg.SheetsEndpoint,
		})
	}

	validator := service.NewValidator(catalog, service.ValidatorOptions{RequireTwoWordName: cfg.NameRequireTwoWords})
	policy := service.StatusPolicy{UnlimitedRegistration: cfg.UnlimitedRegistration}
	c.Checkin = service.NewCheckinService(c.Store, catalog, validator, policy, log)
	if c.RedisClient != nil {
		c.Checkin.UseStatsCache(service.NewStatsCache(c.RedisClient, service.DefaultStatsTTL, log.Logger))
	}

	return c, nil
}

// duplicateIndex picks the shared index when one is available
func (c *Container) duplicateIndex() repository.DuplicateIndex {
	ttl := c.Config.IndexWarmTTL
	switch {
	case c.DB != nil:
		c.Logger.Info("Using Postgres duplicate index")
		return repository.NewPostgresIndex(c.DB.Pool, ttl)
	case c.RedisClient != nil:
		c.Logger.Info("Using Redis duplicate index")
		return repository.NewRedisIndex(c.RedisClient, ttl)
	default:
		return repository.NewMemoryIndex(ttl)
	}
}

// Start launches background maintenance
func (c *Container) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	if c.memoryLimiter != nil {
		c.memoryLimiter.StartJanitor(ctx, limiterJanitorInterval)
	}
}

// Close stops background work and releases connections
func (c *Container) Close(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	var errs []error

	if c.RedisClient != nil {
		// Quick health check before closing (with short timeout)
		healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := c.RedisClient.Health(healthCtx); err != nil {
			c.Logger.WithError(err).Warn("Redis health check failed before closing")
		}
		cancel()

		if err := c.RedisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("Redis close: %w", err))
		}
	}

	if c.DB != nil {
		c.DB.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup completed with %d errors: %v", len(errs), errs)
	}
	return nil
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.Logger
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.Config
}

// HasRedis returns true if Redis client is available
func (c *Container) HasRedis() bool {
	return c.RedisClient != nil
}
