package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/oleksandr-h/weather-agent/internal/config"
	"github.com/oleksandr-h/weather-agent/internal/metrics"
	"github.com/oleksandr-h/weather-agent/internal/queue"
	sqliterepo "github.com/oleksandr-h/weather-agent/internal/repository/sqlite"
	"github.com/oleksandr-h/weather-agent/internal/scheduler"
	"github.com/oleksandr-h/weather-agent/internal/storage"
	"github.com/oleksandr-h/weather-agent/internal/subscription"
)

const initTimeout = 5 * time.Second

// ServiceContainer holds every wired component of the scheduling core.
type ServiceContainer struct {
	Db      *sql.DB
	Redis   *redis.Client
	Backend *queue.RedisBackend
	Adapter *scheduler.Adapter
	Repo    *sqliterepo.SubscriptionRepository
	Coord   *subscription.Service
	Runner  *queue.Runner
	Worker  *queue.Worker
	M       *metrics.Metrics
}

type App struct {
	cfg     config.Config
	l       zerolog.Logger
	handler queue.Handler
}

// New wires the application around an externally supplied job handler: the
// email transport is a collaborator, not part of this core.
func New(cfg config.Config, logger zerolog.Logger, handler queue.Handler) *App {
	logger = logger.With().Str("service", "weather-agent").Logger()
	return &App{cfg: cfg, l: logger, handler: handler}
}

// Start initializes storage and the queue backend, launches the runner and
// worker, and blocks until ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	container, err := a.Init(ctx)
	if err != nil {
		return err
	}

	container.Runner.Start(ctx)
	container.Worker.Start(ctx)
	a.l.Info().Msg("weather-agent started")

	<-ctx.Done()
	a.l.Info().Msg("shutdown signal received")
	return a.Stop(container)
}

// Init builds the container without starting background loops; tests use it
// to wire components against their own config.
func (a *App) Init(ctx context.Context) (*ServiceContainer, error) {
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	db, err := storage.Open(initCtx, a.cfg.DB.Dialect, a.cfg.DB.Source)
	if err != nil {
		a.l.Error().Err(err).Msg("DB open error")
		return nil, err
	}
	if err := storage.Migrate(db, a.cfg.DB.Dialect, a.cfg.DB.MigrationsPath); err != nil {
		a.l.Error().Err(err).Msg("DB migration error")
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := redisClient.Ping(initCtx).Err(); err != nil {
		// the backend may come up later; the breaker and retries cover the gap
		a.l.Warn().Err(err).Str("addr", a.cfg.Redis.Addr).Msg("redis not reachable at startup")
	}

	m := metrics.New("weather_agent")

	backend := queue.NewRedisBackend(redisClient, a.cfg.Queue.Name, a.cfg.Redis.OpTimeout, a.l)
	guarded := queue.NewBreakerBackend("weather-email-queue", queue.BreakerConfig{
		TimeInterval: a.cfg.Breaker.Interval,
		TimeTimeOut:  a.cfg.Breaker.Timeout,
		RepeatNumber: a.cfg.Breaker.FailureCount,
	}, backend)

	adapter := scheduler.NewAdapter(guarded, a.l, m, a.cfg.Scheduler.DefaultCronPattern)
	repo := sqliterepo.NewSubscriptionRepository(db, a.l, m)
	coord := subscription.NewService(
		repo, adapter, a.l, m,
		a.cfg.Scheduler.DefaultCronPattern,
		a.cfg.Scheduler.RetryAttempts,
		a.cfg.Scheduler.RetryBaseDelay,
	)

	runner := queue.NewRunner(backend, a.l, m, a.cfg.Queue.PollInterval)
	worker := queue.NewWorker(backend, a.handler, a.l, m, a.cfg.Queue.PopTimeout)

	return &ServiceContainer{
		Db:      db,
		Redis:   redisClient,
		Backend: backend,
		Adapter: adapter,
		Repo:    repo,
		Coord:   coord,
		Runner:  runner,
		Worker:  worker,
		M:       m,
	}, nil
}

func (a *App) Stop(container *ServiceContainer) error {
	a.l.Info().Msg("stopping application")

	container.Runner.Stop()
	container.Worker.Stop()

	if err := container.Redis.Close(); err != nil {
		a.l.Error().Err(err).Msg("redis close error")
	}
	if err := container.Db.Close(); err != nil {
		a.l.Error().Err(err).Msg("database close error")
	}

	a.l.Info().Msg("application shutdown complete")
	return nil
}
