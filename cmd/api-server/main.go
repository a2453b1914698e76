package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/consultation-scheduling/internal/api"
	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/db"
	"github.com/hackgods/consultation-scheduling/internal/logging"
	"github.com/hackgods/consultation-scheduling/internal/metrics"
	"github.com/hackgods/consultation-scheduling/internal/notify"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		stderrLog := zerolog.New(os.Stderr)
		stderrLog.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg, "api-server")
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.Store).
		Str("lock_backend", cfg.LockBackend).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo appointment.Repository
		deps []api.Dependency
	)

	switch cfg.Store {
	case config.StorePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
			MaxConns:        cfg.PostgresMaxConns,
			ApplicationName: "api-server",
		})
		cancelPg()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection error")
		}
		defer pgPool.Close()
		logger.Info().Msg("connected to Postgres")

		if cfg.PostgresMigrate {
			if err := db.Migrate(rootCtx, pgPool); err != nil {
				logger.Fatal().Err(err).Msg("schema migration failed")
			}
			logger.Info().Msg("schema applied")
		}

		pg := appointment.NewPgRepository(pgPool)
		repo = pg
		deps = append(deps, api.Dependency{Name: "postgres", Pinger: pg, Critical: true})
	default:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		repo = appointment.NewMemoryRepository()
	}

	var locker redisclient.Locker
	switch cfg.LockBackend {
	case config.LockRedis:
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, "api-server")
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
		deps = append(deps, api.Dependency{
			Name:   "redis",
			Pinger: api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		})
	default:
		locker = redisclient.NewLocalLocker(cfg.LockTTL, cfg.LockWait)
	}

	m := metrics.New()
	hub := notify.NewHub(logger)
	publishers := notify.Multi{notify.NewLogPublisher(logger), hub}

	if cfg.NATSURL != "" {
		nc, err := notify.ConnectNATS(cfg.NATSURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connection error")
		}
		defer nc.Drain()
		publishers = append(publishers, notify.NewNATSPublisher(nc))
		deps = append(deps, api.Dependency{
			Name: "nats",
			Pinger: api.PingFunc(func(ctx context.Context) error {
				return nc.FlushWithContext(ctx)
			}),
		})
		logger.Info().Str("url", cfg.NATSURL).Msg("connected to NATS")
	}

	dispatcher := notify.NewDispatcher(publishers, cfg.NotifyBuffer, logger, m)
	svc := appointment.NewService(repo, locker, dispatcher, cfg,
		appointment.WithLogger(logger),
		appointment.WithMetrics(m),
	)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:      svc,
			Hub:          hub,
			Metrics:      m,
			Dependencies: deps,
			Logger:       logger,
			Env:          cfg.Env,
			Version:      version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return dispatcher.Run(ctx, cfg.NotifyWorkers)
	})

	if cfg.EmbedMaintenance {
		g.Go(func() error {
			svc.RunMaintenance(ctx, cfg.MaintenanceInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api-server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("api-server stopped")
}
