package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/db"
	"github.com/hackgods/consultation-scheduling/internal/logging"
	"github.com/hackgods/consultation-scheduling/internal/metrics"
	"github.com/hackgods/consultation-scheduling/internal/notify"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
)

// queue-worker runs the queue self-healing pass out of process. It shares
// the provider/day locks with the api-server, so the two never race.
func main() {
	cfg, err := config.Load()
	if err != nil {
		stderrLog := zerolog.New(os.Stderr)
		stderrLog.Fatal().Err(err).Msg("config load error")
	}
	if cfg.Store != config.StorePostgres || cfg.LockBackend != config.LockRedis {
		stderrLog := zerolog.New(os.Stderr)
		stderrLog.Fatal().Msg("queue-worker needs STORE=postgres and LOCK_BACKEND=redis")
	}

	logger := logging.New(cfg, "queue-worker")
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.MaintenanceInterval).
		Msg("queue-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns:        cfg.PostgresMaxConns,
		ApplicationName: "queue-worker",
	})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, "queue-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	m := metrics.New()
	dispatcher := notify.NewDispatcher(notify.NewLogPublisher(logger), cfg.NotifyBuffer, logger, m)
	go dispatcher.Run(rootCtx, 1)

	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	svc := appointment.NewService(repo, locker, dispatcher, cfg,
		appointment.WithLogger(logger),
		appointment.WithMetrics(m),
	)

	svc.RunMaintenance(rootCtx, cfg.MaintenanceInterval)
	logger.Info().Msg("queue-worker stopped")
}
