package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/herbal-consult-booking/internal/booking"
	"github.com/hackgods/herbal-consult-booking/internal/config"
	"github.com/hackgods/herbal-consult-booking/internal/db"
	"github.com/hackgods/herbal-consult-booking/internal/logging"
	"github.com/hackgods/herbal-consult-booking/internal/metrics"
	"github.com/hackgods/herbal-consult-booking/internal/pesapal"
	"github.com/hackgods/herbal-consult-booking/internal/queue"
	redisclient "github.com/hackgods/herbal-consult-booking/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Init("expiry-worker", cfg.Env, cfg.LogLevel)

	if err := cfg.RequirePayments(); err != nil {
		log.Fatal().Err(err).Msg("payment configuration error")
	}

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("provisional_ttl", cfg.Booking.ProvisionalTTL).
		Msg("expiry worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rootCtx = log.Logger.WithContext(rootCtx)

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	rdb, err := redisclient.Connect(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()

	// No scrape endpoint here; the registry keeps the observer wiring uniform.
	workerMetrics := metrics.NewBookingMetrics(prometheus.NewRegistry())

	opts := []booking.Option{booking.WithObserver(workerMetrics)}
	if cfg.AMQPURL != "" {
		pub, err := queue.Dial(cfg.AMQPURL, queue.DefaultExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp connection error")
		}
		defer func() { _ = pub.Close() }()
		opts = append(opts, booking.WithPublisher(pub))
	}

	repo := booking.NewPgRepository(pgPool)
	gateway := pesapal.NewClient(pesapal.Config(cfg.Pesapal), workerMetrics)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	svc := booking.NewOrchestrator(repo, gateway, locker, cfg.Booking, opts...)

	// Run once at startup
	runOnce(rootCtx, svc)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Orchestrator) {
	runCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := svc.ExpireProvisionalBookings(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("expiry run error")
		return
	}
	log.Info().Int("expired", expired).Dur("took", time.Since(start)).Msg("expiry run complete")
}
