package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/herbal-consult-booking/internal/api"
	"github.com/hackgods/herbal-consult-booking/internal/booking"
	"github.com/hackgods/herbal-consult-booking/internal/config"
	"github.com/hackgods/herbal-consult-booking/internal/db"
	"github.com/hackgods/herbal-consult-booking/internal/logging"
	"github.com/hackgods/herbal-consult-booking/internal/metrics"
	"github.com/hackgods/herbal-consult-booking/internal/pesapal"
	"github.com/hackgods/herbal-consult-booking/internal/queue"
	redisclient "github.com/hackgods/herbal-consult-booking/internal/redis"
	"github.com/hackgods/herbal-consult-booking/internal/session"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Init("api-server", cfg.Env, cfg.LogLevel)

	if err := cfg.RequirePayments(); err != nil {
		log.Fatal().Err(err).Msg("payment configuration error")
	}
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("AUTH_JWT_SECRET is required")
	}

	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rootCtx = log.Logger.WithContext(rootCtx)

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	// Connect Redis
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(reg)

	repo := booking.NewPgRepository(pgPool)
	gateway := pesapal.NewClient(pesapal.Config(cfg.Pesapal), bookingMetrics)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)

	opts := []booking.Option{booking.WithObserver(bookingMetrics)}
	if cfg.AMQPURL != "" {
		pub, err := queue.Dial(cfg.AMQPURL, queue.DefaultExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp connection error")
		}
		defer func() {
			if err := pub.Close(); err != nil {
				log.Error().Err(err).Msg("error closing amqp publisher")
			}
		}()
		opts = append(opts, booking.WithPublisher(pub))
		log.Info().Str("exchange", queue.DefaultExchange).Msg("publishing booking events")
	}

	orchestrator := booking.NewOrchestrator(repo, gateway, locker, cfg.Booking, opts...)
	profiles := session.NewPgProfileStore(pgPool)

	var identity session.IdentityProvider
	if cfg.AuthURL != "" {
		identity = session.NewGoTrueClient(cfg.AuthURL, cfg.AuthAPIKey)
	}

	router := api.NewRouter(api.RouterConfig{
		Bookings:      orchestrator,
		Lister:        booking.NewProjector(repo),
		Specialists:   repo,
		Profiles:      profiles,
		Identity:      identity,
		Verifier:      session.NewTokenVerifier(cfg.JWTSecret),
		DefaultFee:    cfg.Booking.DefaultFee,
		RedirectURL:   cfg.AuthRedirectURL,
		PostgresCheck: pgPool.Ping,
		RedisCheck:    redisclient.HealthCheck(rdb),
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Env:           cfg.Env,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Reconciliation waits on the payment processor.
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return context.WithoutCancel(rootCtx) },
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
	log.Info().Msg("api-server stopped")
}
