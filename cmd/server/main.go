package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tablepos/internal/config"
	"tablepos/internal/infra"
	"tablepos/internal/repository"
	"tablepos/internal/router"
	"tablepos/internal/worker"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// @title                      TablePOS billing API
// @version                    1.0
// @description                Table sessions, billings and split payments for restaurant service.
// @BasePath                   /
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Structured logger: pretty in dev, JSON in prod
	zerolog.TimeFieldFormat = time.RFC3339
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	rdb, err := infra.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Notification channels. The log channel is always on; webhook and mail
	// join when configured. All of them sit behind one breaker.
	channels := infra.MultiNotifier{infra.LogNotifier{}}
	if cfg.NotifyWebhookURL != "" {
		channels = append(channels, infra.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyTimeout()))
	}
	if cfg.SMTPHost != "" {
		channels = append(channels, infra.NewMailer(cfg))
	}
	notifierCB := infra.NewCircuitBreaker(infra.DefaultCBConfig("notifier"))
	notifier := infra.BreakerNotifier{Next: channels, Breaker: notifierCB}

	// Worker pool consumes the notification queue (composition root wiring).
	pool := worker.NewPool(rdb, cfg.WorkerPoolSize)
	pool.Handle(worker.QueueNotification, worker.JobNotification, worker.NewNotificationWorker(notifier, worker.NotificationWorkerConfig{
		Timeout:     cfg.NotifyTimeout(),
		MaxAttempts: 3,
	}))
	pool.Start(ctx)

	relay := worker.NewRelay(worker.RelayConfig{
		Outbox:      repository.NewOutboxRepository(db),
		Publisher:   worker.NewDispatcher(rdb),
		Locker:      redislock.New(rdb),
		Interval:    cfg.RelayInterval(),
		BatchSize:   cfg.OutboxBatchSize,
		MaxAttempts: cfg.OutboxMaxAttempts,
	})
	relay.Start(ctx)

	r := router.New(ctx, cfg, db, rdb, notifierCB)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Msgf("TablePOS billing listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	cancel()
	pool.Wait()
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	}
	log.Info().Msg("server exited")
}
