package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attendkiosk/internal/attendance"
	"attendkiosk/internal/cloudinary"
	"attendkiosk/internal/config"
	"attendkiosk/internal/logging"
	"attendkiosk/internal/metrics"
	"attendkiosk/internal/queue"
	"attendkiosk/internal/store"
)

// Worker consumes kiosk events, archives unrecognized snapshots and journals every event.
func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis, got %q", cfg.QueueBackend)
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("db connect failed")
	}
	defer db.Close()
	if err := db.Migrate(ctx, log); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will keep retrying")
	}
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, log)

	var archiver attendance.Archiver
	if cdn := cloudinary.New(cfg.CloudinaryCloud, cfg.CloudinaryKey, cfg.CloudinarySecret, cfg.CloudinaryFolder); cdn.Configured() {
		archiver = cdn
		log.WithField("cloud", cfg.CloudinaryCloud).Info("cloudinary configured")
	} else {
		log.Info("cloudinary not configured, unrecognized snapshots are dropped")
	}

	journal := attendance.NewJournal(attendance.NewRepository(db.Client), archiver, attendance.JournalOptions{
		Template:     cfg.NotifyTemplate,
		Organization: cfg.Organization,
		Location:     cfg.Location(),
	}, log)

	m := metrics.New()
	metricsSrv := &http.Server{Addr: ":" + cfg.WorkerPort, Handler: m.Handler(), ReadTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	err = journal.Consume(ctx, q, func(outcome string) {
		m.EventsRecorded.WithLabelValues(outcome).Inc()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("consumer failed")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("worker stopped")
}
