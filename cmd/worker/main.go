package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"transit-tracker/internal/app"
	"transit-tracker/internal/config"
	"transit-tracker/internal/events"
	natspub "transit-tracker/internal/events/nats"
	"transit-tracker/internal/logger"
	"transit-tracker/internal/repo/postgres"
)

func main() {
	configDir := flag.String("config", ".", "directory holding an optional .env file")
	flag.Parse()

	cfg, err := config.LoadWorker(*configDir)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := logger.Init(cfg.Environment, cfg.LogLevel, logger.FileOptions{
		Path:       cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()
	lg := logger.Named("worker").With(logger.Hostname())

	if !cfg.Outbox.Enabled {
		lg.Info("outbox disabled; exiting")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := app.OpenPostgres(ctx, cfg.Database, logger.Named("migrate"))
	if err != nil {
		lg.Fatal("database unavailable", zap.Error(err))
	}
	defer pool.Close()

	publisher, err := natspub.New(cfg.Outbox.NATSURL, cfg.Outbox.NATSSubject)
	if err != nil {
		lg.Fatal("nats unavailable", zap.Error(err))
	}
	defer publisher.Close()

	worker := &events.OutboxWorker{
		Repo:         postgres.NewStore(pool),
		Publisher:    publisher,
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		Logger:       lg,
	}
	if err := worker.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		lg.Fatal("worker stopped", zap.Error(err))
	}
}
