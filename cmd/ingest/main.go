// Command ingest runs one ingestion pass against the configured providers and prints the
// aggregated result as JSON. The exit status is 1 when the run was not fully successful.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"transit-tracker/internal/app"
	"transit-tracker/internal/config"
	"transit-tracker/internal/logger"
	"transit-tracker/internal/repo/postgres"
	"transit-tracker/internal/service"
	"transit-tracker/internal/telemetry"
)

func main() {
	configDir := flag.String("config", ".", "directory holding an optional .env file")
	only := flag.String("providers", "", "comma separated provider names; empty runs all")
	flag.Parse()

	cfg, err := config.LoadWorker(*configDir)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := logger.Init(cfg.Environment, cfg.LogLevel, logger.FileOptions{Path: cfg.Log.FilePath}); err != nil {
		log.Fatalf("logger error: %v", err)
	}
	code := run(cfg, splitNames(*only), logger.Named("ingest"))
	logger.Sync()
	os.Exit(code)
}

func run(cfg *config.Config, names []string, lg *zap.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		lg.Error("tracing setup failed", zap.Error(err))
		return 1
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pool, err := app.OpenPostgres(ctx, cfg.Database, logger.Named("migrate"))
	if err != nil {
		lg.Error("database unavailable", zap.Error(err))
		return 1
	}
	defer pool.Close()

	svc := service.New(postgres.NewStore(pool), app.SessionLimits(cfg.Session), logger.Named("service"))
	ingestion, err := app.NewIngestion(ctx, cfg.Ingest, svc, lg)
	if err != nil {
		lg.Error("ingestion setup failed", zap.Error(err))
		return 1
	}
	defer ingestion.Close()

	res := ingestion.Coordinator.Run(ctx, names)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		lg.Error("encode result", zap.Error(err))
	}
	if !res.Successful {
		return 1
	}
	return 0
}

func splitNames(raw string) []string {
	var names []string
	for _, n := range strings.Split(raw, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
