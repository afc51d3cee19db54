// Package app assembles the long-lived components shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"transit-tracker/internal/config"
	"transit-tracker/internal/domain"
	"transit-tracker/internal/ingest"
	"transit-tracker/internal/ingest/redisgate"
	"transit-tracker/internal/provider"
	"transit-tracker/internal/repo/postgres"
)

// OpenPostgres connects, pings and, when enabled, applies the SQL migrations.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if cfg.MigrateOnStart {
		if err := postgres.ApplyMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	return pool, nil
}

// SessionLimits maps the session settings onto the domain limits. Zero values keep the
// domain defaults.
func SessionLimits(cfg config.SessionConfig) domain.SessionLimits {
	limits := domain.DefaultSessionLimits()
	limits.MaxPoints = cfg.MaxPoints
	limits.MaxDuration = cfg.MaxDuration
	limits.MaxFixAge = cfg.MaxFixAge
	return limits
}

func FilterConfig(cfg config.IngestConfig) ingest.FilterConfig {
	return ingest.FilterConfig{
		MaxAccuracyMeters: cfg.MaxAccuracyMeters,
		MaxSpeedKmh:       cfg.MaxSpeedKmh,
		RejectNullIsland:  cfg.RejectNullIsland,
		MaxGPSAge:         cfg.MaxGPSAge,
		Cooldown:          cfg.LocationUpdateCooldown,
	}
}

func CoordinatorConfig(cfg config.IngestConfig) ingest.CoordinatorConfig {
	return ingest.CoordinatorConfig{
		BatchSize:                    cfg.BatchSize,
		FetchTimeout:                 cfg.CommandTimeout,
		MaxConcurrentBatches:         cfg.MaxConcurrentBatches,
		MaxConcurrentLocationUpdates: cfg.MaxConcurrentLocationUpdates,
		MaxConcurrentStatusChanges:   cfg.MaxConcurrentStatusChanges,
	}
}

// Ingestion owns the coordinator together with its cooldown backend.
type Ingestion struct {
	Coordinator *ingest.Coordinator

	memory  *ingest.MemoryCooldown
	closers []func() error
}

// NewIngestion loads the provider catalog and picks the cooldown backend. A missing catalog
// file is not an error; the coordinator then has no providers.
func NewIngestion(ctx context.Context, cfg config.IngestConfig, updater ingest.LocationUpdater, log *zap.Logger) (*Ingestion, error) {
	if log == nil {
		log = zap.NewNop()
	}
	out := &Ingestion{}

	var gate ingest.CooldownGate
	switch cfg.CooldownBackend {
	case "redis":
		g, client, err := redisgate.Dial(ctx, cfg.RedisURL, cfg.LocationUpdateCooldown)
		if err != nil {
			return nil, err
		}
		out.closers = append(out.closers, client.Close)
		gate = g
	default:
		out.memory = ingest.NewMemoryCooldown(cfg.LocationUpdateCooldown)
		gate = out.memory
	}

	catalog, err := provider.LoadCatalog(cfg.ProvidersFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("provider catalog not found, ingestion has no providers", zap.String("path", cfg.ProvidersFile))
	case err != nil:
		_ = out.Close()
		return nil, err
	}
	providers := catalog.Build(time.Now().UTC())

	filter := ingest.NewFilter(FilterConfig(cfg), gate, log.Named("filter"))
	out.Coordinator = ingest.NewCoordinator(CoordinatorConfig(cfg), providers, filter, updater, log)
	log.Info("ingestion ready",
		zap.Strings("providers", out.Coordinator.ProviderNames()),
		zap.String("cooldown_backend", cfg.CooldownBackend))
	return out, nil
}

// Prune drops in-process cooldown entries older than the window. Redis expires its own keys.
func (i *Ingestion) Prune(now time.Time, window time.Duration) int {
	if i.memory == nil {
		return 0
	}
	return i.memory.Prune(now.Add(-window))
}

func (i *Ingestion) Close() error {
	var errs []error
	for _, c := range i.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunEvery triggers a full ingestion run on each tick until ctx ends.
func (i *Ingestion) RunEvery(ctx context.Context, interval, cooldown time.Duration, log *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res := i.Coordinator.Run(ctx, nil)
			log.Info("scheduled ingestion finished",
				zap.Bool("successful", res.Successful),
				zap.Int("providers_run", res.ProvidersRun),
				zap.Int("fetched", res.TotalFetched),
				zap.Int("updated", res.TotalSuccessful-res.TotalUnchanged),
				zap.Int("failed", res.TotalFailed),
				zap.Int("filtered", res.TotalFiltered),
				zap.Duration("duration", res.Duration))
			if pruned := i.Prune(time.Now().UTC(), cooldown); pruned > 0 {
				log.Debug("cooldown entries pruned", zap.Int("count", pruned))
			}
		}
	}
}
