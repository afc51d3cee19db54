package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/config"
	"transit-tracker/internal/domain"
	"transit-tracker/internal/repo/memory"
	"transit-tracker/internal/service"
)

const catalogYAML = `
providers:
  - name: depot-feed
    kind: static
    fixes:
      - vehicle_id: APP-1
        lat: 41.3874
        lng: 2.1686
        accuracy: 5
      - vehicle_id: APP-2
        lat: 41.40
        lng: 2.17
        accuracy: 500
  - name: disabled
    kind: static
    enabled: false
`

func ingestConfig(t *testing.T) config.IngestConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))
	return config.IngestConfig{
		MaxAccuracyMeters:            50,
		MaxSpeedKmh:                  150,
		RejectNullIsland:             true,
		MaxGPSAge:                    5 * time.Minute,
		LocationUpdateCooldown:       5 * time.Second,
		BatchSize:                    10,
		CommandTimeout:               5 * time.Second,
		MaxConcurrentLocationUpdates: 4,
		MaxConcurrentBatches:         2,
		MaxConcurrentStatusChanges:   2,
		ProvidersFile:                path,
		CooldownBackend:              "memory",
	}
}

func newService(t *testing.T, plates ...string) *service.Service {
	t.Helper()
	svc := service.New(memory.New(), domain.DefaultSessionLimits(), nil)
	for _, p := range plates {
		_, err := svc.RegisterVehicle(context.Background(), service.RegisterVehicleCommand{LicensePlate: p})
		require.NoError(t, err)
	}
	return svc
}

func TestNewIngestion_MemoryBackend(t *testing.T) {
	cfg := ingestConfig(t)
	ing, err := NewIngestion(context.Background(), cfg, newService(t, "APP-1", "APP-2"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ing.Close() })

	assert.Equal(t, []string{"depot-feed"}, ing.Coordinator.ProviderNames())

	res := ing.Coordinator.Run(context.Background(), nil)
	assert.Equal(t, 2, res.TotalFetched)
	assert.Equal(t, 1, res.TotalSuccessful)
	assert.Equal(t, 1, res.TotalFiltered)

	assert.Equal(t, 0, ing.Prune(time.Now(), cfg.LocationUpdateCooldown))
	assert.Equal(t, 1, ing.Prune(time.Now().Add(time.Hour), cfg.LocationUpdateCooldown))
}

func TestNewIngestion_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := ingestConfig(t)
	cfg.CooldownBackend = "redis"
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"

	ing, err := NewIngestion(context.Background(), cfg, newService(t, "APP-1"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ing.Close() })

	res := ing.Coordinator.Run(context.Background(), nil)
	assert.Equal(t, 1, res.TotalSuccessful)
	assert.Len(t, mr.Keys(), 1)
	assert.Equal(t, 0, ing.Prune(time.Now().Add(time.Hour), cfg.LocationUpdateCooldown))
}

func TestNewIngestion_MissingCatalog(t *testing.T) {
	cfg := ingestConfig(t)
	cfg.ProvidersFile = filepath.Join(t.TempDir(), "absent.yaml")

	ing, err := NewIngestion(context.Background(), cfg, newService(t), nil)
	require.NoError(t, err)
	assert.Empty(t, ing.Coordinator.ProviderNames())
	assert.True(t, ing.Coordinator.Run(context.Background(), nil).NoProviders)
}

func TestNewIngestion_UnreachableRedis(t *testing.T) {
	cfg := ingestConfig(t)
	cfg.CooldownBackend = "redis"
	cfg.RedisURL = "redis://127.0.0.1:1/0"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewIngestion(ctx, cfg, newService(t), nil)
	assert.Error(t, err)
}

func TestSessionLimits(t *testing.T) {
	limits := SessionLimits(config.SessionConfig{MaxPoints: 50, MaxDuration: time.Hour, MaxFixAge: 3 * time.Minute})
	assert.Equal(t, 50, limits.MaxPoints)
	assert.Equal(t, time.Hour, limits.MaxDuration)
	assert.Equal(t, 3*time.Minute, limits.MaxFixAge)
	assert.Equal(t, domain.DefaultSessionLimits().HighAccuracyMeters, limits.HighAccuracyMeters)
}

func TestSessionLimits_DefaultsAcceptFixOlderThanIngestMaxAge(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/fleet")
	cfg, err := config.LoadWorker(t.TempDir())
	require.NoError(t, err)
	require.Less(t, cfg.Ingest.MaxGPSAge, 7*time.Minute)

	ctx := context.Background()
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	svc := service.New(memory.New(), SessionLimits(cfg.Session), nil).WithClock(func() time.Time { return now })
	v, err := svc.RegisterVehicle(ctx, service.RegisterVehicleCommand{LicensePlate: "AGE-7"})
	require.NoError(t, err)
	sess, err := svc.StartSession(ctx, service.StartSessionCommand{VehicleID: v.ID().String()})
	require.NoError(t, err)

	res, err := svc.ProcessSessionFix(ctx, sess.ID().String(), service.SessionFixCommand{
		Lat: 41.3874, Lng: 2.1686, AccuracyMeters: 5, SpeedKmh: 20, Timestamp: now.Add(-7 * time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	_, err = svc.ProcessSessionFix(ctx, sess.ID().String(), service.SessionFixCommand{
		Lat: 41.3874, Lng: 2.1686, AccuracyMeters: 5, Timestamp: now.Add(-11 * time.Minute),
	})
	assert.Equal(t, domain.CodeGPSTooOld, domain.CodeOf(err))
}
