package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/fleet")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.Servers.HTTPAddr)
	assert.Equal(t, time.Hour, cfg.Auth.JWTTTL)
	assert.Equal(t, 50.0, cfg.Ingest.MaxAccuracyMeters)
	assert.Equal(t, 150.0, cfg.Ingest.MaxSpeedKmh)
	assert.True(t, cfg.Ingest.RejectNullIsland)
	assert.Equal(t, 5*time.Minute, cfg.Ingest.MaxGPSAge)
	assert.Equal(t, 5*time.Second, cfg.Ingest.LocationUpdateCooldown)
	assert.Equal(t, 100, cfg.Ingest.BatchSize)
	assert.Equal(t, 20, cfg.Ingest.MaxConcurrentLocationUpdates)
	assert.Equal(t, "memory", cfg.Ingest.CooldownBackend)
	assert.Equal(t, 1000, cfg.Session.MaxPoints)
	assert.Equal(t, 24*time.Hour, cfg.Session.MaxDuration)
	assert.Equal(t, 10*time.Minute, cfg.Session.MaxFixAge)
	assert.True(t, cfg.Outbox.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/fleet")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("MAX_ACCURACY_METERS", "25.5")
	t.Setenv("REJECT_NULL_ISLAND", "false")
	t.Setenv("LOCATION_UPDATE_COOLDOWN", "750ms")
	t.Setenv("COOLDOWN_BACKEND", "redis")
	t.Setenv("MAX_CONCURRENT_BATCHES", "8")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 25.5, cfg.Ingest.MaxAccuracyMeters)
	assert.False(t, cfg.Ingest.RejectNullIsland)
	assert.Equal(t, 750*time.Millisecond, cfg.Ingest.LocationUpdateCooldown)
	assert.Equal(t, "redis", cfg.Ingest.CooldownBackend)
	assert.Equal(t, 8, cfg.Ingest.MaxConcurrentBatches)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	content := []byte("DATABASE_URL=postgres://file/fleet\nJWT_SECRET=from-file\nBATCH_SIZE=25\nAPP_ENV=staging\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), content, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 25, cfg.Ingest.BatchSize)
	assert.Equal(t, "postgres://file/fleet", cfg.Database.URL)
}

func TestLoad_Required(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_ServerNeedsJWTButWorkerDoesNot(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/fleet")
	t.Setenv("JWT_SECRET", "")

	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg, err := LoadWorker(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/fleet", cfg.Database.URL)
}

func TestLoad_RejectsUnknownCooldownBackend(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/fleet")
	t.Setenv("COOLDOWN_BACKEND", "memcached")

	_, err := LoadWorker(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COOLDOWN_BACKEND")
}

func TestLoad_ClampsSessionDuration(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/fleet")
	t.Setenv("SESSION_MAX_DURATION", "72h")

	cfg, err := LoadWorker(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, MaxSessionDuration, cfg.Session.MaxDuration)

	t.Setenv("SESSION_MAX_DURATION", "8h")
	cfg, err = LoadWorker(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour, cfg.Session.MaxDuration)
}
