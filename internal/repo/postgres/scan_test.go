package postgres

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/domain"
)

func TestTranslateError(t *testing.T) {
	plate := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "vehicles_license_plate_key"}
	err := translateError(plate)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.CodeLicensePlateDuplicate, domain.CodeOf(err))

	open := &pgconn.PgError{Code: uniqueViolation, ConstraintName: "tracking_sessions_open_vehicle_key"}
	assert.Equal(t, domain.CodeSessionActive, domain.CodeOf(translateError(open)))

	other := &pgconn.PgError{Code: "23503"}
	assert.Same(t, other, translateError(other))

	plain := errors.New("conn reset")
	assert.Equal(t, plain, translateError(plain))
}

func TestCoordinateCodec(t *testing.T) {
	raw, err := encodeCoordinate(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)
	c, err := decodeCoordinate(nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	raw, err = encodeCoordinate(&domain.Coordinate{Lat: 24.7, Lng: 46.6, AccuracyMeters: 4})
	require.NoError(t, err)
	assert.JSONEq(t, `{"lat":24.7,"lng":46.6,"accuracy_meters":4}`, string(raw))

	_, err = decodeCoordinate([]byte("{"))
	assert.Error(t, err)
}

func TestSessionArgs_EmptyPointsEncodeAsArray(t *testing.T) {
	args, err := sessionArgs(domain.TrackingSessionSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(args.points))
	assert.Nil(t, args.startLocation)
}

func TestLocationArgs(t *testing.T) {
	assert.Nil(t, locationArgs(nil).coordinate())
	loc := locationArgs(&domain.Coordinate{Lat: 1, Lng: 2, AccuracyMeters: 3})
	assert.Equal(t, &domain.Coordinate{Lat: 1, Lng: 2, AccuracyMeters: 3}, loc.coordinate())
}

func TestMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0000_dir.sql"), 0o700))

	files, err := migrationFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "0001_a.sql"), filepath.Join(dir, "0002_b.sql")}, files)

	files, err = migrationFiles(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestShippedMigrationParsesAsFiles(t *testing.T) {
	files, err := migrationFiles(filepath.Join("..", "..", "..", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "0001_init.sql", filepath.Base(files[0]))
}
