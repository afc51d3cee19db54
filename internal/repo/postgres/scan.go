package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"transit-tracker/internal/domain"
)

const uniqueViolation = "23505"

func scanVehicle(row pgx.Row, wantID string) (*domain.Vehicle, error) {
	var (
		id             string
		status         string
		routeID        sql.NullString
		routeClearedAt sql.NullTime
		cur            nullLocation
		prev           nullLocation
		lastUpdateAt   sql.NullTime
	)
	var snap domain.VehicleSnapshot
	err := row.Scan(
		&id,
		&snap.LicensePlate,
		&snap.Type,
		&snap.Capacity,
		&snap.Model,
		&status,
		&routeID,
		&routeClearedAt,
		&cur.lat, &cur.lng, &cur.accuracy,
		&prev.lat, &prev.lng, &prev.accuracy,
		&snap.SpeedKmh,
		&snap.BearingDegrees,
		&lastUpdateAt,
		&snap.OdometerMeters,
		&snap.Version,
		&snap.CreatedAt,
		&snap.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(domain.CodeVehicleNotFound, "vehicle not found", map[string]any{"vehicle_id": wantID})
		}
		return nil, err
	}
	snap.ID = domain.VehicleID(id)
	snap.Status = domain.VehicleStatus(status)
	if routeID.Valid {
		r := domain.RouteID(routeID.String)
		snap.RouteID = &r
	}
	snap.RouteClearedAt = timePtr(routeClearedAt)
	snap.CurrentLocation = cur.coordinate()
	snap.PreviousLocation = prev.coordinate()
	snap.LastUpdateAt = timePtr(lastUpdateAt)
	return domain.RestoreVehicle(snap), nil
}

func scanSession(row pgx.Row, wantID string) (*domain.TrackingSession, error) {
	var (
		id, vehicleID, status                 string
		routeID, driverID                     sql.NullString
		maxDuration, maxFixAge, maxFutureSkew int64
		startedAt, endedAt                    sql.NullTime
		lastFixAt, lastUpdateAt               sql.NullTime
		startLocation, currentLocation        []byte
		averageSpeed                          sql.NullFloat64
		points                                []byte
	)
	var snap domain.TrackingSessionSnapshot
	err := row.Scan(
		&id,
		&vehicleID,
		&routeID,
		&driverID,
		&status,
		&maxDuration,
		&maxFixAge,
		&maxFutureSkew,
		&snap.Limits.MaxAccuracyMeters,
		&snap.Limits.HighAccuracyMeters,
		&snap.Limits.MaxPoints,
		&startedAt,
		&endedAt,
		&startLocation,
		&currentLocation,
		&snap.CurrentSpeedKmh,
		&snap.CurrentBearing,
		&lastFixAt,
		&lastUpdateAt,
		&snap.TotalDistance,
		&snap.MaxSpeedKmh,
		&averageSpeed,
		&snap.AccuracyPercent,
		&snap.Counters.Received,
		&snap.Counters.Valid,
		&snap.Counters.Filtered,
		&snap.Counters.HighAccuracy,
		&points,
		&snap.Version,
		&snap.CreatedAt,
		&snap.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(domain.CodeSessionNotFound, "tracking session not found", map[string]any{"session_id": wantID})
		}
		return nil, err
	}
	snap.ID = domain.TrackingSessionID(id)
	snap.VehicleID = domain.VehicleID(vehicleID)
	snap.Status = domain.SessionStatus(status)
	if routeID.Valid {
		r := domain.RouteID(routeID.String)
		snap.RouteID = &r
	}
	if driverID.Valid {
		d := domain.DriverID(driverID.String)
		snap.DriverID = &d
	}
	snap.Limits.MaxDuration = time.Duration(maxDuration)
	snap.Limits.MaxFixAge = time.Duration(maxFixAge)
	snap.Limits.MaxFutureSkew = time.Duration(maxFutureSkew)
	snap.StartedAt = timePtr(startedAt)
	snap.EndedAt = timePtr(endedAt)
	snap.LastFixAt = timePtr(lastFixAt)
	snap.LastUpdateAt = timePtr(lastUpdateAt)
	if averageSpeed.Valid {
		avg := averageSpeed.Float64
		snap.AverageSpeedKmh = &avg
	}
	if snap.StartLocation, err = decodeCoordinate(startLocation); err != nil {
		return nil, err
	}
	if snap.CurrentLocation, err = decodeCoordinate(currentLocation); err != nil {
		return nil, err
	}
	if len(points) > 0 {
		if err := json.Unmarshal(points, &snap.Points); err != nil {
			return nil, fmt.Errorf("decode session points: %w", err)
		}
	}
	return domain.RestoreTrackingSession(snap), nil
}

type encodedSession struct {
	startLocation   []byte
	currentLocation []byte
	points          []byte
}

func sessionArgs(snap domain.TrackingSessionSnapshot) (encodedSession, error) {
	var out encodedSession
	var err error
	if out.startLocation, err = encodeCoordinate(snap.StartLocation); err != nil {
		return out, err
	}
	if out.currentLocation, err = encodeCoordinate(snap.CurrentLocation); err != nil {
		return out, err
	}
	pts := snap.Points
	if pts == nil {
		pts = []domain.TrackingPoint{}
	}
	if out.points, err = json.Marshal(pts); err != nil {
		return out, fmt.Errorf("encode session points: %w", err)
	}
	return out, nil
}

func encodeCoordinate(c *domain.Coordinate) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func decodeCoordinate(raw []byte) (*domain.Coordinate, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var c domain.Coordinate
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode coordinate: %w", err)
	}
	return &c, nil
}

type nullLocation struct {
	lat, lng, accuracy sql.NullFloat64
}

func (n nullLocation) coordinate() *domain.Coordinate {
	if !n.lat.Valid || !n.lng.Valid {
		return nil
	}
	return &domain.Coordinate{Lat: n.lat.Float64, Lng: n.lng.Float64, AccuracyMeters: n.accuracy.Float64}
}

func locationArgs(c *domain.Coordinate) nullLocation {
	if c == nil {
		return nullLocation{}
	}
	return nullLocation{
		lat:      sql.NullFloat64{Float64: c.Lat, Valid: true},
		lng:      sql.NullFloat64{Float64: c.Lng, Valid: true},
		accuracy: sql.NullFloat64{Float64: c.AccuracyMeters, Valid: true},
	}
}

// translateError maps constraint violations onto domain conflicts.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "vehicles_license_plate_key":
		return domain.Conflict(domain.CodeLicensePlateDuplicate, "license plate already registered", nil)
	case "tracking_sessions_open_vehicle_key":
		return domain.Conflict(domain.CodeSessionActive, "vehicle already has an open tracking session", nil)
	default:
		return domain.Conflict(domain.CodeVersionConflict, "row already exists",
			map[string]any{"constraint": pgErr.ConstraintName})
	}
}

func versionConflict(id string, version int64) error {
	return domain.Conflict(domain.CodeVersionConflict, "aggregate was modified concurrently",
		map[string]any{"id": id, "expected_version": version})
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullRouteID(v *domain.RouteID) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}

func nullDriverID(v *domain.DriverID) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}
