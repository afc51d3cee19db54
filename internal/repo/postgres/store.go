package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"transit-tracker/internal/domain"
	"transit-tracker/internal/events"
	"transit-tracker/internal/service"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) BeginTx(ctx context.Context) (service.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (s *Store) NextVehicleID(ctx context.Context) (domain.VehicleID, error) {
	return domain.NewVehicleID(), nil
}

func (s *Store) GetVehicle(ctx context.Context, id domain.VehicleID) (*domain.Vehicle, error) {
	return scanVehicle(s.pool.QueryRow(ctx, vehicleSelectByIDSQL, id.String()), id.String())
}

func (s *Store) FindVehicleByLicensePlate(ctx context.Context, plate string) (*domain.Vehicle, error) {
	v, err := scanVehicle(s.pool.QueryRow(ctx, vehicleSelectByPlateSQL, plate), "")
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NotFound(domain.CodeVehicleNotFound, "no vehicle with this license plate",
			map[string]any{"license_plate": plate})
	}
	return v, err
}

func (s *Store) ListVehicles(ctx context.Context, filter service.VehicleFilter) ([]*domain.Vehicle, error) {
	status := sql.NullString{}
	if filter.Status != nil {
		status = sql.NullString{String: string(*filter.Status), Valid: true}
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, vehicleListSQL, status, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vehicles := []*domain.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows, "")
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return vehicles, nil
}

func (s *Store) GetSession(ctx context.Context, id domain.TrackingSessionID) (*domain.TrackingSession, error) {
	return scanSession(s.pool.QueryRow(ctx, sessionSelectByIDSQL, id.String()), id.String())
}

// Ping reports whether the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (t *Tx) GetVehicleForUpdate(ctx context.Context, id domain.VehicleID) (*domain.Vehicle, error) {
	return scanVehicle(t.tx.QueryRow(ctx, vehicleSelectByIDForUpdateSQL, id.String()), id.String())
}

func (t *Tx) CreateVehicle(ctx context.Context, v *domain.Vehicle) error {
	snap := v.Snapshot()
	snap.Version = 1
	cur, prev := locationArgs(snap.CurrentLocation), locationArgs(snap.PreviousLocation)
	_, err := t.tx.Exec(ctx, vehicleInsertSQL,
		snap.ID.String(),
		snap.LicensePlate,
		snap.Type,
		snap.Capacity,
		snap.Model,
		string(snap.Status),
		nullRouteID(snap.RouteID),
		nullTime(snap.RouteClearedAt),
		cur.lat, cur.lng, cur.accuracy,
		prev.lat, prev.lng, prev.accuracy,
		snap.SpeedKmh,
		snap.BearingDegrees,
		nullTime(snap.LastUpdateAt),
		snap.OdometerMeters,
		snap.Version,
		snap.CreatedAt,
		snap.UpdatedAt,
	)
	if err != nil {
		return translateError(err)
	}
	v.Version = 1
	return nil
}

func (t *Tx) SaveVehicle(ctx context.Context, v *domain.Vehicle) error {
	snap := v.Snapshot()
	cur, prev := locationArgs(snap.CurrentLocation), locationArgs(snap.PreviousLocation)
	tag, err := t.tx.Exec(ctx, vehicleUpdateSQL,
		snap.LicensePlate,
		snap.Type,
		snap.Capacity,
		snap.Model,
		string(snap.Status),
		nullRouteID(snap.RouteID),
		nullTime(snap.RouteClearedAt),
		cur.lat, cur.lng, cur.accuracy,
		prev.lat, prev.lng, prev.accuracy,
		snap.SpeedKmh,
		snap.BearingDegrees,
		nullTime(snap.LastUpdateAt),
		snap.OdometerMeters,
		snap.UpdatedAt,
		snap.ID.String(),
		snap.Version,
	)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return versionConflict(snap.ID.String(), snap.Version)
	}
	v.Version++
	return nil
}

func (t *Tx) GetSessionForUpdate(ctx context.Context, id domain.TrackingSessionID) (*domain.TrackingSession, error) {
	return scanSession(t.tx.QueryRow(ctx, sessionSelectByIDForUpdateSQL, id.String()), id.String())
}

func (t *Tx) OpenSessionForVehicle(ctx context.Context, vehicleID domain.VehicleID) (*domain.TrackingSession, error) {
	sess, err := scanSession(t.tx.QueryRow(ctx, sessionSelectOpenForVehicleSQL, vehicleID.String()), "")
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NotFound(domain.CodeSessionNotFound, "no open tracking session for vehicle",
			map[string]any{"vehicle_id": vehicleID})
	}
	return sess, err
}

func (t *Tx) CreateSession(ctx context.Context, s *domain.TrackingSession) error {
	snap := s.Snapshot()
	snap.Version = 1
	args, err := sessionArgs(snap)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, sessionInsertSQL,
		snap.ID.String(),
		snap.VehicleID.String(),
		nullRouteID(snap.RouteID),
		nullDriverID(snap.DriverID),
		string(snap.Status),
		int64(snap.Limits.MaxDuration),
		int64(snap.Limits.MaxFixAge),
		int64(snap.Limits.MaxFutureSkew),
		snap.Limits.MaxAccuracyMeters,
		snap.Limits.HighAccuracyMeters,
		snap.Limits.MaxPoints,
		nullTime(snap.StartedAt),
		nullTime(snap.EndedAt),
		args.startLocation,
		args.currentLocation,
		snap.CurrentSpeedKmh,
		snap.CurrentBearing,
		nullTime(snap.LastFixAt),
		nullTime(snap.LastUpdateAt),
		snap.TotalDistance,
		snap.MaxSpeedKmh,
		nullFloat(snap.AverageSpeedKmh),
		snap.AccuracyPercent,
		snap.Counters.Received,
		snap.Counters.Valid,
		snap.Counters.Filtered,
		snap.Counters.HighAccuracy,
		args.points,
		snap.Version,
		snap.CreatedAt,
		snap.UpdatedAt,
	); err != nil {
		return translateError(err)
	}
	s.Version = 1
	return nil
}

func (t *Tx) SaveSession(ctx context.Context, s *domain.TrackingSession) error {
	snap := s.Snapshot()
	args, err := sessionArgs(snap)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, sessionUpdateSQL,
		string(snap.Status),
		nullTime(snap.StartedAt),
		nullTime(snap.EndedAt),
		args.startLocation,
		args.currentLocation,
		snap.CurrentSpeedKmh,
		snap.CurrentBearing,
		nullTime(snap.LastFixAt),
		nullTime(snap.LastUpdateAt),
		snap.TotalDistance,
		snap.MaxSpeedKmh,
		nullFloat(snap.AverageSpeedKmh),
		snap.AccuracyPercent,
		snap.Counters.Received,
		snap.Counters.Valid,
		snap.Counters.Filtered,
		snap.Counters.HighAccuracy,
		args.points,
		snap.UpdatedAt,
		snap.ID.String(),
		snap.Version,
	)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return versionConflict(snap.ID.String(), snap.Version)
	}
	s.Version++
	return nil
}

func (t *Tx) EnqueueEvent(ctx context.Context, event events.Event) error {
	_, err := t.tx.Exec(ctx, outboxInsertSQL,
		event.ID,
		event.Type,
		event.AggregateType,
		event.AggregateID,
		[]byte(event.Payload),
		event.OccurredAt,
	)
	return err
}

var (
	_ service.Store           = (*Store)(nil)
	_ service.Tx              = (*Tx)(nil)
	_ events.OutboxRepository = (*Store)(nil)
)
