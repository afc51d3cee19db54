package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"transit-tracker/internal/domain"
)

type StartSessionCommand struct {
	VehicleID     string
	RouteID       string
	DriverID      string
	StartLocation *domain.Coordinate
}

type SessionFixCommand struct {
	Lat            float64
	Lng            float64
	AccuracyMeters float64
	SpeedKmh       float64
	BearingDegrees float64
	Timestamp      time.Time
}

// StartSession creates and starts a session. A vehicle has at most one session that has not
// ended.
func (s *Service) StartSession(ctx context.Context, cmd StartSessionCommand) (*domain.TrackingSession, error) {
	vehicleID, err := domain.ParseVehicleID(cmd.VehicleID)
	if err != nil {
		return nil, err
	}
	if cmd.StartLocation != nil {
		if _, err := domain.NewCoordinate(cmd.StartLocation.Lat, cmd.StartLocation.Lng, cmd.StartLocation.AccuracyMeters); err != nil {
			return nil, err
		}
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	v, err := tx.GetVehicleForUpdate(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if !v.Status().Trackable() {
		return nil, domain.BusinessRule(domain.CodeVehicleNotTrackable, "vehicle status does not allow tracking",
			map[string]any{"vehicle_id": vehicleID, "status": v.Status()})
	}
	existing, err := tx.OpenSessionForVehicle(ctx, vehicleID)
	switch {
	case err == nil:
		return nil, domain.Conflict(domain.CodeSessionActive, "vehicle already has an open tracking session",
			map[string]any{"vehicle_id": vehicleID, "session_id": existing.ID()})
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	routeID := optionalRouteID(cmd.RouteID)
	if routeID == nil {
		routeID = v.Route().RouteID
	}
	now := s.now()
	sess, err := domain.NewTrackingSession(domain.NewTrackingSessionID(), vehicleID, routeID, optionalDriverID(cmd.DriverID), s.limits, now)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(cmd.StartLocation, now); err != nil {
		return nil, err
	}
	if err := tx.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := enqueue(ctx, tx, sess.PullEvents()); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("tracking session started",
		zap.String("session_id", sess.ID().String()),
		zap.String("vehicle_id", vehicleID.String()))
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, rawID string) (*domain.TrackingSession, error) {
	id, err := domain.ParseTrackingSessionID(rawID)
	if err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, id)
}

func (s *Service) SuspendSession(ctx context.Context, rawID, reason string) (*domain.TrackingSession, error) {
	return s.mutateSession(ctx, rawID, func(sess *domain.TrackingSession, now time.Time) error {
		return sess.Suspend(reason, now)
	})
}

func (s *Service) ResumeSession(ctx context.Context, rawID string) (*domain.TrackingSession, error) {
	return s.mutateSession(ctx, rawID, func(sess *domain.TrackingSession, now time.Time) error {
		return sess.Resume(now)
	})
}

func (s *Service) EndSession(ctx context.Context, rawID, reason string) (*domain.TrackingSession, error) {
	sess, err := s.mutateSession(ctx, rawID, func(sess *domain.TrackingSession, now time.Time) error {
		return sess.End(reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("tracking session ended",
		zap.String("session_id", sess.ID().String()),
		zap.Float64("distance_m", sess.TotalDistanceMeters()),
		zap.String("quality", string(sess.Quality())))
	return sess, nil
}

// ProcessSessionFix feeds one fix directly to a session, bypassing the vehicle aggregate.
// Unlike UpdateLocation, session rejections are returned as errors here.
func (s *Service) ProcessSessionFix(ctx context.Context, rawID string, cmd SessionFixCommand) (domain.GPSProcessResult, error) {
	loc, err := domain.NewCoordinate(cmd.Lat, cmd.Lng, cmd.AccuracyMeters)
	if err != nil {
		return domain.GPSProcessResult{}, err
	}
	speed, err := domain.NewSpeedKmh(cmd.SpeedKmh)
	if err != nil {
		return domain.GPSProcessResult{}, err
	}
	bearing := domain.NewBearing(cmd.BearingDegrees)

	var result domain.GPSProcessResult
	_, err = s.mutateSession(ctx, rawID, func(sess *domain.TrackingSession, now time.Time) error {
		ts := cmd.Timestamp
		if ts.IsZero() {
			ts = now
		}
		res, err := sess.ProcessGPS(domain.GPSFix{
			Location:       &loc,
			Speed:          &speed,
			Bearing:        &bearing,
			Timestamp:      ts,
			AccuracyMeters: loc.AccuracyMeters,
		}, now)
		result = res
		return err
	})
	return result, err
}

func (s *Service) mutateSession(ctx context.Context, rawID string, fn func(sess *domain.TrackingSession, now time.Time) error) (*domain.TrackingSession, error) {
	id, err := domain.ParseTrackingSessionID(rawID)
	if err != nil {
		return nil, err
	}
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sess, err := tx.GetSessionForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess, s.now()); err != nil {
		return nil, err
	}
	if err := tx.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := enqueue(ctx, tx, sess.PullEvents()); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

func optionalRouteID(raw string) *domain.RouteID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	id := domain.RouteID(raw)
	return &id
}

func optionalDriverID(raw string) *domain.DriverID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	id := domain.DriverID(raw)
	return &id
}
