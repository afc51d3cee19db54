package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"transit-tracker/internal/domain"
	"transit-tracker/internal/events"
)

type Service struct {
	store  Store
	now    func() time.Time
	limits domain.SessionLimits
	log    *zap.Logger
}

func New(store Store, limits domain.SessionLimits, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		limits: limits,
		log:    log,
	}
}

// WithClock replaces the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type RegisterVehicleCommand struct {
	LicensePlate string
	Type         string
	Capacity     int
	Model        string
}

// LocationCommand is one validated fix addressed to a vehicle. VehicleRef is either the
// vehicle UUID or its license plate.
type LocationCommand struct {
	VehicleRef     string
	Lat            float64
	Lng            float64
	AccuracyMeters float64
	SpeedKmh       float64
	BearingDegrees float64
	Timestamp      time.Time
	Source         string
}

type LocationOutcome struct {
	VehicleID      domain.VehicleID
	Accepted       bool
	FirstUpdate    bool
	DistanceMeters float64
	OdometerMeters int64
	Session        *SessionFixOutcome
}

// SessionFixOutcome reports what the vehicle's active session did with the same fix. A
// rejection here never fails the vehicle update.
type SessionFixOutcome struct {
	SessionID domain.TrackingSessionID `json:"session_id"`
	Accepted  bool                     `json:"accepted"`
	Filtered  bool                     `json:"filtered"`
	Code      string                   `json:"code,omitempty"`
	Message   string                   `json:"message,omitempty"`
}

type StatusCommand struct {
	VehicleID string
	Status    domain.VehicleStatus
	Reason    string
	ChangedBy string
}

func (s *Service) RegisterVehicle(ctx context.Context, cmd RegisterVehicleCommand) (*domain.Vehicle, error) {
	plate := strings.TrimSpace(cmd.LicensePlate)
	if plate == "" {
		return nil, domain.Invalid(domain.CodeMissingField, "license plate is required", nil)
	}
	id, err := s.store.NextVehicleID(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	v, err := domain.NewVehicle(id, domain.VehicleProfile{
		LicensePlate: plate,
		Type:         strings.TrimSpace(cmd.Type),
		Capacity:     cmd.Capacity,
		Model:        strings.TrimSpace(cmd.Model),
	}, now)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := tx.CreateVehicle(ctx, v); err != nil {
		return nil, err
	}
	if err := enqueue(ctx, tx, v.PullEvents()); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("vehicle registered", zap.String("vehicle_id", id.String()), zap.String("license_plate", plate))
	return v, nil
}

func (s *Service) GetVehicle(ctx context.Context, rawID string) (*domain.Vehicle, error) {
	id, err := domain.ParseVehicleID(rawID)
	if err != nil {
		return nil, err
	}
	return s.store.GetVehicle(ctx, id)
}

func (s *Service) FindVehicleByLicensePlate(ctx context.Context, plate string) (*domain.Vehicle, error) {
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return nil, domain.Invalid(domain.CodeMissingField, "license plate is required", nil)
	}
	return s.store.FindVehicleByLicensePlate(ctx, plate)
}

func (s *Service) ListVehicles(ctx context.Context, filter VehicleFilter) ([]*domain.Vehicle, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListVehicles(ctx, filter)
}

// UpdateLocation applies a fix to the vehicle and, when it has an active tracking session, to
// the session as well, in one transaction.
func (s *Service) UpdateLocation(ctx context.Context, cmd LocationCommand) (*LocationOutcome, error) {
	loc, err := domain.NewCoordinate(cmd.Lat, cmd.Lng, cmd.AccuracyMeters)
	if err != nil {
		return nil, err
	}
	speed, err := domain.NewSpeedKmh(cmd.SpeedKmh)
	if err != nil {
		return nil, err
	}
	bearing := domain.NewBearing(cmd.BearingDegrees)

	id, err := s.resolveVehicleID(ctx, cmd.VehicleRef)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	v, err := tx.GetVehicleForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	res, err := v.UpdateLocation(domain.LocationUpdate{Location: &loc, Speed: &speed, Bearing: &bearing}, now)
	if err != nil {
		return nil, err
	}
	if res.Accepted {
		if err := tx.SaveVehicle(ctx, v); err != nil {
			return nil, err
		}
		if err := enqueue(ctx, tx, v.PullEvents()); err != nil {
			return nil, err
		}
	}

	outcome := &LocationOutcome{
		VehicleID:      id,
		Accepted:       res.Accepted,
		FirstUpdate:    res.FirstUpdate,
		DistanceMeters: res.DistanceMeters,
		OdometerMeters: v.OdometerMeters(),
	}

	fixAt := cmd.Timestamp
	if fixAt.IsZero() {
		fixAt = now
	}
	sessionOutcome, err := s.feedSession(ctx, tx, id, domain.GPSFix{
		Location:       &loc,
		Speed:          &speed,
		Bearing:        &bearing,
		Timestamp:      fixAt,
		AccuracyMeters: loc.AccuracyMeters,
	}, now)
	if err != nil {
		return nil, err
	}
	outcome.Session = sessionOutcome

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *Service) feedSession(ctx context.Context, tx Tx, vehicleID domain.VehicleID, fix domain.GPSFix, now time.Time) (*SessionFixOutcome, error) {
	sess, err := tx.OpenSessionForVehicle(ctx, vehicleID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sess.Status() != domain.SessionStatusActive {
		return nil, nil
	}

	out := &SessionFixOutcome{SessionID: sess.ID()}
	res, err := sess.ProcessGPS(fix, now)
	if err != nil {
		var de *domain.Error
		if !errors.As(err, &de) {
			return nil, err
		}
		out.Code = de.Code
		out.Message = de.Message
		s.log.Debug("session rejected fix",
			zap.String("session_id", sess.ID().String()),
			zap.String("code", de.Code))
		return out, nil
	}
	out.Accepted = res.Accepted
	out.Filtered = res.Filtered
	if err := tx.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := enqueue(ctx, tx, sess.PullEvents()); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ChangeStatus(ctx context.Context, cmd StatusCommand) (*domain.Vehicle, error) {
	id, err := domain.ParseVehicleID(cmd.VehicleID)
	if err != nil {
		return nil, err
	}
	if _, ok := domain.ParseVehicleStatus(string(cmd.Status)); !ok {
		return nil, domain.Invalid(domain.CodeInvalidTransition, "unknown vehicle status",
			map[string]any{"vehicle_id": id, "status": cmd.Status})
	}
	return s.mutateVehicle(ctx, id, func(v *domain.Vehicle, now time.Time) error {
		return v.ChangeStatus(cmd.Status, cmd.Reason, cmd.ChangedBy, now)
	})
}

func (s *Service) AssignRoute(ctx context.Context, vehicleID, routeID string) (*domain.Vehicle, error) {
	id, err := domain.ParseVehicleID(vehicleID)
	if err != nil {
		return nil, err
	}
	return s.mutateVehicle(ctx, id, func(v *domain.Vehicle, now time.Time) error {
		return v.AssignRoute(domain.RouteID(strings.TrimSpace(routeID)), now)
	})
}

func (s *Service) UnassignRoute(ctx context.Context, vehicleID, reason string) (*domain.Vehicle, error) {
	id, err := domain.ParseVehicleID(vehicleID)
	if err != nil {
		return nil, err
	}
	return s.mutateVehicle(ctx, id, func(v *domain.Vehicle, now time.Time) error {
		v.UnassignRoute(strings.TrimSpace(reason), now)
		return nil
	})
}

func (s *Service) mutateVehicle(ctx context.Context, id domain.VehicleID, fn func(v *domain.Vehicle, now time.Time) error) (*domain.Vehicle, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	v, err := tx.GetVehicleForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(v, s.now()); err != nil {
		return nil, err
	}
	evts := v.PullEvents()
	if len(evts) == 0 {
		return v, nil
	}
	if err := tx.SaveVehicle(ctx, v); err != nil {
		return nil, err
	}
	if err := enqueue(ctx, tx, evts); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) resolveVehicleID(ctx context.Context, ref string) (domain.VehicleID, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", domain.Invalid(domain.CodeMissingField, "vehicle identifier is required", nil)
	}
	if id, err := domain.ParseVehicleID(ref); err == nil {
		return id, nil
	}
	v, err := s.store.FindVehicleByLicensePlate(ctx, ref)
	if err != nil {
		return "", err
	}
	return v.ID(), nil
}

func enqueue(ctx context.Context, tx Tx, evts []domain.Event) error {
	envs, err := events.FromDomainAll(evts)
	if err != nil {
		return err
	}
	for _, env := range envs {
		if err := tx.EnqueueEvent(ctx, env); err != nil {
			return err
		}
	}
	return nil
}
