package memory

import (
	"context"
	"errors"
	"strings"

	"transit-tracker/internal/domain"
	"transit-tracker/internal/events"
	"transit-tracker/internal/service"
)

var errTxClosed = errors.New("transaction already closed")

// Tx stages writes and applies them on Commit.
type Tx struct {
	store    *Store
	closed   bool
	vehicles map[domain.VehicleID]domain.VehicleSnapshot
	sessions map[domain.TrackingSessionID]domain.TrackingSessionSnapshot
	events   []events.Event
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.closed {
		return errTxClosed
	}
	for id, snap := range t.vehicles {
		t.store.vehicles[id] = snap
	}
	for id, snap := range t.sessions {
		t.store.sessions[id] = snap
	}
	for _, e := range t.events {
		t.store.outbox = append(t.store.outbox, outboxRow{event: e})
	}
	return t.close()
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	return t.close()
}

func (t *Tx) close() error {
	t.closed = true
	t.store.mu.Unlock()
	return nil
}

func (t *Tx) vehicleSnapshot(id domain.VehicleID) (domain.VehicleSnapshot, bool) {
	if snap, ok := t.vehicles[id]; ok {
		return snap, true
	}
	snap, ok := t.store.vehicles[id]
	return snap, ok
}

func (t *Tx) sessionSnapshot(id domain.TrackingSessionID) (domain.TrackingSessionSnapshot, bool) {
	if snap, ok := t.sessions[id]; ok {
		return snap, true
	}
	snap, ok := t.store.sessions[id]
	return snap, ok
}

func (t *Tx) GetVehicleForUpdate(ctx context.Context, id domain.VehicleID) (*domain.Vehicle, error) {
	snap, ok := t.vehicleSnapshot(id)
	if !ok {
		return nil, vehicleNotFound(id.String())
	}
	return domain.RestoreVehicle(snap), nil
}

func (t *Tx) CreateVehicle(ctx context.Context, v *domain.Vehicle) error {
	if _, ok := t.vehicleSnapshot(v.ID()); ok {
		return domain.Conflict(domain.CodeVersionConflict, "vehicle already exists", map[string]any{"vehicle_id": v.ID()})
	}
	plate := v.Profile().LicensePlate
	for _, m := range []map[domain.VehicleID]domain.VehicleSnapshot{t.store.vehicles, t.vehicles} {
		for _, snap := range m {
			if strings.EqualFold(snap.LicensePlate, plate) {
				return domain.Conflict(domain.CodeLicensePlateDuplicate, "license plate already registered",
					map[string]any{"license_plate": plate})
			}
		}
	}
	v.Version = 1
	t.vehicles[v.ID()] = v.Snapshot()
	return nil
}

func (t *Tx) SaveVehicle(ctx context.Context, v *domain.Vehicle) error {
	current, ok := t.vehicleSnapshot(v.ID())
	if !ok {
		return vehicleNotFound(v.ID().String())
	}
	if current.Version != v.Version {
		return versionConflict(v.ID().String(), v.Version, current.Version)
	}
	v.Version++
	t.vehicles[v.ID()] = v.Snapshot()
	return nil
}

func (t *Tx) GetSessionForUpdate(ctx context.Context, id domain.TrackingSessionID) (*domain.TrackingSession, error) {
	snap, ok := t.sessionSnapshot(id)
	if !ok {
		return nil, sessionNotFound(id)
	}
	return domain.RestoreTrackingSession(snap), nil
}

func (t *Tx) OpenSessionForVehicle(ctx context.Context, vehicleID domain.VehicleID) (*domain.TrackingSession, error) {
	seen := map[domain.TrackingSessionID]bool{}
	for _, m := range []map[domain.TrackingSessionID]domain.TrackingSessionSnapshot{t.sessions, t.store.sessions} {
		for id, snap := range m {
			if seen[id] {
				continue
			}
			seen[id] = true
			if snap.VehicleID == vehicleID && snap.Status != domain.SessionStatusEnded {
				return domain.RestoreTrackingSession(snap), nil
			}
		}
	}
	return nil, domain.NotFound(domain.CodeSessionNotFound, "no open tracking session for vehicle",
		map[string]any{"vehicle_id": vehicleID})
}

func (t *Tx) CreateSession(ctx context.Context, s *domain.TrackingSession) error {
	if _, ok := t.sessionSnapshot(s.ID()); ok {
		return domain.Conflict(domain.CodeVersionConflict, "session already exists", map[string]any{"session_id": s.ID()})
	}
	s.Version = 1
	t.sessions[s.ID()] = s.Snapshot()
	return nil
}

func (t *Tx) SaveSession(ctx context.Context, s *domain.TrackingSession) error {
	current, ok := t.sessionSnapshot(s.ID())
	if !ok {
		return sessionNotFound(s.ID())
	}
	if current.Version != s.Version {
		return versionConflict(s.ID().String(), s.Version, current.Version)
	}
	s.Version++
	t.sessions[s.ID()] = s.Snapshot()
	return nil
}

func (t *Tx) EnqueueEvent(ctx context.Context, event events.Event) error {
	t.events = append(t.events, event)
	return nil
}

func versionConflict(id string, have, stored int64) error {
	return domain.Conflict(domain.CodeVersionConflict, "aggregate was modified concurrently",
		map[string]any{"id": id, "expected_version": have, "stored_version": stored})
}

var _ service.Tx = (*Tx)(nil)
