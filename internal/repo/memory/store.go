// Package memory is a process-local Store used by tests, demos and the one-shot ingest tool.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"transit-tracker/internal/domain"
	"transit-tracker/internal/events"
	"transit-tracker/internal/service"
)

type outboxRow struct {
	event       events.Event
	publishedAt *time.Time
	lastError   string
}

// Store keeps committed snapshots. A transaction holds the store lock from BeginTx until
// Commit or Rollback, so transactions are serialized.
type Store struct {
	mu       sync.Mutex
	vehicles map[domain.VehicleID]domain.VehicleSnapshot
	sessions map[domain.TrackingSessionID]domain.TrackingSessionSnapshot
	outbox   []outboxRow
	now      func() time.Time
}

func New() *Store {
	return &Store{
		vehicles: make(map[domain.VehicleID]domain.VehicleSnapshot),
		sessions: make(map[domain.TrackingSessionID]domain.TrackingSessionSnapshot),
		now:      time.Now,
	}
}

func (s *Store) BeginTx(ctx context.Context) (service.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &Tx{
		store:    s,
		vehicles: make(map[domain.VehicleID]domain.VehicleSnapshot),
		sessions: make(map[domain.TrackingSessionID]domain.TrackingSessionSnapshot),
	}, nil
}

func (s *Store) NextVehicleID(ctx context.Context) (domain.VehicleID, error) {
	return domain.NewVehicleID(), nil
}

func (s *Store) GetVehicle(ctx context.Context, id domain.VehicleID) (*domain.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.vehicles[id]
	if !ok {
		return nil, vehicleNotFound(id.String())
	}
	return domain.RestoreVehicle(snap), nil
}

func (s *Store) FindVehicleByLicensePlate(ctx context.Context, plate string) (*domain.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.vehicles {
		if strings.EqualFold(snap.LicensePlate, plate) {
			return domain.RestoreVehicle(snap), nil
		}
	}
	return nil, domain.NotFound(domain.CodeVehicleNotFound, "no vehicle with this license plate",
		map[string]any{"license_plate": plate})
}

func (s *Store) ListVehicles(ctx context.Context, filter service.VehicleFilter) ([]*domain.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]domain.VehicleSnapshot, 0, len(s.vehicles))
	for _, snap := range s.vehicles {
		if filter.Status != nil && snap.Status != *filter.Status {
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	if filter.Offset >= len(snaps) {
		return []*domain.Vehicle{}, nil
	}
	snaps = snaps[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(snaps) {
		snaps = snaps[:filter.Limit]
	}
	out := make([]*domain.Vehicle, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, domain.RestoreVehicle(snap))
	}
	return out, nil
}

func (s *Store) GetSession(ctx context.Context, id domain.TrackingSessionID) (*domain.TrackingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.sessions[id]
	if !ok {
		return nil, sessionNotFound(id)
	}
	return domain.RestoreTrackingSession(snap), nil
}

// FetchPending, MarkPublished and MarkFailed let the outbox worker relay from this store.
// Pending events come back fewest attempts first, then in commit order.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, row := range s.outbox {
		if row.publishedAt == nil {
			out = append(out, row.event)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Attempts < out[j].Attempts })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].event.ID == id && s.outbox[i].publishedAt == nil {
			s.outbox[i].event.Attempts++
			s.outbox[i].lastError = reason
		}
	}
	return nil
}

func (s *Store) MarkPublished(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := make(map[string]bool, len(ids))
	for _, id := range ids {
		done[id] = true
	}
	now := s.now()
	for i := range s.outbox {
		if done[s.outbox[i].event.ID] && s.outbox[i].publishedAt == nil {
			at := now
			s.outbox[i].publishedAt = &at
		}
	}
	return nil
}

// Events returns every enqueued event in commit order.
func (s *Store) Events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, 0, len(s.outbox))
	for _, row := range s.outbox {
		out = append(out, row.event)
	}
	return out
}

func vehicleNotFound(id string) error {
	return domain.NotFound(domain.CodeVehicleNotFound, "vehicle not found", map[string]any{"vehicle_id": id})
}

func sessionNotFound(id domain.TrackingSessionID) error {
	return domain.NotFound(domain.CodeSessionNotFound, "tracking session not found", map[string]any{"session_id": id})
}

var _ service.Store = (*Store)(nil)
var _ events.OutboxRepository = (*Store)(nil)
