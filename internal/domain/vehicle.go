package domain

import (
	"math"
	"strings"
	"time"
)

// distanceEpsilon absorbs floating noise so a movement of exactly the threshold counts.
const distanceEpsilon = 1e-6

type VehicleProfile struct {
	LicensePlate string
	Type         string
	Capacity     int
	Model        string
}

// RouteAssignment distinguishes a route that was never set from one that was explicitly cleared.
type RouteAssignment struct {
	RouteID   *RouteID
	ClearedAt *time.Time
}

func (r RouteAssignment) Assigned() bool { return r.RouteID != nil }

func (r RouteAssignment) ExplicitlyCleared() bool { return r.RouteID == nil && r.ClearedAt != nil }

type Vehicle struct {
	Aggregate

	id              VehicleID
	profile         VehicleProfile
	status          VehicleStatus
	route           RouteAssignment
	currentLocation *Coordinate
	prevLocation    *Coordinate
	speed           Speed
	bearing         Bearing
	lastUpdateAt    *time.Time
	odometerMeters  int64
}

// VehicleSnapshot is the flat persisted form of a Vehicle.
type VehicleSnapshot struct {
	ID               VehicleID
	LicensePlate     string
	Type             string
	Capacity         int
	Model            string
	Status           VehicleStatus
	RouteID          *RouteID
	RouteClearedAt   *time.Time
	CurrentLocation  *Coordinate
	PreviousLocation *Coordinate
	SpeedKmh         float64
	BearingDegrees   float64
	LastUpdateAt     *time.Time
	OdometerMeters   int64
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type LocationUpdate struct {
	Location *Coordinate
	Speed    *Speed
	Bearing  *Bearing
}

type LocationUpdateResult struct {
	Accepted         bool
	FirstUpdate      bool
	DistanceMeters   float64
	ThresholdMeters  float64
	PreviousLocation *Coordinate
}

func NewVehicle(id VehicleID, profile VehicleProfile, now time.Time) (*Vehicle, error) {
	if id == "" {
		return nil, Invalid(CodeMissingField, "vehicle id is required", nil)
	}
	profile.LicensePlate = strings.TrimSpace(profile.LicensePlate)
	if profile.LicensePlate == "" {
		return nil, Invalid(CodeMissingField, "license plate is required", map[string]any{"vehicle_id": id})
	}
	if profile.Capacity < 0 {
		return nil, Invalid(CodeMissingField, "capacity must be non-negative", map[string]any{"capacity": profile.Capacity})
	}
	v := &Vehicle{
		Aggregate: Aggregate{CreatedAt: now, UpdatedAt: now},
		id:        id,
		profile:   profile,
		status:    VehicleStatusAtDepot,
	}
	v.record(VehicleRegistered{
		eventMeta:    eventMeta{At: now},
		VehicleID:    id,
		LicensePlate: profile.LicensePlate,
		Status:       v.status,
	})
	return v, nil
}

func (v *Vehicle) ID() VehicleID { return v.id }
func (v *Vehicle) Profile() VehicleProfile { return v.profile }
func (v *Vehicle) Status() VehicleStatus { return v.status }
func (v *Vehicle) Route() RouteAssignment { return v.route }
func (v *Vehicle) CurrentLocation() *Coordinate { return copyCoordinate(v.currentLocation) }
func (v *Vehicle) PreviousLocation() *Coordinate { return copyCoordinate(v.prevLocation) }
func (v *Vehicle) Speed() Speed { return v.speed }
func (v *Vehicle) Bearing() Bearing { return v.bearing }
func (v *Vehicle) OdometerMeters() int64 { return v.odometerMeters }
func (v *Vehicle) LastUpdateAt() *time.Time { return copyTime(v.lastUpdateAt) }

// UpdateLocation applies a fix. Movements smaller than the status threshold leave the vehicle
// untouched and return Accepted=false with a nil error.
func (v *Vehicle) UpdateLocation(u LocationUpdate, now time.Time) (LocationUpdateResult, error) {
	if !v.status.Trackable() {
		return LocationUpdateResult{}, BusinessRule(CodeVehicleNotTrackable, "vehicle status does not accept location updates",
			map[string]any{"vehicle_id": v.id, "status": v.status})
	}
	if u.Location == nil || u.Speed == nil || u.Bearing == nil {
		return LocationUpdateResult{}, Invalid(CodeMissingLocationInput, "location, speed and bearing are required",
			map[string]any{"vehicle_id": v.id})
	}
	if _, err := NewCoordinate(u.Location.Lat, u.Location.Lng, u.Location.AccuracyMeters); err != nil {
		return LocationUpdateResult{}, err
	}

	threshold := v.status.SignificanceThresholdMeters()
	newLoc := *u.Location
	result := LocationUpdateResult{ThresholdMeters: threshold}

	if v.currentLocation == nil {
		result.FirstUpdate = true
	} else {
		result.DistanceMeters = DistanceMeters(*v.currentLocation, newLoc)
		if result.DistanceMeters+distanceEpsilon < threshold {
			return result, nil
		}
		result.PreviousLocation = copyCoordinate(v.currentLocation)
	}

	v.prevLocation = v.currentLocation
	v.currentLocation = &newLoc
	v.speed = *u.Speed
	v.bearing = *u.Bearing
	at := now
	v.lastUpdateAt = &at
	v.odometerMeters += int64(math.Round(result.DistanceMeters))
	v.touch(now)
	result.Accepted = true

	v.record(VehicleLocationUpdated{
		eventMeta:        eventMeta{At: now},
		VehicleID:        v.id,
		PreviousLocation: copyCoordinate(v.prevLocation),
		NewLocation:      newLoc,
		SpeedMS:          v.speed.MetersPerSecond(),
		BearingDegrees:   v.bearing.Degrees(),
		DistanceMeters:   result.DistanceMeters,
		RouteID:          copyRouteID(v.route.RouteID),
		Status:           v.status,
	})
	return result, nil
}

func (v *Vehicle) ChangeStatus(next VehicleStatus, reason, changedBy string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	changedBy = strings.TrimSpace(changedBy)
	if reason == "" {
		return Invalid(CodeMissingField, "reason is required", map[string]any{"vehicle_id": v.id})
	}
	if changedBy == "" {
		return Invalid(CodeMissingField, "changed_by is required", map[string]any{"vehicle_id": v.id})
	}
	if !v.status.CanTransitionTo(next) {
		return BusinessRule(CodeInvalidTransition, "status transition not allowed",
			map[string]any{"vehicle_id": v.id, "from": v.status, "to": next})
	}

	old := v.status
	routeCtx := copyRouteID(v.route.RouteID)
	v.status = next
	if next.ClearsRoute() {
		v.clearRoute("status changed to "+string(next), now)
	}
	v.touch(now)
	v.record(VehicleStatusChanged{
		eventMeta: eventMeta{At: now},
		VehicleID: v.id,
		OldStatus: old,
		NewStatus: next,
		Reason:    reason,
		ChangedBy: changedBy,
		RouteID:   routeCtx,
	})
	return nil
}

func (v *Vehicle) AssignRoute(routeID RouteID, now time.Time) error {
	if strings.TrimSpace(string(routeID)) == "" {
		return Invalid(CodeMissingField, "route id is required", map[string]any{"vehicle_id": v.id})
	}
	if !v.status.Assignable() {
		return BusinessRule(CodeVehicleNotAssignable, "vehicle status does not allow route assignment",
			map[string]any{"vehicle_id": v.id, "status": v.status})
	}
	if v.route.RouteID != nil {
		if *v.route.RouteID == routeID {
			return nil
		}
		return Conflict(CodeRouteConflict, "vehicle already assigned to another route",
			map[string]any{"vehicle_id": v.id, "route_id": *v.route.RouteID, "requested_route_id": routeID})
	}
	id := routeID
	v.route = RouteAssignment{RouteID: &id}
	v.touch(now)
	v.record(VehicleRouteAssigned{eventMeta: eventMeta{At: now}, VehicleID: v.id, RouteID: routeID})
	return nil
}

func (v *Vehicle) UnassignRoute(reason string, now time.Time) {
	if v.clearRoute(reason, now) {
		v.touch(now)
	}
}

func (v *Vehicle) clearRoute(reason string, now time.Time) bool {
	if v.route.RouteID == nil {
		return false
	}
	old := *v.route.RouteID
	at := now
	v.route = RouteAssignment{ClearedAt: &at}
	v.record(VehicleRouteUnassigned{eventMeta: eventMeta{At: now}, VehicleID: v.id, RouteID: old, Reason: reason})
	return true
}

func (v *Vehicle) Snapshot() VehicleSnapshot {
	return VehicleSnapshot{
		ID:               v.id,
		LicensePlate:     v.profile.LicensePlate,
		Type:             v.profile.Type,
		Capacity:         v.profile.Capacity,
		Model:            v.profile.Model,
		Status:           v.status,
		RouteID:          copyRouteID(v.route.RouteID),
		RouteClearedAt:   copyTime(v.route.ClearedAt),
		CurrentLocation:  copyCoordinate(v.currentLocation),
		PreviousLocation: copyCoordinate(v.prevLocation),
		SpeedKmh:         v.speed.Kmh(),
		BearingDegrees:   v.bearing.Degrees(),
		LastUpdateAt:     copyTime(v.lastUpdateAt),
		OdometerMeters:   v.odometerMeters,
		Version:          v.Version,
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.UpdatedAt,
	}
}

// RestoreVehicle rebuilds an aggregate from storage without recording events.
func RestoreVehicle(s VehicleSnapshot) *Vehicle {
	speed := Speed{kmh: math.Max(0, math.Min(s.SpeedKmh, MaxSpeedKmh))}
	return &Vehicle{
		Aggregate: Aggregate{Version: s.Version, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt},
		id:        s.ID,
		profile: VehicleProfile{
			LicensePlate: s.LicensePlate,
			Type:         s.Type,
			Capacity:     s.Capacity,
			Model:        s.Model,
		},
		status:          s.Status,
		route:           RouteAssignment{RouteID: copyRouteID(s.RouteID), ClearedAt: copyTime(s.RouteClearedAt)},
		currentLocation: copyCoordinate(s.CurrentLocation),
		prevLocation:    copyCoordinate(s.PreviousLocation),
		speed:           speed,
		bearing:         NewBearing(s.BearingDegrees),
		lastUpdateAt:    copyTime(s.LastUpdateAt),
		odometerMeters:  s.OdometerMeters,
	}
}

func copyCoordinate(c *Coordinate) *Coordinate {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func copyRouteID(r *RouteID) *RouteID {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
