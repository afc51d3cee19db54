package domain

import "time"

const (
	AggregateVehicle         = "vehicle"
	AggregateTrackingSession = "tracking_session"
)

const (
	EventVehicleRegistered      = "vehicle.registered"
	EventVehicleLocationUpdated = "vehicle.location_updated"
	EventVehicleStatusChanged   = "vehicle.status_changed"
	EventVehicleRouteAssigned   = "vehicle.route_assigned"
	EventVehicleRouteUnassigned = "vehicle.route_unassigned"
	EventSessionStarted         = "tracking_session.started"
	EventSessionSuspended       = "tracking_session.suspended"
	EventSessionResumed         = "tracking_session.resumed"
	EventSessionEnded           = "tracking_session.ended"
	EventGPSDataReceived        = "tracking_session.gps_received"
)

// Event is a fact recorded by an aggregate, drained by the persistence boundary after save.
type Event interface {
	EventType() string
	AggregateType() string
	AggregateID() string
	OccurredAt() time.Time
}

type eventMeta struct {
	At time.Time `json:"occurred_at"`
}

func (m eventMeta) OccurredAt() time.Time { return m.At }

type VehicleRegistered struct {
	eventMeta
	VehicleID    VehicleID     `json:"vehicle_id"`
	LicensePlate string        `json:"license_plate"`
	Status       VehicleStatus `json:"status"`
}

func (VehicleRegistered) EventType() string { return EventVehicleRegistered }
func (VehicleRegistered) AggregateType() string { return AggregateVehicle }
func (e VehicleRegistered) AggregateID() string { return e.VehicleID.String() }

type VehicleLocationUpdated struct {
	eventMeta
	VehicleID        VehicleID     `json:"vehicle_id"`
	PreviousLocation *Coordinate   `json:"previous_location,omitempty"`
	NewLocation      Coordinate    `json:"new_location"`
	SpeedMS          float64       `json:"speed_ms"`
	BearingDegrees   float64       `json:"bearing_degrees"`
	DistanceMeters   float64       `json:"distance_meters"`
	RouteID          *RouteID      `json:"route_id,omitempty"`
	Status           VehicleStatus `json:"status"`
}

func (VehicleLocationUpdated) EventType() string { return EventVehicleLocationUpdated }
func (VehicleLocationUpdated) AggregateType() string { return AggregateVehicle }
func (e VehicleLocationUpdated) AggregateID() string { return e.VehicleID.String() }

type VehicleStatusChanged struct {
	eventMeta
	VehicleID VehicleID     `json:"vehicle_id"`
	OldStatus VehicleStatus `json:"old_status"`
	NewStatus VehicleStatus `json:"new_status"`
	Reason    string        `json:"reason"`
	ChangedBy string        `json:"changed_by"`
	RouteID   *RouteID      `json:"route_id,omitempty"`
}

func (VehicleStatusChanged) EventType() string { return EventVehicleStatusChanged }
func (VehicleStatusChanged) AggregateType() string { return AggregateVehicle }
func (e VehicleStatusChanged) AggregateID() string { return e.VehicleID.String() }

type VehicleRouteAssigned struct {
	eventMeta
	VehicleID VehicleID `json:"vehicle_id"`
	RouteID   RouteID   `json:"route_id"`
}

func (VehicleRouteAssigned) EventType() string { return EventVehicleRouteAssigned }
func (VehicleRouteAssigned) AggregateType() string { return AggregateVehicle }
func (e VehicleRouteAssigned) AggregateID() string { return e.VehicleID.String() }

type VehicleRouteUnassigned struct {
	eventMeta
	VehicleID VehicleID `json:"vehicle_id"`
	RouteID   RouteID   `json:"route_id"`
	Reason    string    `json:"reason"`
}

func (VehicleRouteUnassigned) EventType() string { return EventVehicleRouteUnassigned }
func (VehicleRouteUnassigned) AggregateType() string { return AggregateVehicle }
func (e VehicleRouteUnassigned) AggregateID() string { return e.VehicleID.String() }

type TrackingSessionStarted struct {
	eventMeta
	SessionID     TrackingSessionID `json:"session_id"`
	VehicleID     VehicleID         `json:"vehicle_id"`
	RouteID       *RouteID          `json:"route_id,omitempty"`
	DriverID      *DriverID         `json:"driver_id,omitempty"`
	StartLocation *Coordinate       `json:"start_location,omitempty"`
}

func (TrackingSessionStarted) EventType() string { return EventSessionStarted }
func (TrackingSessionStarted) AggregateType() string { return AggregateTrackingSession }
func (e TrackingSessionStarted) AggregateID() string { return e.SessionID.String() }

type TrackingSessionSuspended struct {
	eventMeta
	SessionID TrackingSessionID `json:"session_id"`
	VehicleID VehicleID         `json:"vehicle_id"`
	Reason    string            `json:"reason"`
}

func (TrackingSessionSuspended) EventType() string { return EventSessionSuspended }
func (TrackingSessionSuspended) AggregateType() string { return AggregateTrackingSession }
func (e TrackingSessionSuspended) AggregateID() string { return e.SessionID.String() }

type TrackingSessionResumed struct {
	eventMeta
	SessionID TrackingSessionID `json:"session_id"`
	VehicleID VehicleID         `json:"vehicle_id"`
}

func (TrackingSessionResumed) EventType() string { return EventSessionResumed }
func (TrackingSessionResumed) AggregateType() string { return AggregateTrackingSession }
func (e TrackingSessionResumed) AggregateID() string { return e.SessionID.String() }

type TrackingSessionEnded struct {
	eventMeta
	SessionID           TrackingSessionID `json:"session_id"`
	VehicleID           VehicleID         `json:"vehicle_id"`
	RouteID             *RouteID          `json:"route_id,omitempty"`
	Reason              string            `json:"reason"`
	TotalDistanceMeters float64           `json:"total_distance_meters"`
	AverageSpeedKmh     *float64          `json:"average_speed_kmh,omitempty"`
	MaxSpeedKmh         float64           `json:"max_speed_kmh"`
	Duration            time.Duration     `json:"duration_ns"`
	Quality             SessionQuality    `json:"quality"`
}

func (TrackingSessionEnded) EventType() string { return EventSessionEnded }
func (TrackingSessionEnded) AggregateType() string { return AggregateTrackingSession }
func (e TrackingSessionEnded) AggregateID() string { return e.SessionID.String() }

type GPSDataReceived struct {
	eventMeta
	SessionID        TrackingSessionID `json:"session_id"`
	VehicleID        VehicleID         `json:"vehicle_id"`
	Location         Coordinate        `json:"location"`
	PreviousLocation *Coordinate       `json:"previous_location,omitempty"`
	DeltaMeters      float64           `json:"delta_meters"`
	SpeedKmh         float64           `json:"speed_kmh"`
	FixTimestamp     time.Time         `json:"fix_timestamp"`
}

func (GPSDataReceived) EventType() string { return EventGPSDataReceived }
func (GPSDataReceived) AggregateType() string { return AggregateTrackingSession }
func (e GPSDataReceived) AggregateID() string { return e.SessionID.String() }
