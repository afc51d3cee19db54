// Package transport holds the wire shapes shared by the HTTP, gRPC and Thrift servers.
package transport

import (
	"time"

	"transit-tracker/internal/domain"
	"transit-tracker/internal/service"
)

type Location struct {
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracy_meters,omitempty"`
}

type VehicleResponse struct {
	ID               string     `json:"id"`
	LicensePlate     string     `json:"license_plate"`
	Type             string     `json:"type,omitempty"`
	Capacity         int        `json:"capacity"`
	Model            string     `json:"model,omitempty"`
	Status           string     `json:"status"`
	RouteID          *string    `json:"route_id,omitempty"`
	RouteClearedAt   *time.Time `json:"route_cleared_at,omitempty"`
	CurrentLocation  *Location  `json:"current_location,omitempty"`
	PreviousLocation *Location  `json:"previous_location,omitempty"`
	SpeedKmh         float64    `json:"speed_kmh"`
	BearingDegrees   float64    `json:"bearing_degrees"`
	OdometerMeters   int64      `json:"odometer_meters"`
	LastUpdateAt     *time.Time `json:"last_update_at,omitempty"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type SessionResponse struct {
	ID                  string     `json:"id"`
	VehicleID           string     `json:"vehicle_id"`
	RouteID             *string    `json:"route_id,omitempty"`
	Status              string     `json:"status"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	EndedAt             *time.Time `json:"ended_at,omitempty"`
	CurrentLocation     *Location  `json:"current_location,omitempty"`
	TotalDistanceMeters float64    `json:"total_distance_meters"`
	MaxSpeedKmh         float64    `json:"max_speed_kmh"`
	AverageSpeedKmh     *float64   `json:"average_speed_kmh,omitempty"`
	AccuracyPercent     float64    `json:"accuracy_percent"`
	PointsReceived      int64      `json:"points_received"`
	PointsValid         int64      `json:"points_valid"`
	PointsFiltered      int64      `json:"points_filtered"`
	BufferedPoints      int        `json:"buffered_points"`
	Quality             string     `json:"quality"`
	Version             int64      `json:"version"`
}

type LocationOutcomeResponse struct {
	VehicleID      string                     `json:"vehicle_id"`
	Accepted       bool                       `json:"accepted"`
	FirstUpdate    bool                       `json:"first_update"`
	DistanceMeters float64                    `json:"distance_meters"`
	OdometerMeters int64                      `json:"odometer_meters"`
	Session        *service.SessionFixOutcome `json:"session,omitempty"`
}

func FromCoordinate(c *domain.Coordinate) *Location {
	if c == nil {
		return nil
	}
	return &Location{Lat: c.Lat, Lng: c.Lng, AccuracyMeters: c.AccuracyMeters}
}

func FromVehicle(v *domain.Vehicle) VehicleResponse {
	snap := v.Snapshot()
	resp := VehicleResponse{
		ID:               snap.ID.String(),
		LicensePlate:     snap.LicensePlate,
		Type:             snap.Type,
		Capacity:         snap.Capacity,
		Model:            snap.Model,
		Status:           string(snap.Status),
		RouteClearedAt:   snap.RouteClearedAt,
		CurrentLocation:  FromCoordinate(snap.CurrentLocation),
		PreviousLocation: FromCoordinate(snap.PreviousLocation),
		SpeedKmh:         snap.SpeedKmh,
		BearingDegrees:   snap.BearingDegrees,
		OdometerMeters:   snap.OdometerMeters,
		LastUpdateAt:     snap.LastUpdateAt,
		Version:          snap.Version,
		CreatedAt:        snap.CreatedAt,
		UpdatedAt:        snap.UpdatedAt,
	}
	if snap.RouteID != nil {
		r := string(*snap.RouteID)
		resp.RouteID = &r
	}
	return resp
}

func FromVehicles(vs []*domain.Vehicle) []VehicleResponse {
	out := make([]VehicleResponse, 0, len(vs))
	for _, v := range vs {
		out = append(out, FromVehicle(v))
	}
	return out
}

func FromSession(s *domain.TrackingSession) SessionResponse {
	c := s.Counters()
	resp := SessionResponse{
		ID:                  s.ID().String(),
		VehicleID:           s.VehicleID().String(),
		Status:              string(s.Status()),
		StartedAt:           s.StartedAt(),
		EndedAt:             s.EndedAt(),
		CurrentLocation:     FromCoordinate(s.CurrentLocation()),
		TotalDistanceMeters: s.TotalDistanceMeters(),
		MaxSpeedKmh:         s.MaxSpeedKmh(),
		AverageSpeedKmh:     s.AverageSpeedKmh(),
		AccuracyPercent:     s.AccuracyPercent(),
		PointsReceived:      c.Received,
		PointsValid:         c.Valid,
		PointsFiltered:      c.Filtered,
		BufferedPoints:      len(s.Points()),
		Quality:             string(s.Quality()),
		Version:             s.Version,
	}
	if r := s.RouteID(); r != nil {
		id := string(*r)
		resp.RouteID = &id
	}
	return resp
}

func FromLocationOutcome(o *service.LocationOutcome) LocationOutcomeResponse {
	return LocationOutcomeResponse{
		VehicleID:      o.VehicleID.String(),
		Accepted:       o.Accepted,
		FirstUpdate:    o.FirstUpdate,
		DistanceMeters: o.DistanceMeters,
		OdometerMeters: o.OdometerMeters,
		Session:        o.Session,
	}
}
