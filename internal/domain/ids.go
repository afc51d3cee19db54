package domain

import (
	"strings"

	"github.com/google/uuid"
)

const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleDriver     = "driver"
)

func ValidateRole(role string) bool {
	switch role {
	case RoleAdmin, RoleDispatcher, RoleDriver:
		return true
	default:
		return false
	}
}

type VehicleID string

func NewVehicleID() VehicleID {
	return VehicleID(uuid.NewString())
}

func ParseVehicleID(raw string) (VehicleID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", Invalid(CodeInvalidIdentifier, "vehicle id must be a UUID", map[string]any{"vehicle_id": raw})
	}
	return VehicleID(id.String()), nil
}

func (id VehicleID) String() string { return string(id) }

type TrackingSessionID string

func NewTrackingSessionID() TrackingSessionID {
	return TrackingSessionID(uuid.NewString())
}

func ParseTrackingSessionID(raw string) (TrackingSessionID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", Invalid(CodeInvalidIdentifier, "session id must be a UUID", map[string]any{"session_id": raw})
	}
	return TrackingSessionID(id.String()), nil
}

func (id TrackingSessionID) String() string { return string(id) }

// RouteID and DriverID belong to other bounded contexts; they are only carried by reference.
type RouteID string

type DriverID string
