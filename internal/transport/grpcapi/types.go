package grpcapi

import (
	"transit-tracker/internal/ingest"
	"transit-tracker/internal/service"
	"transit-tracker/internal/transport"
)

type Empty struct{}

type TokenRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type RegisterVehicleRequest struct {
	LicensePlate string `json:"license_plate"`
	Type         string `json:"type"`
	Capacity     int    `json:"capacity"`
	Model        string `json:"model"`
}

type VehicleRequest struct {
	VehicleID string `json:"vehicle_id"`
}

type ListVehiclesRequest struct {
	Status string `json:"status"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type ListVehiclesResponse struct {
	Vehicles []transport.VehicleResponse `json:"vehicles"`
}

type LocationRequest struct {
	VehicleRef     string  `json:"vehicle_ref"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracy_meters"`
	SpeedKmh       float64 `json:"speed_kmh"`
	BearingDegrees float64 `json:"bearing_degrees"`
	// Timestamp is RFC3339; empty means the server clock.
	Timestamp string `json:"timestamp"`
}

type StatusRequest struct {
	VehicleID string `json:"vehicle_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

type RouteRequest struct {
	VehicleID string `json:"vehicle_id"`
	RouteID   string `json:"route_id"`
	Reason    string `json:"reason"`
}

type StartSessionRequest struct {
	VehicleID     string              `json:"vehicle_id"`
	RouteID       string              `json:"route_id"`
	DriverID      string              `json:"driver_id"`
	StartLocation *transport.Location `json:"start_location"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

type RunIngestionRequest struct {
	Providers []string `json:"providers"`
}

type BatchStatusRequest struct {
	Changes []StatusRequest `json:"changes"`
}

type ProviderHealthResponse struct {
	Providers map[string]ProviderHealth `json:"providers"`
	Filter    ingest.FilterStats        `json:"filter"`
}

type ProviderHealth struct {
	Healthy      bool   `json:"healthy"`
	SuccessCount int64  `json:"success_count"`
	FailureCount int64  `json:"failure_count"`
	LastError    string `json:"last_error,omitempty"`
}

type BatchStatusResponse struct {
	Succeeded int                     `json:"succeeded"`
	Failed    int                     `json:"failed"`
	Results   []service.CommandResult `json:"results"`
}
