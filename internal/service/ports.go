package service

import (
	"context"

	"transit-tracker/internal/domain"
	"transit-tracker/internal/events"
)

// Store is the read side plus the transaction factory. Reads outside a transaction see the
// last committed state.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
	NextVehicleID(ctx context.Context) (domain.VehicleID, error)
	GetVehicle(ctx context.Context, id domain.VehicleID) (*domain.Vehicle, error)
	FindVehicleByLicensePlate(ctx context.Context, plate string) (*domain.Vehicle, error)
	ListVehicles(ctx context.Context, filter VehicleFilter) ([]*domain.Vehicle, error)
	GetSession(ctx context.Context, id domain.TrackingSessionID) (*domain.TrackingSession, error)
}

// Tx is a unit of work. SaveVehicle and SaveSession check the aggregate's Version against the
// stored one and fail with a CodeVersionConflict error when they differ; on success they bump
// the aggregate's Version.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	GetVehicleForUpdate(ctx context.Context, id domain.VehicleID) (*domain.Vehicle, error)
	CreateVehicle(ctx context.Context, v *domain.Vehicle) error
	SaveVehicle(ctx context.Context, v *domain.Vehicle) error

	GetSessionForUpdate(ctx context.Context, id domain.TrackingSessionID) (*domain.TrackingSession, error)
	// OpenSessionForVehicle returns the vehicle's session that has not ended, or ErrNotFound.
	OpenSessionForVehicle(ctx context.Context, vehicleID domain.VehicleID) (*domain.TrackingSession, error)
	CreateSession(ctx context.Context, s *domain.TrackingSession) error
	SaveSession(ctx context.Context, s *domain.TrackingSession) error

	EnqueueEvent(ctx context.Context, event events.Event) error
}

type VehicleFilter struct {
	Status *domain.VehicleStatus
	Limit  int
	Offset int
}
