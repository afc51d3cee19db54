package service_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/domain"
	"transit-tracker/internal/repo/memory"
	"transit-tracker/internal/service"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newService(t *testing.T) (*service.Service, *memory.Store, *clock) {
	t.Helper()
	store := memory.New()
	clk := &clock{t: time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)}
	svc := service.New(store, domain.DefaultSessionLimits(), nil).WithClock(clk.now)
	return svc, store, clk
}

func register(t *testing.T, svc *service.Service, plate string) *domain.Vehicle {
	t.Helper()
	v, err := svc.RegisterVehicle(context.Background(), service.RegisterVehicleCommand{LicensePlate: plate, Type: "bus", Capacity: 60})
	require.NoError(t, err)
	return v
}

func north(lat, meters float64) float64 {
	return lat + meters/domain.EarthRadiusMeters*180/math.Pi
}

func TestRegisterVehicle(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	v := register(t, svc, "KSA-1001")
	assert.Equal(t, domain.VehicleStatusAtDepot, v.Status())
	assert.Equal(t, int64(1), v.Version)

	_, err := svc.RegisterVehicle(ctx, service.RegisterVehicleCommand{LicensePlate: "ksa-1001"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.CodeLicensePlateDuplicate, domain.CodeOf(err))

	found, err := svc.FindVehicleByLicensePlate(ctx, "KSA-1001")
	require.NoError(t, err)
	assert.Equal(t, v.ID(), found.ID())

	evts := store.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, domain.EventVehicleRegistered, evts[0].Type)
}

func TestGetVehicle_Errors(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.GetVehicle(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrInvalid)

	_, err = svc.GetVehicle(context.Background(), domain.NewVehicleID().String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.CodeVehicleNotFound, domain.CodeOf(err))
}

func TestUpdateLocation_FirstThenThreshold(t *testing.T) {
	svc, store, clk := newService(t)
	ctx := context.Background()
	v := register(t, svc, "KSA-2002")

	out, err := svc.UpdateLocation(ctx, service.LocationCommand{VehicleRef: "KSA-2002", Lat: 24.7, Lng: 46.7, AccuracyMeters: 5, SpeedKmh: 20})
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.True(t, out.FirstUpdate)
	assert.Equal(t, v.ID(), out.VehicleID)
	assert.Nil(t, out.Session)

	clk.advance(time.Second)
	out, err = svc.UpdateLocation(ctx, service.LocationCommand{VehicleRef: v.ID().String(), Lat: north(24.7, 15), Lng: 46.7, SpeedKmh: 20})
	require.NoError(t, err)
	assert.False(t, out.Accepted, "AT_DEPOT needs 20 m")

	clk.advance(time.Second)
	out, err = svc.UpdateLocation(ctx, service.LocationCommand{VehicleRef: v.ID().String(), Lat: north(24.7, 30), Lng: 46.7, SpeedKmh: 20})
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, int64(30), out.OdometerMeters)

	stored, err := svc.GetVehicle(ctx, v.ID().String())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Version)
	require.NotNil(t, stored.PreviousLocation())
	assert.Equal(t, 24.7, stored.PreviousLocation().Lat)

	var moved int
	for _, e := range store.Events() {
		if e.Type == domain.EventVehicleLocationUpdated {
			moved++
		}
	}
	assert.Equal(t, 2, moved)
}

func TestUpdateLocation_ValidationBeforeLookup(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.UpdateLocation(ctx, service.LocationCommand{VehicleRef: "anything", Lat: 91})
	assert.Equal(t, domain.CodeInvalidCoordinate, domain.CodeOf(err))

	_, err = svc.UpdateLocation(ctx, service.LocationCommand{VehicleRef: "anything", SpeedKmh: 151})
	assert.Equal(t, domain.CodeInvalidSpeed, domain.CodeOf(err))

	_, err = svc.UpdateLocation(ctx, service.LocationCommand{VehicleRef: "UNKNOWN-PLATE", Lat: 1, Lng: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateLocation_UntrackableLeavesStateUntouched(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	v := register(t, svc, "KSA-3003")
	for _, st := range []domain.VehicleStatus{domain.VehicleStatusActive, domain.VehicleStatusRetired} {
		_, err := svc.ChangeStatus(ctx, service.StatusCommand{VehicleID: v.ID().String(), Status: st, Reason: "r", ChangedBy: "admin"})
		require.NoError(t, err)
	}

	_, err := svc.UpdateLocation(ctx, service.LocationCommand{VehicleRef: v.ID().String(), Lat: 1, Lng: 1})
	assert.Equal(t, domain.CodeVehicleNotTrackable, domain.CodeOf(err))

	stored, err := svc.GetVehicle(ctx, v.ID().String())
	require.NoError(t, err)
	assert.Nil(t, stored.CurrentLocation())
}

func TestChangeStatus(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	v := register(t, svc, "KSA-4004")
	id := v.ID().String()

	_, err := svc.ChangeStatus(ctx, service.StatusCommand{VehicleID: id, Status: domain.VehicleStatusActive, Reason: "shift", ChangedBy: "disp"})
	require.NoError(t, err)
	_, err = svc.ChangeStatus(ctx, service.StatusCommand{VehicleID: id, Status: domain.VehicleStatusInRoute, Reason: "trip", ChangedBy: "disp"})
	require.NoError(t, err)

	_, err = svc.ChangeStatus(ctx, service.StatusCommand{VehicleID: id, Status: domain.VehicleStatusBreakdown, Reason: "engine", ChangedBy: "driver"})
	assert.ErrorIs(t, err, domain.ErrPrecondition)
	assert.Equal(t, domain.CodeInvalidTransition, domain.CodeOf(err))

	_, err = svc.ChangeStatus(ctx, service.StatusCommand{VehicleID: id, Status: "FLYING", Reason: "x", ChangedBy: "y"})
	assert.ErrorIs(t, err, domain.ErrInvalid)

	stored, err := svc.GetVehicle(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.VehicleStatusInRoute, stored.Status())
}

func TestRouteAssignmentClearedByMaintenance(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	id := register(t, svc, "KSA-5005").ID().String()

	_, err := svc.AssignRoute(ctx, id, "R-7")
	require.NoError(t, err)
	_, err = svc.AssignRoute(ctx, id, "R-8")
	assert.Equal(t, domain.CodeRouteConflict, domain.CodeOf(err))

	_, err = svc.ChangeStatus(ctx, service.StatusCommand{VehicleID: id, Status: domain.VehicleStatusActive, Reason: "r", ChangedBy: "a"})
	require.NoError(t, err)
	v, err := svc.ChangeStatus(ctx, service.StatusCommand{VehicleID: id, Status: domain.VehicleStatusMaintenance, Reason: "tyres", ChangedBy: "a"})
	require.NoError(t, err)
	assert.True(t, v.Route().ExplicitlyCleared())

	v, err = svc.UnassignRoute(ctx, id, "noop")
	require.NoError(t, err)
	assert.True(t, v.Route().ExplicitlyCleared())
}

func TestListVehicles(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()
	for _, plate := range []string{"A-1", "A-2", "A-3"} {
		register(t, svc, plate)
		clk.advance(time.Minute)
	}
	all, err := svc.ListVehicles(ctx, service.VehicleFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "A-1", all[0].Profile().LicensePlate)

	page, err := svc.ListVehicles(ctx, service.VehicleFilter{Limit: 1, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "A-3", page[0].Profile().LicensePlate)

	active := domain.VehicleStatusActive
	none, err := svc.ListVehicles(ctx, service.VehicleFilter{Status: &active})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFailedResult(t *testing.T) {
	err := domain.BusinessRule(domain.CodeInvalidTransition, "nope", map[string]any{"from": "IN_ROUTE"})
	res := service.Failed("v-1", err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.CodeInvalidTransition, res.Code)
	assert.Equal(t, "IN_ROUTE", res.Fields["from"])

	res = service.Failed("v-1", context.DeadlineExceeded)
	assert.Equal(t, service.CodeInternal, res.Code)
	assert.True(t, service.Succeeded("v-2").Success)
}
