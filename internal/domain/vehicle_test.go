package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestVehicle(t *testing.T) *Vehicle {
	t.Helper()
	v, err := NewVehicle(NewVehicleID(), VehicleProfile{LicensePlate: "ABC-1234", Type: "bus", Capacity: 40}, t0)
	require.NoError(t, err)
	v.PullEvents()
	return v
}

func moveTo(t *testing.T, v *Vehicle, loc Coordinate, at time.Time) LocationUpdateResult {
	t.Helper()
	speed, err := NewSpeedKmh(30)
	require.NoError(t, err)
	bearing := NewBearing(0)
	res, err := v.UpdateLocation(LocationUpdate{Location: &loc, Speed: &speed, Bearing: &bearing}, at)
	require.NoError(t, err)
	return res
}

func toStatus(t *testing.T, v *Vehicle, path ...VehicleStatus) {
	t.Helper()
	for _, s := range path {
		require.NoError(t, v.ChangeStatus(s, "test", "dispatcher-1", t0))
	}
}

func TestNewVehicle_AtDepotWithEvent(t *testing.T) {
	v, err := NewVehicle(NewVehicleID(), VehicleProfile{LicensePlate: "  XYZ-1 "}, t0)
	require.NoError(t, err)
	assert.Equal(t, VehicleStatusAtDepot, v.Status())
	assert.Equal(t, "XYZ-1", v.Profile().LicensePlate)
	assert.Nil(t, v.CurrentLocation())

	evts := v.PullEvents()
	require.Len(t, evts, 1)
	assert.Equal(t, EventVehicleRegistered, evts[0].EventType())
	assert.Empty(t, v.PullEvents())
}

func TestNewVehicle_RequiresPlate(t *testing.T) {
	_, err := NewVehicle(NewVehicleID(), VehicleProfile{}, t0)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestUpdateLocation_FirstFixAlwaysAccepted(t *testing.T) {
	v := newTestVehicle(t)
	res := moveTo(t, v, Coordinate{Lat: 24.7136, Lng: 46.6753, AccuracyMeters: 5}, t0)
	assert.True(t, res.Accepted)
	assert.True(t, res.FirstUpdate)
	assert.Equal(t, int64(0), v.OdometerMeters())
	require.NotNil(t, v.CurrentLocation())
	assert.Nil(t, v.PreviousLocation())
}

func TestUpdateLocation_InRouteThresholdBoundary(t *testing.T) {
	v := newTestVehicle(t)
	toStatus(t, v, VehicleStatusActive, VehicleStatusInRoute)
	origin := Coordinate{Lat: 24.7136, Lng: 46.6753, AccuracyMeters: 5}
	moveTo(t, v, origin, t0)
	v.PullEvents()

	res := moveTo(t, v, offsetNorth(origin, 4.9), t0.Add(time.Second))
	assert.False(t, res.Accepted)
	assert.Equal(t, 5.0, res.ThresholdMeters)
	assert.Equal(t, origin, *v.CurrentLocation())
	assert.Empty(t, v.PullEvents())

	res = moveTo(t, v, offsetNorth(origin, 5.0), t0.Add(2*time.Second))
	assert.True(t, res.Accepted)
	assert.InDelta(t, 5.0, res.DistanceMeters, 1e-6)
	assert.Equal(t, origin, *v.PreviousLocation())
	assert.Equal(t, int64(5), v.OdometerMeters())

	evts := v.PullEvents()
	require.Len(t, evts, 1)
	moved, ok := evts[0].(VehicleLocationUpdated)
	require.True(t, ok)
	require.NotNil(t, moved.PreviousLocation)
	assert.Equal(t, origin, *moved.PreviousLocation)
	assert.InDelta(t, 30/3.6, moved.SpeedMS, 1e-9)
}

func TestUpdateLocation_AtDepotNeedsTwentyMeters(t *testing.T) {
	v := newTestVehicle(t)
	origin := Coordinate{Lat: 10, Lng: 10}
	moveTo(t, v, origin, t0)

	assert.False(t, moveTo(t, v, offsetNorth(origin, 19), t0.Add(time.Second)).Accepted)
	assert.True(t, moveTo(t, v, offsetNorth(origin, 21), t0.Add(2*time.Second)).Accepted)
}

func TestUpdateLocation_OdometerMonotonic(t *testing.T) {
	v := newTestVehicle(t)
	toStatus(t, v, VehicleStatusActive, VehicleStatusInRoute)
	loc := Coordinate{Lat: 0.5, Lng: 0.5}
	moveTo(t, v, loc, t0)

	var last int64
	for i := 1; i <= 20; i++ {
		loc = offsetNorth(loc, float64(i))
		moveTo(t, v, loc, t0.Add(time.Duration(i)*time.Second))
		assert.GreaterOrEqual(t, v.OdometerMeters(), last)
		last = v.OdometerMeters()
	}
	assert.Greater(t, last, int64(0))
}

func TestUpdateLocation_RequiresAllInputs(t *testing.T) {
	v := newTestVehicle(t)
	loc := Coordinate{Lat: 1, Lng: 1}
	_, err := v.UpdateLocation(LocationUpdate{Location: &loc}, t0)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, CodeMissingLocationInput, CodeOf(err))
}

func TestUpdateLocation_RejectsUntrackable(t *testing.T) {
	for _, path := range [][]VehicleStatus{
		{VehicleStatusActive, VehicleStatusInactive},
		{VehicleStatusActive, VehicleStatusRetired},
	} {
		v := newTestVehicle(t)
		toStatus(t, v, path...)
		loc := Coordinate{Lat: 1, Lng: 1}
		speed, _ := NewSpeedKmh(0)
		bearing := NewBearing(0)
		_, err := v.UpdateLocation(LocationUpdate{Location: &loc, Speed: &speed, Bearing: &bearing}, t0)
		assert.ErrorIs(t, err, ErrPrecondition)
		assert.Equal(t, CodeVehicleNotTrackable, CodeOf(err))
	}
}

func TestChangeStatus_InvalidTransitions(t *testing.T) {
	v := newTestVehicle(t)
	toStatus(t, v, VehicleStatusActive, VehicleStatusInRoute)

	err := v.ChangeStatus(VehicleStatusBreakdown, "engine", "driver-7", t0)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, CodeInvalidTransition, CodeOf(err))
	assert.Equal(t, VehicleStatusInRoute, v.Status())

	err = v.ChangeStatus(VehicleStatusInRoute, "again", "driver-7", t0)
	assert.Equal(t, CodeInvalidTransition, CodeOf(err))
}

func TestChangeStatus_RequiresReasonAndActor(t *testing.T) {
	v := newTestVehicle(t)
	assert.ErrorIs(t, v.ChangeStatus(VehicleStatusActive, " ", "admin", t0), ErrInvalid)
	assert.ErrorIs(t, v.ChangeStatus(VehicleStatusActive, "shift", "", t0), ErrInvalid)
	assert.Equal(t, VehicleStatusAtDepot, v.Status())
}

func TestChangeStatus_MaintenanceClearsRoute(t *testing.T) {
	v := newTestVehicle(t)
	toStatus(t, v, VehicleStatusActive)
	require.NoError(t, v.AssignRoute("route-12", t0))
	v.PullEvents()

	require.NoError(t, v.ChangeStatus(VehicleStatusMaintenance, "brakes", "dispatcher-1", t0.Add(time.Minute)))
	assert.False(t, v.Route().Assigned())
	assert.True(t, v.Route().ExplicitlyCleared())

	evts := v.PullEvents()
	require.Len(t, evts, 2)
	assert.Equal(t, EventVehicleRouteUnassigned, evts[0].EventType())
	changed, ok := evts[1].(VehicleStatusChanged)
	require.True(t, ok)
	assert.Equal(t, VehicleStatusActive, changed.OldStatus)
	assert.Equal(t, VehicleStatusMaintenance, changed.NewStatus)
	require.NotNil(t, changed.RouteID)
	assert.Equal(t, RouteID("route-12"), *changed.RouteID)
}

func TestAssignRoute(t *testing.T) {
	v := newTestVehicle(t)
	require.NoError(t, v.AssignRoute("r1", t0))
	require.NoError(t, v.AssignRoute("r1", t0))

	err := v.AssignRoute("r2", t0)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, CodeRouteConflict, CodeOf(err))

	v.UnassignRoute("done", t0)
	assert.True(t, v.Route().ExplicitlyCleared())
	require.NoError(t, v.AssignRoute("r2", t0))

	toStatus(t, v, VehicleStatusActive, VehicleStatusInRoute)
	v.UnassignRoute("swap", t0)
	err = v.AssignRoute("r3", t0)
	assert.Equal(t, CodeVehicleNotAssignable, CodeOf(err))
}

func TestVehicle_SnapshotRestore(t *testing.T) {
	v := newTestVehicle(t)
	toStatus(t, v, VehicleStatusActive)
	moveTo(t, v, Coordinate{Lat: 1, Lng: 2, AccuracyMeters: 3}, t0)
	v.Version = 4

	r := RestoreVehicle(v.Snapshot())
	assert.Equal(t, v.Snapshot(), r.Snapshot())
	assert.Empty(t, r.PendingEvents())
}
