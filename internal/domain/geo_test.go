package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// offsetNorth moves a coordinate due north by the given distance along the meridian.
func offsetNorth(c Coordinate, meters float64) Coordinate {
	dLat := meters / EarthRadiusMeters * 180 / math.Pi
	return Coordinate{Lat: c.Lat + dLat, Lng: c.Lng, AccuracyMeters: c.AccuracyMeters}
}

func TestNewCoordinate_Ranges(t *testing.T) {
	_, err := NewCoordinate(90, 180, 0)
	require.NoError(t, err)

	for _, tc := range []struct {
		name          string
		lat, lng, acc float64
	}{
		{"lat high", 90.0001, 0, 5},
		{"lat low", -90.0001, 0, 5},
		{"lng high", 0, 180.0001, 5},
		{"lng low", 0, -180.0001, 5},
		{"negative accuracy", 10, 10, -1},
		{"nan", math.NaN(), 10, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCoordinate(tc.lat, tc.lng, tc.acc)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Equal(t, CodeInvalidCoordinate, CodeOf(err))
		})
	}
}

func TestDistanceMeters_KnownPair(t *testing.T) {
	riyadhA := Coordinate{Lat: 24.7136, Lng: 46.6753}
	riyadhB := Coordinate{Lat: 24.7743, Lng: 46.7386}
	d := DistanceMeters(riyadhA, riyadhB)
	assert.InDelta(t, 9296, d, 1)
	assert.Equal(t, 0.0, DistanceMeters(riyadhA, riyadhA))
}

func TestDistanceMeters_MeridianOffset(t *testing.T) {
	origin := Coordinate{Lat: 40.4168, Lng: -3.7038}
	assert.InDelta(t, 5.0, DistanceMeters(origin, offsetNorth(origin, 5)), 1e-6)
}

func TestSpeed_Bounds(t *testing.T) {
	_, err := NewSpeedKmh(150)
	require.NoError(t, err)
	_, err = NewSpeedKmh(150.01)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = NewSpeedKmh(-1)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSpeed_RoundTrip(t *testing.T) {
	s, err := SpeedFromMetersPerSecond(13.4)
	require.NoError(t, err)
	assert.InDelta(t, 48.24, s.Kmh(), 1e-9)
	assert.InDelta(t, 13.4, s.MetersPerSecond(), 1e-9)
}

func TestBearing_Normalized(t *testing.T) {
	cases := map[float64]float64{
		0:    0,
		359:  359,
		360:  0,
		370:  10,
		-10:  350,
		-720: 0,
		725:  5,
	}
	for in, want := range cases {
		assert.InDelta(t, want, NewBearing(in).Degrees(), 1e-9, "bearing %v", in)
		got := NewBearing(in).Degrees()
		assert.True(t, got >= 0 && got < 360)
	}
}
