package domain

import (
	"math"
)

const EarthRadiusMeters = 6371000.0

// MaxSpeedKmh is the hard domain ceiling for any stored speed.
const MaxSpeedKmh = 150.0

type Coordinate struct {
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracy_meters"`
}

func NewCoordinate(lat, lng, accuracy float64) (Coordinate, error) {
	fields := map[string]any{"lat": lat, "lng": lng, "accuracy_meters": accuracy}
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return Coordinate{}, Invalid(CodeInvalidCoordinate, "latitude out of range", fields)
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return Coordinate{}, Invalid(CodeInvalidCoordinate, "longitude out of range", fields)
	}
	if math.IsNaN(accuracy) || accuracy < 0 {
		return Coordinate{}, Invalid(CodeInvalidCoordinate, "accuracy must be non-negative", fields)
	}
	return Coordinate{Lat: lat, Lng: lng, AccuracyMeters: accuracy}, nil
}

// DistanceMeters is the haversine great-circle distance on a spherical Earth.
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := degreesToRadians(a.Lat)
	lat2 := degreesToRadians(b.Lat)
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Speed is kept in km/h.
type Speed struct {
	kmh float64
}

func NewSpeedKmh(kmh float64) (Speed, error) {
	if math.IsNaN(kmh) || kmh < 0 || kmh > MaxSpeedKmh {
		return Speed{}, Invalid(CodeInvalidSpeed, "speed outside [0,150] km/h", map[string]any{"speed_kmh": kmh})
	}
	return Speed{kmh: kmh}, nil
}

func SpeedFromMetersPerSecond(ms float64) (Speed, error) {
	return NewSpeedKmh(MetersPerSecondToKmh(ms))
}

func (s Speed) Kmh() float64 { return s.kmh }

func (s Speed) MetersPerSecond() float64 { return s.kmh / 3.6 }

func MetersPerSecondToKmh(ms float64) float64 { return ms * 3.6 }

type Bearing struct {
	degrees float64
}

func NewBearing(degrees float64) Bearing {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return Bearing{}
	}
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}
	// -0.0000001 mod 360 lands on 360 after the shift above.
	if d >= 360 {
		d = 0
	}
	return Bearing{degrees: d}
}

func (b Bearing) Degrees() float64 { return b.degrees }
