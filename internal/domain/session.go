package domain

import (
	"strings"
	"time"
)

type SessionStatus string

const (
	SessionStatusCreated   SessionStatus = "CREATED"
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusSuspended SessionStatus = "SUSPENDED"
	SessionStatusEnded     SessionStatus = "ENDED"
)

type SessionQuality string

const (
	SessionQualityExcellent SessionQuality = "EXCELLENT"
	SessionQualityGood      SessionQuality = "GOOD"
	SessionQualityFair      SessionQuality = "FAIR"
	SessionQualityPoor      SessionQuality = "POOR"
	SessionQualityNoData    SessionQuality = "NO_DATA"
)

type SessionLimits struct {
	MaxDuration        time.Duration
	MaxFixAge          time.Duration
	MaxFutureSkew      time.Duration
	MaxAccuracyMeters  float64
	HighAccuracyMeters float64
	MaxPoints          int
}

func DefaultSessionLimits() SessionLimits {
	return SessionLimits{
		MaxDuration:        24 * time.Hour,
		MaxFixAge:          10 * time.Minute,
		MaxFutureSkew:      30 * time.Second,
		MaxAccuracyMeters:  100,
		HighAccuracyMeters: 20,
		MaxPoints:          1000,
	}
}

func (l SessionLimits) withDefaults() SessionLimits {
	def := DefaultSessionLimits()
	if l.MaxDuration <= 0 || l.MaxDuration > def.MaxDuration {
		l.MaxDuration = def.MaxDuration
	}
	if l.MaxFixAge <= 0 {
		l.MaxFixAge = def.MaxFixAge
	}
	if l.MaxFutureSkew <= 0 {
		l.MaxFutureSkew = def.MaxFutureSkew
	}
	if l.MaxAccuracyMeters <= 0 {
		l.MaxAccuracyMeters = def.MaxAccuracyMeters
	}
	if l.HighAccuracyMeters <= 0 {
		l.HighAccuracyMeters = def.HighAccuracyMeters
	}
	if l.MaxPoints <= 0 {
		l.MaxPoints = def.MaxPoints
	}
	return l
}

type TrackingPoint struct {
	Location       Coordinate `json:"location"`
	SpeedKmh       float64    `json:"speed_kmh"`
	BearingDegrees float64    `json:"bearing_degrees"`
	Timestamp      time.Time  `json:"timestamp"`
}

type GPSFix struct {
	Location       *Coordinate
	Speed          *Speed
	Bearing        *Bearing
	Timestamp      time.Time
	AccuracyMeters float64
}

type GPSProcessResult struct {
	Accepted    bool
	Filtered    bool
	DeltaMeters float64
}

type SessionCounters struct {
	Received     int64
	Valid        int64
	Filtered     int64
	HighAccuracy int64
}

type TrackingSession struct {
	Aggregate

	id        TrackingSessionID
	vehicleID VehicleID
	routeID   *RouteID
	driverID  *DriverID
	status    SessionStatus
	limits    SessionLimits

	startedAt       *time.Time
	endedAt         *time.Time
	startLocation   *Coordinate
	currentLocation *Coordinate
	currentSpeed    Speed
	currentBearing  Bearing
	lastFixAt       *time.Time
	lastUpdateAt    *time.Time

	totalDistance   float64
	maxSpeedKmh     float64
	averageSpeedKmh *float64
	accuracyPct     float64
	counters        SessionCounters
	points          []TrackingPoint
}

type TrackingSessionSnapshot struct {
	ID              TrackingSessionID
	VehicleID       VehicleID
	RouteID         *RouteID
	DriverID        *DriverID
	Status          SessionStatus
	Limits          SessionLimits
	StartedAt       *time.Time
	EndedAt         *time.Time
	StartLocation   *Coordinate
	CurrentLocation *Coordinate
	CurrentSpeedKmh float64
	CurrentBearing  float64
	LastFixAt       *time.Time
	LastUpdateAt    *time.Time
	TotalDistance   float64
	MaxSpeedKmh     float64
	AverageSpeedKmh *float64
	AccuracyPercent float64
	Counters        SessionCounters
	Points          []TrackingPoint
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func NewTrackingSession(id TrackingSessionID, vehicleID VehicleID, routeID *RouteID, driverID *DriverID, limits SessionLimits, now time.Time) (*TrackingSession, error) {
	if id == "" || vehicleID == "" {
		return nil, Invalid(CodeMissingField, "session id and vehicle id are required", nil)
	}
	return &TrackingSession{
		Aggregate: Aggregate{CreatedAt: now, UpdatedAt: now},
		id:        id,
		vehicleID: vehicleID,
		routeID:   copyRouteID(routeID),
		driverID:  copyDriverID(driverID),
		status:    SessionStatusCreated,
		limits:    limits.withDefaults(),
	}, nil
}

func (s *TrackingSession) ID() TrackingSessionID { return s.id }

func (s *TrackingSession) VehicleID() VehicleID { return s.vehicleID }

func (s *TrackingSession) RouteID() *RouteID { return copyRouteID(s.routeID) }

func (s *TrackingSession) Status() SessionStatus { return s.status }

func (s *TrackingSession) Counters() SessionCounters { return s.counters }

func (s *TrackingSession) TotalDistanceMeters() float64 { return s.totalDistance }

func (s *TrackingSession) MaxSpeedKmh() float64 { return s.maxSpeedKmh }

func (s *TrackingSession) AverageSpeedKmh() *float64 {
	if s.averageSpeedKmh == nil {
		return nil
	}
	v := *s.averageSpeedKmh
	return &v
}

func (s *TrackingSession) AccuracyPercent() float64 { return s.accuracyPct }

func (s *TrackingSession) CurrentLocation() *Coordinate { return copyCoordinate(s.currentLocation) }

func (s *TrackingSession) StartLocation() *Coordinate { return copyCoordinate(s.startLocation) }

func (s *TrackingSession) StartedAt() *time.Time { return copyTime(s.startedAt) }

func (s *TrackingSession) EndedAt() *time.Time { return copyTime(s.endedAt) }

// Points returns the retained fixes, oldest first.
func (s *TrackingSession) Points() []TrackingPoint {
	out := make([]TrackingPoint, len(s.points))
	copy(out, s.points)
	return out
}

func (s *TrackingSession) Start(startLocation *Coordinate, now time.Time) error {
	if s.status != SessionStatusCreated {
		return s.stateError("start")
	}
	at := now
	s.status = SessionStatusActive
	s.startedAt = &at
	s.startLocation = copyCoordinate(startLocation)
	s.touch(now)
	s.record(TrackingSessionStarted{
		eventMeta:     eventMeta{At: now},
		SessionID:     s.id,
		VehicleID:     s.vehicleID,
		RouteID:       copyRouteID(s.routeID),
		DriverID:      copyDriverID(s.driverID),
		StartLocation: copyCoordinate(startLocation),
	})
	return nil
}

func (s *TrackingSession) Suspend(reason string, now time.Time) error {
	if s.status != SessionStatusActive {
		return s.stateError("suspend")
	}
	s.status = SessionStatusSuspended
	s.touch(now)
	s.record(TrackingSessionSuspended{eventMeta: eventMeta{At: now}, SessionID: s.id, VehicleID: s.vehicleID, Reason: strings.TrimSpace(reason)})
	return nil
}

func (s *TrackingSession) Resume(now time.Time) error {
	if s.status != SessionStatusSuspended {
		return s.stateError("resume")
	}
	if err := s.checkDuration(now); err != nil {
		return err
	}
	s.status = SessionStatusActive
	s.touch(now)
	s.record(TrackingSessionResumed{eventMeta: eventMeta{At: now}, SessionID: s.id, VehicleID: s.vehicleID})
	return nil
}

func (s *TrackingSession) End(reason string, now time.Time) error {
	if s.status != SessionStatusActive && s.status != SessionStatusSuspended {
		return s.stateError("end")
	}
	at := now
	s.status = SessionStatusEnded
	s.endedAt = &at

	duration := now.Sub(*s.startedAt)
	if duration > 0 {
		avg := s.totalDistance / duration.Seconds() * 3.6
		s.averageSpeedKmh = &avg
	}
	s.touch(now)
	s.record(TrackingSessionEnded{
		eventMeta:           eventMeta{At: now},
		SessionID:           s.id,
		VehicleID:           s.vehicleID,
		RouteID:             copyRouteID(s.routeID),
		Reason:              strings.TrimSpace(reason),
		TotalDistanceMeters: s.totalDistance,
		AverageSpeedKmh:     s.AverageSpeedKmh(),
		MaxSpeedKmh:         s.maxSpeedKmh,
		Duration:            duration,
		Quality:             s.Quality(),
	})
	return nil
}

// ProcessGPS validates and applies one fix. Invalid, stale and out-of-order fixes return an
// error and leave the session untouched; fixes above the accuracy ceiling are counted as
// filtered without an error.
func (s *TrackingSession) ProcessGPS(fix GPSFix, now time.Time) (GPSProcessResult, error) {
	if s.status != SessionStatusActive {
		return GPSProcessResult{}, s.stateError("process gps data")
	}
	if err := s.checkDuration(now); err != nil {
		return GPSProcessResult{}, err
	}
	if fix.Location == nil || fix.Speed == nil || fix.Bearing == nil || fix.Timestamp.IsZero() {
		return GPSProcessResult{}, Invalid(CodeMissingLocationInput, "location, speed, bearing and timestamp are required",
			map[string]any{"session_id": s.id})
	}
	fields := map[string]any{"session_id": s.id, "vehicle_id": s.vehicleID, "fix_timestamp": fix.Timestamp}
	if age := now.Sub(fix.Timestamp); age > s.limits.MaxFixAge {
		fields["age"] = age.String()
		return GPSProcessResult{}, Stale(CodeGPSTooOld, "gps fix older than the maximum age", fields)
	}
	if fix.Timestamp.Sub(now) > s.limits.MaxFutureSkew {
		return GPSProcessResult{}, Invalid(CodeGPSInFuture, "gps fix timestamp is in the future", fields)
	}
	if s.lastFixAt != nil && fix.Timestamp.Before(*s.lastFixAt) {
		fields["last_fix_timestamp"] = *s.lastFixAt
		return GPSProcessResult{}, Stale(CodeGPSNonMonotonic, "gps fix precedes the last accepted fix", fields)
	}

	s.counters.Received++
	if fix.AccuracyMeters > s.limits.MaxAccuracyMeters {
		s.counters.Filtered++
		s.touch(now)
		return GPSProcessResult{Filtered: true}, nil
	}

	loc := *fix.Location
	loc.AccuracyMeters = fix.AccuracyMeters
	prev := copyCoordinate(s.currentLocation)
	var delta float64
	if prev != nil {
		delta = DistanceMeters(*prev, loc)
		if delta > 0 {
			s.totalDistance += delta
		}
	}
	if s.startLocation == nil {
		s.startLocation = copyCoordinate(&loc)
	}

	ts := fix.Timestamp
	at := now
	s.currentLocation = &loc
	s.currentSpeed = *fix.Speed
	s.currentBearing = *fix.Bearing
	s.lastFixAt = &ts
	s.lastUpdateAt = &at
	if kmh := fix.Speed.Kmh(); kmh > s.maxSpeedKmh {
		s.maxSpeedKmh = kmh
	}
	s.counters.Valid++
	if fix.AccuracyMeters <= s.limits.HighAccuracyMeters {
		s.counters.HighAccuracy++
	}
	s.accuracyPct = float64(s.counters.HighAccuracy) / float64(s.counters.Valid) * 100

	s.points = append(s.points, TrackingPoint{
		Location:       loc,
		SpeedKmh:       fix.Speed.Kmh(),
		BearingDegrees: fix.Bearing.Degrees(),
		Timestamp:      ts,
	})
	if overflow := len(s.points) - s.limits.MaxPoints; overflow > 0 {
		s.points = append(s.points[:0:0], s.points[overflow:]...)
	}

	s.touch(now)
	s.record(GPSDataReceived{
		eventMeta:        eventMeta{At: now},
		SessionID:        s.id,
		VehicleID:        s.vehicleID,
		Location:         loc,
		PreviousLocation: prev,
		DeltaMeters:      delta,
		SpeedKmh:         fix.Speed.Kmh(),
		FixTimestamp:     ts,
	})
	return GPSProcessResult{Accepted: true, DeltaMeters: delta}, nil
}

// Quality combines the valid/received ratio with the accuracy-acceptance percentage.
func (s *TrackingSession) Quality() SessionQuality {
	if s.counters.Received == 0 {
		return SessionQualityNoData
	}
	validPct := float64(s.counters.Valid) / float64(s.counters.Received) * 100
	score := (validPct + s.accuracyPct) / 2
	switch {
	case score >= 90:
		return SessionQualityExcellent
	case score >= 75:
		return SessionQualityGood
	case score >= 50:
		return SessionQualityFair
	default:
		return SessionQualityPoor
	}
}

// Expired reports whether the session has outlived its duration ceiling.
func (s *TrackingSession) Expired(now time.Time) bool {
	return s.startedAt != nil && now.Sub(*s.startedAt) > s.limits.MaxDuration
}

func (s *TrackingSession) checkDuration(now time.Time) error {
	if s.Expired(now) {
		return BusinessRule(CodeSessionExpired, "tracking session exceeded its maximum duration",
			map[string]any{"session_id": s.id, "started_at": *s.startedAt, "max_duration": s.limits.MaxDuration.String()})
	}
	return nil
}

func (s *TrackingSession) stateError(op string) error {
	return BusinessRule(CodeInvalidSessionState, "cannot "+op+" session in status "+string(s.status),
		map[string]any{"session_id": s.id, "status": s.status})
}

func (s *TrackingSession) Snapshot() TrackingSessionSnapshot {
	return TrackingSessionSnapshot{
		ID:              s.id,
		VehicleID:       s.vehicleID,
		RouteID:         copyRouteID(s.routeID),
		DriverID:        copyDriverID(s.driverID),
		Status:          s.status,
		Limits:          s.limits,
		StartedAt:       copyTime(s.startedAt),
		EndedAt:         copyTime(s.endedAt),
		StartLocation:   copyCoordinate(s.startLocation),
		CurrentLocation: copyCoordinate(s.currentLocation),
		CurrentSpeedKmh: s.currentSpeed.Kmh(),
		CurrentBearing:  s.currentBearing.Degrees(),
		LastFixAt:       copyTime(s.lastFixAt),
		LastUpdateAt:    copyTime(s.lastUpdateAt),
		TotalDistance:   s.totalDistance,
		MaxSpeedKmh:     s.maxSpeedKmh,
		AverageSpeedKmh: s.AverageSpeedKmh(),
		AccuracyPercent: s.accuracyPct,
		Counters:        s.counters,
		Points:          s.Points(),
		Version:         s.Version,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func RestoreTrackingSession(snap TrackingSessionSnapshot) *TrackingSession {
	s := &TrackingSession{
		Aggregate:       Aggregate{Version: snap.Version, CreatedAt: snap.CreatedAt, UpdatedAt: snap.UpdatedAt},
		id:              snap.ID,
		vehicleID:       snap.VehicleID,
		routeID:         copyRouteID(snap.RouteID),
		driverID:        copyDriverID(snap.DriverID),
		status:          snap.Status,
		limits:          snap.Limits.withDefaults(),
		startedAt:       copyTime(snap.StartedAt),
		endedAt:         copyTime(snap.EndedAt),
		startLocation:   copyCoordinate(snap.StartLocation),
		currentLocation: copyCoordinate(snap.CurrentLocation),
		currentSpeed:    Speed{kmh: snap.CurrentSpeedKmh},
		currentBearing:  NewBearing(snap.CurrentBearing),
		lastFixAt:       copyTime(snap.LastFixAt),
		lastUpdateAt:    copyTime(snap.LastUpdateAt),
		totalDistance:   snap.TotalDistance,
		maxSpeedKmh:     snap.MaxSpeedKmh,
		accuracyPct:     snap.AccuracyPercent,
		counters:        snap.Counters,
	}
	if snap.AverageSpeedKmh != nil {
		avg := *snap.AverageSpeedKmh
		s.averageSpeedKmh = &avg
	}
	s.points = make([]TrackingPoint, len(snap.Points))
	copy(s.points, snap.Points)
	return s
}

func copyDriverID(d *DriverID) *DriverID {
	if d == nil {
		return nil
	}
	cp := *d
	return &cp
}
