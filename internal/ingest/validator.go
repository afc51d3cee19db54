package ingest

import (
	"math"
	"strings"
	"time"

	"transit-tracker/internal/domain"
	"transit-tracker/internal/provider"
)

// nullIslandDegrees is the box around (0,0) treated as an uninitialized receiver.
const nullIslandDegrees = 0.1

type FilterConfig struct {
	MaxAccuracyMeters float64
	MaxSpeedKmh       float64
	RejectNullIsland  bool
	MaxGPSAge         time.Duration
	Cooldown          time.Duration
}

// Rejection names the reason a fix was dropped. The zero value means accepted.
type Rejection string

const (
	Accepted            Rejection = ""
	RejectIdentifier    Rejection = "missing_identifier"
	RejectCoordinate    Rejection = "invalid_coordinate"
	RejectAccuracy      Rejection = "accuracy"
	RejectSpeed         Rejection = "speed"
	RejectNullIsland    Rejection = "null_island"
	RejectStale         Rejection = "stale"
	RejectCooldown      Rejection = "cooldown"
	RejectGateFailure   Rejection = "gate_error"
	RejectTimestampZero Rejection = "missing_timestamp"
)

// Validator runs the stateless plausibility checks.
type Validator struct {
	cfg FilterConfig
}

func NewValidator(cfg FilterConfig) Validator {
	return Validator{cfg: cfg}
}

func (v Validator) Check(fix provider.RawFix, now time.Time) Rejection {
	if strings.TrimSpace(fix.VehicleIdentifier) == "" {
		return RejectIdentifier
	}
	if _, err := domain.NewCoordinate(fix.Lat, fix.Lng, fix.Accuracy); err != nil {
		return RejectCoordinate
	}
	if v.cfg.MaxAccuracyMeters > 0 && fix.Accuracy > v.cfg.MaxAccuracyMeters {
		return RejectAccuracy
	}
	if fix.SpeedMS != nil {
		kmh := domain.MetersPerSecondToKmh(*fix.SpeedMS)
		if math.IsNaN(kmh) || kmh < 0 || (v.cfg.MaxSpeedKmh > 0 && kmh > v.cfg.MaxSpeedKmh) {
			return RejectSpeed
		}
	}
	if v.cfg.RejectNullIsland && math.Abs(fix.Lat) < nullIslandDegrees && math.Abs(fix.Lng) < nullIslandDegrees {
		return RejectNullIsland
	}
	if fix.Timestamp.IsZero() {
		return RejectTimestampZero
	}
	if v.cfg.MaxGPSAge > 0 && now.Sub(fix.Timestamp) > v.cfg.MaxGPSAge {
		return RejectStale
	}
	return Accepted
}
