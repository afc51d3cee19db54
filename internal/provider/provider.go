// Package provider adapts external GPS feeds into a uniform stream of raw fixes.
package provider

import (
	"context"
	"sync"
	"time"
)

// RawFix is one reading as reported by a provider, before any validation.
// SpeedMS and Bearing are optional on the wire.
type RawFix struct {
	VehicleIdentifier string
	Lat               float64
	Lng               float64
	Accuracy          float64
	SpeedMS           *float64
	Bearing           *float64
	Timestamp         time.Time
	Metadata          map[string]string
	Provider          string
}

type HealthStatus struct {
	Healthy      bool          `json:"healthy"`
	ResponseTime time.Duration `json:"response_time_ns"`
	SuccessCount int64         `json:"success_count"`
	FailureCount int64         `json:"failure_count"`
	LastCheck    time.Time     `json:"last_check"`
	LastError    string        `json:"last_error,omitempty"`
}

// Provider is a source of raw fixes.
//
// Stream returns a fix channel that is closed when the pull ends and an error channel
// that carries at most one error and is closed after the fix channel.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	Health() HealthStatus
	Stream(ctx context.Context) (<-chan RawFix, <-chan error)
}

type healthTracker struct {
	mu     sync.Mutex
	status HealthStatus
}

func (h *healthTracker) success(elapsed time.Duration, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status.Healthy = true
	h.status.ResponseTime = elapsed
	h.status.SuccessCount++
	h.status.LastCheck = at
	h.status.LastError = ""
}

func (h *healthTracker) failure(elapsed time.Duration, at time.Time, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status.Healthy = false
	h.status.ResponseTime = elapsed
	h.status.FailureCount++
	h.status.LastCheck = at
	h.status.LastError = err.Error()
}

func (h *healthTracker) snapshot() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Drain reads a stream to completion. It is meant for tests and one-shot tools.
func Drain(fixes <-chan RawFix, errs <-chan error) ([]RawFix, error) {
	var out []RawFix
	for f := range fixes {
		out = append(out, f)
	}
	return out, <-errs
}
