package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalid      = errors.New("invalid")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrPrecondition = errors.New("precondition failed")
	ErrStale        = errors.New("stale or out of order")
	ErrProvider     = errors.New("provider failure")
)

// Stable error codes surfaced to callers.
const (
	CodeInvalidCoordinate     = "INVALID_COORDINATE"
	CodeInvalidSpeed          = "INVALID_SPEED"
	CodeInvalidIdentifier     = "INVALID_IDENTIFIER"
	CodeMissingLocationInput  = "MISSING_LOCATION_INPUT"
	CodeMissingField          = "MISSING_FIELD"
	CodeVehicleNotTrackable   = "VEHICLE_NOT_TRACKABLE"
	CodeInvalidTransition     = "INVALID_STATUS_TRANSITION"
	CodeVehicleNotAssignable  = "VEHICLE_NOT_ASSIGNABLE"
	CodeRouteConflict         = "ROUTE_ASSIGNMENT_CONFLICT"
	CodeVehicleNotFound       = "VEHICLE_NOT_FOUND"
	CodeSessionNotFound       = "SESSION_NOT_FOUND"
	CodeSessionActive         = "SESSION_ALREADY_ACTIVE"
	CodeInvalidSessionState   = "INVALID_SESSION_STATE"
	CodeSessionExpired        = "SESSION_DURATION_EXCEEDED"
	CodeGPSTooOld             = "GPS_FIX_TOO_OLD"
	CodeGPSInFuture           = "GPS_FIX_IN_FUTURE"
	CodeGPSNonMonotonic       = "GPS_FIX_NON_MONOTONIC"
	CodeVersionConflict       = "VERSION_CONFLICT"
	CodeProviderUnavailable   = "PROVIDER_UNAVAILABLE"
	CodeProviderTimeout       = "PROVIDER_TIMEOUT"
	CodeProviderTransport     = "PROVIDER_TRANSPORT"
	CodeNoProviders           = "NO_PROVIDERS"
	CodeLicensePlateDuplicate = "LICENSE_PLATE_DUPLICATE"
)

// Error is a typed domain failure. Kind is one of the sentinel errors above so callers can
// branch with errors.Is while still reading the stable Code and offending Fields.
type Error struct {
	Kind    error
	Code    string
	Message string
	Fields  map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, code, message string, fields map[string]any) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Fields: fields}
}

func Invalid(code, message string, fields map[string]any) *Error {
	return newError(ErrInvalid, code, message, fields)
}

func BusinessRule(code, message string, fields map[string]any) *Error {
	return newError(ErrPrecondition, code, message, fields)
}

func NotFound(code, message string, fields map[string]any) *Error {
	return newError(ErrNotFound, code, message, fields)
}

func Stale(code, message string, fields map[string]any) *Error {
	return newError(ErrStale, code, message, fields)
}

func Conflict(code, message string, fields map[string]any) *Error {
	return newError(ErrConflict, code, message, fields)
}

func ProviderFailure(code, message string, fields map[string]any) *Error {
	return newError(ErrProvider, code, message, fields)
}

// CodeOf returns the stable code carried by err, or "" when err is not a *Error.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// FieldsOf returns the context fields carried by err, if any.
func FieldsOf(err error) map[string]any {
	var de *Error
	if errors.As(err, &de) {
		return de.Fields
	}
	return nil
}
