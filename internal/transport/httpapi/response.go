package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"transit-tracker/internal/domain"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.Invalid("INVALID_BODY", "request body is not valid JSON", nil)
	}
	return nil
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrPrecondition), errors.Is(err, domain.ErrStale):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	resp := errorResponse{Code: "internal", Message: "internal error"}

	var de *domain.Error
	switch {
	case errors.As(err, &de):
		resp = errorResponse{Code: de.Code, Message: de.Message, Fields: de.Fields}
	case errors.Is(err, domain.ErrUnauthorized):
		resp = errorResponse{Code: "unauthorized", Message: "unauthorized"}
	case errors.Is(err, domain.ErrForbidden):
		resp = errorResponse{Code: "forbidden", Message: "forbidden"}
	}
	respondJSON(w, status, resp)
}
