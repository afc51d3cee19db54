package grpcapi

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"transit-tracker/internal/domain"
)

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return codes.Unauthenticated
	case errors.Is(err, domain.ErrForbidden):
		return codes.PermissionDenied
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrConflict):
		return codes.Aborted
	case errors.Is(err, domain.ErrInvalid):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrPrecondition), errors.Is(err, domain.ErrStale):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrProvider):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// toStatus keeps the stable domain code as the message prefix so clients can branch on it.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codeFor(err)
	var de *domain.Error
	if errors.As(err, &de) {
		return status.Error(code, de.Code+": "+de.Message)
	}
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}
