// Package apperr holds the error kinds shared by the domain packages. Callers
// wrap a kind with fmt.Errorf("%w: ...") and the transport layer maps kinds to
// status codes with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation error")
	// ErrConflict is a validation error about uniqueness or current state.
	ErrConflict         = fmt.Errorf("%w: conflict", ErrValidation)
	ErrExternalService  = errors.New("external service error")
	ErrSignatureInvalid = errors.New("signature invalid")
)

// Kind returns a short stable name for the kind of err, or "internal" when err
// carries none of the known kinds.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrExternalService):
		return "external_service"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	default:
		return "internal"
	}
}
