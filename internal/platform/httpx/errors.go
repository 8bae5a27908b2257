package httpx

import (
	"errors"
	"net/http"

	"github.com/gatekeep-api/gatekeep/internal/shared"
)

// RespondError maps domain errors to envelope responses. Internal errors are
// never leaked in the message field.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidCredentials):
		Fail(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, shared.ErrUnauthenticated):
		Fail(w, http.StatusUnauthorized, "Unauthenticated.")
	case errors.Is(err, shared.ErrProtectedRole):
		Fail(w, http.StatusForbidden, "Cannot delete super-admin role")
	case errors.Is(err, shared.ErrForbidden):
		Fail(w, http.StatusForbidden, "Forbidden. You do not have the required permission.")
	case errors.Is(err, shared.ErrNotFound):
		Fail(w, http.StatusNotFound, "Resource not found")
	case errors.Is(err, shared.ErrDuplicate):
		Fail(w, http.StatusUnprocessableEntity, "Duplicate entry")
	case errors.Is(err, shared.ErrTooManyRequests):
		Fail(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
	default:
		Fail(w, http.StatusInternalServerError, "Internal server error")
	}
}
