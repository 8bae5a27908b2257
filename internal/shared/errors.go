package shared

import "errors"

var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated indicates a missing, invalid or revoked token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates a valid identity lacking a required role or permission.
	ErrForbidden = errors.New("forbidden")
	// ErrTooManyRequests indicates the rate limit or login throttle was exceeded.
	ErrTooManyRequests = errors.New("too many requests")
	// ErrProtectedRole indicates an attempt to delete the protected role.
	ErrProtectedRole = errors.New("protected role")
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("duplicate entry")
)
