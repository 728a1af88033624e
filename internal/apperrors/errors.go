// Package apperrors holds the error taxonomy shared by the gate, the profile
// resolver and the tenant-scoped data layer. Callers match with errors.Is.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated means no or an invalid session on a protected route
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNoTenantBinding means an authenticated user without an active profile or tenant
	ErrNoTenantBinding = errors.New("no active tenant binding")
	// ErrIntegrityViolation is fatal: more than one active profile, or a
	// profile pointing at a tenant that does not exist
	ErrIntegrityViolation = errors.New("data integrity violation")
	// ErrUpstreamUnavailable means the session provider or the store failed
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrScopeViolation means a write targeted a record outside the bound tenant
	ErrScopeViolation = errors.New("record outside tenant scope")

	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidInput    = errors.New("invalid input")
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrTenantSuspended = errors.New("tenant access suspended")
	// ErrForbidden means the caller's role may not perform the operation
	ErrForbidden = errors.New("forbidden")
)

// Upstream tags err as an infrastructure failure of op
func Upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, op, err)
}

// Integrity tags a data-integrity fault with detail for the operator log
func Integrity(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIntegrityViolation, fmt.Sprintf(format, args...))
}

// Invalid tags a client input problem
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsFault reports whether err is one of the failures that must surface to
// the operator rather than be turned into a redirect or a not-found.
func IsFault(err error) bool {
	return errors.Is(err, ErrIntegrityViolation) || errors.Is(err, ErrUpstreamUnavailable)
}

// HTTPStatus maps an error to the status returned to the client
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNoTenantBinding), errors.Is(err, ErrTenantSuspended), errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrScopeViolation), errors.Is(err, ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ClientMessage is the body shown to the client. Faults never leak detail.
func ClientMessage(err error) string {
	switch HTTPStatus(err) {
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "Not Found"
	case http.StatusConflict:
		return "Conflict"
	case http.StatusServiceUnavailable:
		return "Service Unavailable"
	default:
		return "Internal Server Error"
	}
}
