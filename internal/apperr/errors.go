// Package apperr defines the error taxonomy shared by the REST gateway and
// the realtime core.
//
// Every layer wraps one of these sentinels with fmt.Errorf("...: %w", ...)
// and the HTTP edge translates them with HTTPStatus. The push path never
// translates: it logs and drops.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthenticated: missing, malformed or expired bearer token.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrForbidden: the caller is authenticated but does not own the resource.
	ErrForbidden = errors.New("not authorized")

	// ErrInvalid: input rejected before it reaches the store.
	ErrInvalid = errors.New("invalid input")

	// ErrNotFound: the referenced record does not exist (or vanished).
	ErrNotFound = errors.New("not found")

	// ErrConflict: a unique key (username, email) is already taken.
	ErrConflict = errors.New("already exists")

	// ErrUnavailable: the backing store could not serve the request.
	ErrUnavailable = errors.New("store unavailable")
)

// HTTPStatus maps an error to the status code the REST gateway returns.
// Unknown errors are treated as store failures.
//
// ErrConflict maps to 400, not 409: registration reports duplicate
// usernames and emails as a plain bad request.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
