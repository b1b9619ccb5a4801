// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps shared domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation),
		errors.Is(err, access.ErrUnknownRole),
		errors.Is(err, access.ErrUnknownFeature),
		errors.Is(err, access.ErrUnknownLevel):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, access.ErrConfiguration):
		Problem(w, http.StatusUnprocessableEntity, "Invalid Grant", err.Error())
	case errors.Is(err, ErrForbidden), errors.Is(err, shared.ErrViewEscalation):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized), errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrStorage):
		Problem(w, http.StatusServiceUnavailable, "Storage Unavailable", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
