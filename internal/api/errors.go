package api

import (
	"net/http"

	"codeberg.org/mutker/sensordash/internal/errors"
	"codeberg.org/mutker/sensordash/internal/session"
)

const (
	ErrBadRequest = errors.ErrorCode("api_bad_request")
	ErrServe      = errors.ErrorCode("api_serve_failed")
)

// httpStatus maps an error code onto a response status.
func httpStatus(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrInvalidConfig, errors.ErrInvalidMode, errors.ErrInvalidArgument,
		ErrBadRequest, session.ErrNoTransport:
		return http.StatusBadRequest
	case errors.ErrInvalidOperation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
