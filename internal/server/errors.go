package server

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomInactive       = errors.New("room inactive")
	ErrTargetNotFound     = errors.New("target not found")
	ErrPersistenceFailed  = errors.New("persistence failed")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// StatusCode maps an error returned by the meeting server to the HTTP status
// code used both for websocket responses and the HTTP API.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRoomInactive):
		return http.StatusGone
	case errors.Is(err, ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicError returns the message safe to show to a client. Wrapped store
// errors are never exposed.
func PublicError(err error) string {
	for _, known := range []error{
		ErrUnauthenticated,
		ErrUnauthorized,
		ErrRoomNotFound,
		ErrRoomInactive,
		ErrTargetNotFound,
		ErrPersistenceFailed,
		ErrInvalidPayload,
		ErrServiceUnavailable,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal server error"
}
