package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrBadRequest signals a query the KG API refused as malformed.
	ErrBadRequest = errors.New("bad request")
	// ErrUnauthorized signals a missing, expired or insufficient identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable signals a transient service or network failure.
	ErrUnavailable = errors.New("service unavailable")
	// ErrMalformed signals a payload that could not be decoded.
	ErrMalformed = errors.New("malformed payload")

	// ErrIllegalTransition signals an auth operation called out of sequence.
	ErrIllegalTransition = errors.New("illegal auth transition")
	// ErrLoginNotConfigured signals an absent login provider configuration.
	ErrLoginNotConfigured = errors.New("login provider is not configured")
	// ErrTokenExpired signals a session whose token could not be refreshed.
	ErrTokenExpired = errors.New("token expired")
	// ErrSessionNotFound signals an unknown or evicted browser session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidArgument signals an invalid API argument.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Kind is the error taxonomy surfaced to the view layer.
type Kind string

const (
	// KindNone means no error.
	KindNone Kind = ""
	// KindBadRequest asks the user to refine the query. Never retried automatically.
	KindBadRequest Kind = "bad_request"
	// KindUnauthorized asks the user to log in again.
	KindUnauthorized Kind = "unauthorized"
	// KindNotFound reports a missing instance.
	KindNotFound Kind = "not_found"
	// KindUnavailable offers a retry.
	KindUnavailable Kind = "unavailable"
	// KindNoData means the payload was unreadable and is shown as "no data".
	KindNoData Kind = "no_data"
)

// Classify maps an error chain onto the taxonomy.
// Unknown errors are treated as transient.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrTokenExpired):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrMalformed):
		return KindNoData
	default:
		return KindUnavailable
	}
}

// StatusError carries the HTTP status returned by the KG API.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Err.Error(), e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

// NewStatusError classifies an HTTP status into a sentinel-wrapping error.
func NewStatusError(status int) error {
	var sentinel error
	switch {
	case status == 400:
		sentinel = ErrBadRequest
	case status == 401, status == 403, status == 511:
		sentinel = ErrUnauthorized
	case status == 404:
		sentinel = ErrNotFound
	default:
		sentinel = ErrUnavailable
	}
	return &StatusError{Status: status, Err: sentinel}
}
