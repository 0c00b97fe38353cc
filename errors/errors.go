package errors

import (
	"errors"
	"fmt"
)

var (
	// Core taxonomy. Every failure surfaced on the wire wraps one of these.
	ErrNotFound              = fmt.Errorf("not found")
	ErrUnauthorized          = fmt.Errorf("unauthorized")
	ErrValidationFailed      = fmt.Errorf("validation failed")
	ErrDependencyUnavailable = fmt.Errorf("dependency unavailable")

	// Auth collaborator.
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidPassword    = fmt.Errorf("invalid password")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")

	// Supervision.
	ErrWorkerPanic = fmt.Errorf("worker panic")
)

// Reply is the structured failure shape sent back through a correlation handle.
type Reply struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// MapToReply converts an internal error into the wire failure payload.
// Sentinels keep their message; anything unexpected is masked so internals
// never leak to clients.
func MapToReply(err error) Reply {
	switch {
	case err == nil:
		return Reply{OK: true}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrValidationFailed),
		errors.Is(err, ErrUserAlreadyExists),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidPassword):
		return Reply{OK: false, Message: err.Error()}
	default:
		return Reply{OK: false, Message: "internal error"}
	}
}
