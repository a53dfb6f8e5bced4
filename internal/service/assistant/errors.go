package assistant

import "errors"

var (
	// ErrInvalidInput marks a request missing a required field.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSessionNotFound is returned for unknown sessions and for sessions
	// owned by another user.
	ErrSessionNotFound = errors.New("session not found")
)
