package services

import "errors"

var (
	// ErrNotAuthenticated is returned when no usable session exists, including
	// before the session manager has finished loading durable storage.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInvalidTokenBundle is returned by SaveExternalSession for incomplete,
	// malformed or expired tokens.
	ErrInvalidTokenBundle = errors.New("invalid token bundle")

	// ErrValidation marks input the user must correct locally.
	ErrValidation = errors.New("validation error")
)
