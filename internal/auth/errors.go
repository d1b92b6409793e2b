package auth

import "errors"

// Sentinel errors returned by the password and token services.  Services
// higher up wrap them with oops codes; callers match them with errors.Is.
var (
	// ErrEmptyPassword is returned when attempting to hash an empty password.
	ErrEmptyPassword = errors.New("password cannot be empty")

	// ErrEmptySecret is returned when a TokenService is built without a signing secret.
	ErrEmptySecret = errors.New("token signing secret cannot be empty")

	// ErrInvalidTTL is returned when a token would expire at or before its issue time.
	ErrInvalidTTL = errors.New("token ttl must be at least one second")

	// ErrMissingUserID is returned when signing claims without a user id.
	ErrMissingUserID = errors.New("token claims need a user id")

	// ErrInvalidRole is returned when signing claims whose role is outside dm/player/observer.
	ErrInvalidRole = errors.New("role must be dm, player or observer")
)
