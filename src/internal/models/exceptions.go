package models

import "errors"

var (
	ErrInvalidAssertion  = errors.New("invalid assertion")
	ErrSecurityViolation = errors.New("security violation")
	ErrSessionExpired    = errors.New("session expired")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
)

var (
	ErrStoreUnavailable = errors.New("session store unavailable")
	ErrSessionNotFound  = errors.New("session not found")
	ErrConflict         = errors.New("session write conflict")
	ErrSessionCreating  = errors.New("error creating session")
	ErrInvalidExtension = errors.New("invalid session extension")
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserInactive  = errors.New("user inactive")
	ErrDatabaseQuery = errors.New("database query error")
	ErrInvalidParams = errors.New("invalid parameters")
)
