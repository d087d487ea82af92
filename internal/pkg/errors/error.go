package xerrors

import "errors"

// Application errors shared across layers
var (
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrRateLimited        = errors.New("too many requests")
	ErrSessionExpired     = errors.New("session expired or invalid")
	ErrDuplicateEntry     = errors.New("duplicate entry")
	ErrRepairFailed       = errors.New("repair procedure reported failure")
)
