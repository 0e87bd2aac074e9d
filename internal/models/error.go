package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountDisabled = errors.New("account is disabled")

	// Defense decisions
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrAccountLockedBySystem = errors.New("too many failed login attempts")
	ErrReplayDetected        = errors.New("duplicate request detected")
	ErrInvalidSignature      = errors.New("signature verification failed")
	ErrIPBlocked             = errors.New("ip address is blocked")

	// Classification errors
	ErrInvalidEventType = errors.New("invalid security event type")
	ErrInvalidSeverity  = errors.New("invalid security event severity")
	ErrInvalidIP        = errors.New("invalid ip address")
	ErrAlreadyResolved  = errors.New("security event already resolved")
)
