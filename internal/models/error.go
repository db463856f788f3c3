package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Lockout state errors
	ErrAccountLocked     = errors.New("account is temporarily locked")
	ErrIPBlocked         = errors.New("ip address is blocked")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Unlock validation errors
	ErrUnlockAdminRequired        = errors.New("admin user id is required for admin unlock")
	ErrUnlockVerificationRequired = errors.New("verification token is required for verification unlock")
	ErrUnlockNotExpired           = errors.New("lockout has not expired yet")
	ErrChallengeConsumed          = errors.New("unlock challenge already used")
)
