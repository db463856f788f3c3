package models

import "time"

// Role identifies which lockout policy applies to an account.
type Role string

const (
	RoleUser          Role = "user"
	RoleBusinessOwner Role = "business_owner"
	RoleAdmin         Role = "admin"
)

// LockoutPolicy is the immutable, role-keyed threshold configuration.
// Intended ordering: MaxFailedAttempts <= MaxAttemptsPerIP <= MaxGlobalAttempts.
// The constructor logs a warning when a policy violates it but does not fail.
type LockoutPolicy struct {
	Role               Role
	MaxFailedAttempts  int
	MaxAttemptsPerIP   int
	MaxGlobalAttempts  int
	AttemptWindow      time.Duration
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	BackoffFactor      float64
	ProgressiveDelay   bool
	AutoUnlockAfter    time.Duration
	RequireAdminUnlock bool
}

// LockoutStatus is the derived view returned by a status check. It is
// recomputed from stored events on every call and never persisted itself.
type LockoutStatus struct {
	IsLocked                  bool
	LockType                  LockType
	LockedUntil               *time.Time
	Reason                    string
	AttemptCount              int
	MaxAttempts               int
	SuggestedDelay            time.Duration
	RequiresAdminIntervention bool
	OpenIncidents24h          int
}

// UnlockMethod enumerates the supported unlock paths.
type UnlockMethod string

const (
	UnlockMethodAutomatic    UnlockMethod = "automatic"
	UnlockMethodAdmin        UnlockMethod = "admin"
	UnlockMethodTimeBased    UnlockMethod = "time_based"
	UnlockMethodVerification UnlockMethod = "verification"
)

// UnlockRequest is a transient input validated by the unlocker. It is never
// stored; a successful unlock resolves the matching lockout events.
type UnlockRequest struct {
	UserID            *string
	IPAddress         *string
	Method            UnlockMethod
	AdminUserID       *string
	VerificationToken *string
	Reason            *string
}

// UnlockResult reports the outcome of an unlock attempt. Expected validation
// failures are returned here, never as errors.
type UnlockResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
