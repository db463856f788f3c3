package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types recorded in the security_events table
const (
	EventTypeFailedLogin        = "failed_login"
	EventTypeSuspiciousActivity = "suspicious_activity"
	EventTypeBruteForceDetected = "brute_force_detected"
	EventTypeManualLock         = "manual_lock"
	EventTypeAccountLocked      = "account_locked"
	EventTypeAccountUnlocked    = "account_unlocked"
	EventTypePasswordReset      = "password_reset_attempt"
)

// LockType classifies the scope of an applied lockout. Stored as an explicit
// column at write time so status checks never re-derive it from prose.
type LockType string

const (
	LockTypeUser   LockType = "user"
	LockTypeIP     LockType = "ip"
	LockTypeGlobal LockType = "global"
	LockTypeAdmin  LockType = "admin"
)

// SecurityEvent is an immutable fact about an authentication-related
// occurrence. Lockout events additionally carry lock_type and locked_until;
// they are never mutated, only superseded with resolved_at set.
type SecurityEvent struct {
	ID          uuid.UUID     `db:"id"`
	UserID      *string       `db:"user_id"`
	IPAddress   string        `db:"ip_address"`
	UserAgent   *string       `db:"user_agent"`
	EventType   string        `db:"event_type"`
	Reason      *string       `db:"reason"`
	LockType    *LockType     `db:"lock_type"`
	LockedUntil *time.Time    `db:"locked_until"`
	RiskScore   int           `db:"risk_score"`
	Metadata    EventMetadata `db:"metadata"`
	ResolvedAt  *time.Time    `db:"resolved_at"`
	CreatedAt   time.Time     `db:"created_at"`
}

// AttemptCounts aggregates recent failed-login activity for one check.
type AttemptCounts struct {
	ByUser int
	ByIP   int
}

// Max returns the higher of the two counts.
func (c AttemptCounts) Max() int {
	if c.ByIP > c.ByUser {
		return c.ByIP
	}
	return c.ByUser
}

// EventMetadata holds additional context for security events
type EventMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (em *EventMetadata) Scan(value interface{}) error {
	if value == nil {
		*em = make(EventMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*em = EventMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (em EventMetadata) Value() (driver.Value, error) {
	if em == nil {
		return nil, nil
	}
	return json.Marshal(em)
}

// MarshalJSON implements json.Marshaler
func (em EventMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(em))
}

// UnmarshalJSON implements json.Unmarshaler
func (em *EventMetadata) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*em = EventMetadata(m)
	return nil
}
