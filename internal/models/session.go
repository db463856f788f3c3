package models

import (
	"time"

	"github.com/google/uuid"
)

// Session revocation reasons written by the monitoring sweeps.
const (
	RevokeReasonExpired          = "expired"
	RevokeReasonInactive         = "inactive"
	RevokeReasonConcurrentAbuse  = "concurrent_session_abuse"
	RevokeReasonSecurityIncident = "security_incident"
)

// UserSession is one authenticated session row. Location fields are optional;
// the geographic anomaly scan only considers sessions that carry them.
type UserSession struct {
	ID           uuid.UUID  `db:"id"`
	UserID       string     `db:"user_id"`
	IPAddress    string     `db:"ip_address"`
	UserAgent    string     `db:"user_agent"`
	Country      *string    `db:"country"`
	Latitude     *float64   `db:"latitude"`
	Longitude    *float64   `db:"longitude"`
	IsActive     bool       `db:"is_active"`
	RevokeReason *string    `db:"revoke_reason"`
	CreatedAt    time.Time  `db:"created_at"`
	LastSeenAt   time.Time  `db:"last_seen_at"`
	ExpiresAt    time.Time  `db:"expires_at"`
	RevokedAt    *time.Time `db:"revoked_at"`
}

// HasLocation reports whether the session carries usable coordinates.
func (s *UserSession) HasLocation() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// SweepResult reports one cleanup sweep. Errors inside a sweep are counted,
// not propagated; the scheduler keeps firing regardless.
type SweepResult struct {
	Processed int
	Revoked   int
	Errors    int
}

// SessionAnalytics aggregates currently active sessions.
type SessionAnalytics struct {
	ActiveSessions int          `json:"active_sessions"`
	ByCountry      []GroupCount `json:"by_country"`
	ByDeviceFamily []GroupCount `json:"by_device_family"`
}

// GroupCount is one bucket of an analytics aggregation, sorted by count
// descending.
type GroupCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// IPSessionCount is the number of active sessions sharing one IP address.
type IPSessionCount struct {
	IPAddress string `db:"ip_address"`
	Count     int    `db:"count"`
}

// UserSessionCount is the number of active sessions held by one user.
type UserSessionCount struct {
	UserID string `db:"user_id"`
	Count  int    `db:"count"`
}
