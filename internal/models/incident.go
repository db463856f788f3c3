package models

import (
	"time"

	"github.com/google/uuid"
)

// Incident severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Incident types
const (
	IncidentTypeAccountLockout     = "account_lockout"
	IncidentTypeMultipleIPAttack   = "multiple_ip_attack"
	IncidentTypeHighFrequency      = "high_frequency_attack"
	IncidentTypeUserEnumeration    = "user_enumeration"
	IncidentTypeConcurrentSessions = "concurrent_session_abuse"
	IncidentTypeGeographicAnomaly  = "geographic_anomaly"
)

// SecurityIncident is a persisted, human-reviewable escalation. It is created
// by the lockout applier or the detectors, later annotated by a reviewer, and
// never deleted.
type SecurityIncident struct {
	ID             uuid.UUID     `db:"id"`
	Severity       string        `db:"severity"`
	IncidentType   string        `db:"incident_type"`
	UserID         *string       `db:"user_id"`
	IPAddress      *string       `db:"ip_address"`
	Description    string        `db:"description"`
	Evidence       EventMetadata `db:"evidence"`
	AdminNotified  bool          `db:"admin_notified"`
	ResolvedBy     *string       `db:"resolved_by"`
	ResolutionNote *string       `db:"resolution_note"`
	ResolvedAt     *time.Time    `db:"resolved_at"`
	CreatedAt      time.Time     `db:"created_at"`
}

// SecurityAlert is the in-memory product of a detector scan, persisted as a
// suspicious_activity event plus an incident, and forwarded to the alert
// webhook when severity is high or critical.
type SecurityAlert struct {
	Severity        string        `json:"severity"`
	AlertType       string        `json:"alert_type"`
	Description     string        `json:"description"`
	AffectedUserIDs []string      `json:"affected_user_ids,omitempty"`
	IPAddress       *string       `json:"ip_address,omitempty"`
	Evidence        EventMetadata `json:"evidence"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Escalated reports whether the alert should be forwarded to the webhook.
func (a SecurityAlert) Escalated() bool {
	return a.Severity == SeverityHigh || a.Severity == SeverityCritical
}
