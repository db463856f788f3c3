package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marinahub/sentinel/internal/metrics"
	"github.com/marinahub/sentinel/internal/models"
)

// DetectorStore defines the queries the pattern scans run
type DetectorStore interface {
	RecordEvent(ctx context.Context, event *models.SecurityEvent) error
	CountDistinctIPsForUser(ctx context.Context, userID string, since time.Time) (int, error)
	CountFailedLoginsByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
	CountResetAttemptsAgainstUnknownUsers(ctx context.Context, ipAddress string, since time.Time) (int, error)
	RecentFailedLoginUsers(ctx context.Context, since time.Time) ([]string, error)
	RecentAttackerIPs(ctx context.Context, since time.Time) ([]string, error)
}

// AlertSink receives escalated alerts (webhook forwarder). Delivery is
// best-effort; failures never propagate to the scan that raised the alert.
type AlertSink interface {
	Forward(ctx context.Context, alert models.SecurityAlert) error
}

// Detection thresholds and windows. All comparisons are strict (>).
const (
	multiIPWindow    = time.Hour
	multiIPThreshold = 5

	highFrequencyWindow    = 10 * time.Minute
	highFrequencyThreshold = 10

	enumerationWindow    = time.Hour
	enumerationThreshold = 5
)

// DetectorService scans recent security events for attack patterns
type DetectorService struct {
	store     DetectorStore
	incidents IncidentStore
	sink      AlertSink
	logger    *slog.Logger
}

// NewDetectorService creates a new DetectorService
func NewDetectorService(store DetectorStore, incidents IncidentStore, sink AlertSink, logger *slog.Logger) *DetectorService {
	return &DetectorService{
		store:     store,
		incidents: incidents,
		sink:      sink,
		logger:    logger,
	}
}

// Sweep enumerates every account and address with failed activity inside the
// detection windows and runs all patterns over them. The session monitor
// invokes it on the security scan cadence, so an attack is flagged even when
// no status check ever touches the targeted account.
func (s *DetectorService) Sweep(ctx context.Context) models.SweepResult {
	var result models.SweepResult

	users, err := s.store.RecentFailedLoginUsers(ctx, time.Now().Add(-multiIPWindow))
	if err != nil {
		s.logger.Error("failed-login user enumeration query failed", slog.Any("error", err))
		result.Errors++
	}
	for _, userID := range users {
		result.Processed++
		s.ScanUser(ctx, userID)
	}

	ips, err := s.store.RecentAttackerIPs(ctx, time.Now().Add(-enumerationWindow))
	if err != nil {
		s.logger.Error("attacker ip enumeration query failed", slog.Any("error", err))
		result.Errors++
	}
	for _, ip := range ips {
		result.Processed++
		s.ScanIP(ctx, ip)
	}

	return result
}

// ScanUser runs the user-scoped patterns for one account
func (s *DetectorService) ScanUser(ctx context.Context, userID string) []models.SecurityAlert {
	var alerts []models.SecurityAlert

	if alert := s.detectMultiIPAttack(ctx, userID); alert != nil {
		alerts = append(alerts, *alert)
	}

	s.raise(ctx, alerts)
	return alerts
}

// ScanIP runs the IP-scoped patterns for one address
func (s *DetectorService) ScanIP(ctx context.Context, ipAddress string) []models.SecurityAlert {
	var alerts []models.SecurityAlert

	if alert := s.detectHighFrequencyAttack(ctx, ipAddress); alert != nil {
		alerts = append(alerts, *alert)
	}
	if alert := s.detectUserEnumeration(ctx, ipAddress); alert != nil {
		alerts = append(alerts, *alert)
	}

	s.raise(ctx, alerts)
	return alerts
}

// detectMultiIPAttack flags a user whose failed logins came from more than
// five distinct IPs inside the last hour
func (s *DetectorService) detectMultiIPAttack(ctx context.Context, userID string) *models.SecurityAlert {
	since := time.Now().Add(-multiIPWindow)
	distinct, err := s.store.CountDistinctIPsForUser(ctx, userID, since)
	if err != nil {
		s.logger.Error("multi-ip scan query failed", slog.Any("error", err))
		return nil
	}
	if distinct <= multiIPThreshold {
		return nil
	}

	return &models.SecurityAlert{
		Severity:        models.SeverityHigh,
		AlertType:       models.IncidentTypeMultipleIPAttack,
		Description:     fmt.Sprintf("failed logins for one account from %d distinct ip addresses within an hour", distinct),
		AffectedUserIDs: []string{userID},
		Evidence: models.EventMetadata{
			"distinct_ips": distinct,
			"window":       multiIPWindow.String(),
		},
		Timestamp: time.Now(),
	}
}

// detectHighFrequencyAttack flags an IP with more than ten failed logins in
// the last ten minutes
func (s *DetectorService) detectHighFrequencyAttack(ctx context.Context, ipAddress string) *models.SecurityAlert {
	since := time.Now().Add(-highFrequencyWindow)
	count, err := s.store.CountFailedLoginsByIP(ctx, ipAddress, since)
	if err != nil {
		s.logger.Error("high-frequency scan query failed", slog.Any("error", err))
		return nil
	}
	if count <= highFrequencyThreshold {
		return nil
	}

	return &models.SecurityAlert{
		Severity:    models.SeverityHigh,
		AlertType:   models.IncidentTypeHighFrequency,
		Description: fmt.Sprintf("%d failed logins from one ip address within ten minutes", count),
		IPAddress:   &ipAddress,
		Evidence: models.EventMetadata{
			"failed_logins": count,
			"window":        highFrequencyWindow.String(),
		},
		Timestamp: time.Now(),
	}
}

// detectUserEnumeration flags an IP probing password resets against accounts
// that do not exist
func (s *DetectorService) detectUserEnumeration(ctx context.Context, ipAddress string) *models.SecurityAlert {
	since := time.Now().Add(-enumerationWindow)
	count, err := s.store.CountResetAttemptsAgainstUnknownUsers(ctx, ipAddress, since)
	if err != nil {
		s.logger.Error("enumeration scan query failed", slog.Any("error", err))
		return nil
	}
	if count <= enumerationThreshold {
		return nil
	}

	return &models.SecurityAlert{
		Severity:    models.SeverityMedium,
		AlertType:   models.IncidentTypeUserEnumeration,
		Description: fmt.Sprintf("%d password-reset attempts against unknown accounts from one ip address within an hour", count),
		IPAddress:   &ipAddress,
		Evidence: models.EventMetadata{
			"reset_attempts": count,
			"window":         enumerationWindow.String(),
		},
		Timestamp: time.Now(),
	}
}

// Raise persists an alert batch and forwards escalated ones to the webhook
func (s *DetectorService) Raise(ctx context.Context, alerts []models.SecurityAlert) {
	s.raise(ctx, alerts)
}

func (s *DetectorService) raise(ctx context.Context, alerts []models.SecurityAlert) {
	for _, alert := range alerts {
		metrics.AlertsRaised.WithLabelValues(alert.AlertType, alert.Severity).Inc()

		reason := alert.Description
		event := &models.SecurityEvent{
			IPAddress: derefOr(alert.IPAddress, ""),
			EventType: alertEventType(alert),
			Reason:    &reason,
			Metadata:  alert.Evidence,
		}
		if len(alert.AffectedUserIDs) > 0 {
			event.UserID = &alert.AffectedUserIDs[0]
		}
		if err := s.store.RecordEvent(ctx, event); err != nil {
			s.logger.Error("failed to persist alert event", slog.Any("error", err))
		}

		incident := &models.SecurityIncident{
			Severity:     alert.Severity,
			IncidentType: alert.AlertType,
			IPAddress:    alert.IPAddress,
			Description:  alert.Description,
			Evidence:     alert.Evidence,
		}
		if len(alert.AffectedUserIDs) > 0 {
			incident.UserID = &alert.AffectedUserIDs[0]
		}
		if _, err := s.incidents.Create(ctx, incident); err != nil {
			s.logger.Error("failed to file alert incident", slog.Any("error", err))
		}

		if alert.Escalated() && s.sink != nil {
			if err := s.sink.Forward(ctx, alert); err != nil {
				s.logger.Error("alert webhook delivery failed",
					slog.String("alert_type", alert.AlertType), slog.Any("error", err))
			}
		}
	}
}

// alertEventType maps credential-attack patterns to brute_force_detected;
// everything else lands as generic suspicious activity.
func alertEventType(alert models.SecurityAlert) string {
	switch alert.AlertType {
	case models.IncidentTypeMultipleIPAttack, models.IncidentTypeHighFrequency:
		return models.EventTypeBruteForceDetected
	default:
		return models.EventTypeSuspiciousActivity
	}
}
