package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/marinahub/sentinel/internal/metrics"
	"github.com/marinahub/sentinel/internal/models"
	"github.com/marinahub/sentinel/pkg/geo"
)

// SessionStore defines the session persistence operations
type SessionStore interface {
	RevokeExpired(ctx context.Context, now time.Time) (int64, error)
	RevokeInactive(ctx context.Context, idleSince time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error)
	CountActiveByIP(ctx context.Context, threshold int) ([]models.IPSessionCount, error)
	CountActiveByUser(ctx context.Context, threshold int) ([]models.UserSessionCount, error)
	RecentWithLocation(ctx context.Context, since time.Time) ([]*models.UserSession, error)
	ListActive(ctx context.Context) ([]*models.UserSession, error)
}

// SystemEventStore records one row per cleanup sweep
type SystemEventStore interface {
	RecordSystemEvent(ctx context.Context, eventType string, details models.EventMetadata) error
}

// Geographic anomaly parameters: a jump longer than the distance threshold
// inside the time threshold raises a high-severity alert.
const (
	geoScanWindow        = 6 * time.Hour
	geoDistanceKm        = 1000.0
	geoTimeThreshold     = 2 * time.Hour
	geoMinSessions       = 2
	sessionRevokeFactor  = 3
	sessionWarningFactor = 2
)

// SessionConfig holds session monitoring thresholds
type SessionConfig struct {
	InactivityThreshold time.Duration
	MaxSessionsPerUser  int
	MaxSessionsPerIP    int
}

// SessionService owns session hygiene: cleanup sweeps, concurrent-session
// checks, geographic anomaly detection and analytics. All sweeps re-derive
// state from row timestamps, so a process restart loses nothing.
type SessionService struct {
	sessions SessionStore
	system   SystemEventStore
	detector *DetectorService
	config   SessionConfig
	logger   *slog.Logger
}

// NewSessionService creates a new SessionService
func NewSessionService(sessions SessionStore, system SystemEventStore, detector *DetectorService, config SessionConfig, logger *slog.Logger) *SessionService {
	return &SessionService{
		sessions: sessions,
		system:   system,
		detector: detector,
		config:   config,
		logger:   logger,
	}
}

// CleanupExpiredSessions revokes sessions past their expiry. Idempotent: a
// second run over the same data revokes nothing.
func (s *SessionService) CleanupExpiredSessions(ctx context.Context) models.SweepResult {
	timer := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("expired").Observe(time.Since(timer).Seconds())
	}()

	var result models.SweepResult
	revoked, err := s.sessions.RevokeExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("expired session sweep failed", slog.Any("error", err))
		result.Errors++
		return result
	}

	result.Processed = int(revoked)
	result.Revoked = int(revoked)
	if revoked > 0 {
		metrics.SessionsRevoked.WithLabelValues(models.RevokeReasonExpired).Add(float64(revoked))
	}

	s.recordSweep(ctx, "expired_session_sweep", result)
	return result
}

// CleanupInactiveSessions revokes sessions idle past the inactivity threshold
func (s *SessionService) CleanupInactiveSessions(ctx context.Context) models.SweepResult {
	timer := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("inactive").Observe(time.Since(timer).Seconds())
	}()

	var result models.SweepResult
	idleSince := time.Now().Add(-s.config.InactivityThreshold)
	revoked, err := s.sessions.RevokeInactive(ctx, idleSince)
	if err != nil {
		s.logger.Error("inactive session sweep failed", slog.Any("error", err))
		result.Errors++
		return result
	}

	result.Processed = int(revoked)
	result.Revoked = int(revoked)
	if revoked > 0 {
		metrics.SessionsRevoked.WithLabelValues(models.RevokeReasonInactive).Add(float64(revoked))
	}

	s.recordSweep(ctx, "inactive_session_sweep", result)
	return result
}

// RunSecurityScan executes the periodic detection pass: the login attack
// patterns over recently attacked accounts and addresses, then
// concurrent-session abuse per IP and per user, then geographic anomalies.
func (s *SessionService) RunSecurityScan(ctx context.Context) models.SweepResult {
	timer := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("security_scan").Observe(time.Since(timer).Seconds())
	}()

	var result models.SweepResult
	patterns := s.detector.Sweep(ctx)
	result.Processed += patterns.Processed
	result.Errors += patterns.Errors

	result.Errors += s.scanIPSessionAbuse(ctx)
	revoked, errs := s.scanUserSessionAbuse(ctx)
	result.Revoked += revoked
	result.Errors += errs
	result.Errors += s.scanGeographicAnomalies(ctx)

	s.recordSweep(ctx, "security_scan", result)
	return result
}

// scanIPSessionAbuse alerts on IPs holding more active sessions than allowed
func (s *SessionService) scanIPSessionAbuse(ctx context.Context) int {
	counts, err := s.sessions.CountActiveByIP(ctx, s.config.MaxSessionsPerIP)
	if err != nil {
		s.logger.Error("ip session count failed", slog.Any("error", err))
		return 1
	}

	var alerts []models.SecurityAlert
	for _, c := range counts {
		ip := c.IPAddress
		alerts = append(alerts, models.SecurityAlert{
			Severity:    models.SeverityHigh,
			AlertType:   models.IncidentTypeConcurrentSessions,
			Description: fmt.Sprintf("%d concurrent sessions share one ip address", c.Count),
			IPAddress:   &ip,
			Evidence: models.EventMetadata{
				"session_count": c.Count,
				"threshold":     s.config.MaxSessionsPerIP,
			},
			Timestamp: time.Now(),
		})
	}
	s.detector.Raise(ctx, alerts)
	return 0
}

// scanUserSessionAbuse alerts past 2x the configured per-user maximum and
// auto-revokes all of a user's sessions past 3x. The revocation is
// deliberate and non-reversible.
func (s *SessionService) scanUserSessionAbuse(ctx context.Context) (revoked, errs int) {
	warnThreshold := s.config.MaxSessionsPerUser * sessionWarningFactor
	counts, err := s.sessions.CountActiveByUser(ctx, warnThreshold)
	if err != nil {
		s.logger.Error("user session count failed", slog.Any("error", err))
		return 0, 1
	}

	for _, c := range counts {
		userID := c.UserID
		alert := models.SecurityAlert{
			Severity:        models.SeverityHigh,
			AlertType:       models.IncidentTypeConcurrentSessions,
			Description:     fmt.Sprintf("user holds %d concurrent sessions (limit %d)", c.Count, s.config.MaxSessionsPerUser),
			AffectedUserIDs: []string{userID},
			Evidence: models.EventMetadata{
				"session_count": c.Count,
				"max_sessions":  s.config.MaxSessionsPerUser,
			},
			Timestamp: time.Now(),
		}
		s.detector.Raise(ctx, []models.SecurityAlert{alert})

		if c.Count > s.config.MaxSessionsPerUser*sessionRevokeFactor {
			n, err := s.sessions.RevokeAllForUser(ctx, userID, models.RevokeReasonConcurrentAbuse)
			if err != nil {
				s.logger.Error("failed to revoke abusive sessions",
					slog.String("user_id", userID), slog.Any("error", err))
				errs++
				continue
			}
			revoked += int(n)
			metrics.SessionsRevoked.WithLabelValues(models.RevokeReasonConcurrentAbuse).Add(float64(n))
			s.logger.Warn("revoked all sessions for user over hard session limit",
				slog.String("user_id", userID), slog.Int64("revoked", n))
		}
	}

	return revoked, errs
}

// scanGeographicAnomalies loads each user's recent located sessions and
// flags impossible travel between consecutive ones.
func (s *SessionService) scanGeographicAnomalies(ctx context.Context) int {
	sessions, err := s.sessions.RecentWithLocation(ctx, time.Now().Add(-geoScanWindow))
	if err != nil {
		s.logger.Error("geo anomaly query failed", slog.Any("error", err))
		return 1
	}

	s.detector.Raise(ctx, s.DetectGeographicAnomalies(ctx, sessions))
	return 0
}

// DetectGeographicAnomalies walks each user's located sessions in
// chronological order and returns an alert for every consecutive pair whose
// haversine distance exceeds the threshold inside the time window.
func (s *SessionService) DetectGeographicAnomalies(ctx context.Context, sessions []*models.UserSession) []models.SecurityAlert {
	byUser := make(map[string][]*models.UserSession)
	for _, sess := range sessions {
		if sess.HasLocation() {
			byUser[sess.UserID] = append(byUser[sess.UserID], sess)
		}
	}

	var alerts []models.SecurityAlert
	for userID, userSessions := range byUser {
		if len(userSessions) < geoMinSessions {
			continue
		}
		sort.Slice(userSessions, func(i, j int) bool {
			return userSessions[i].CreatedAt.Before(userSessions[j].CreatedAt)
		})
		for i := 1; i < len(userSessions); i++ {
			prev, cur := userSessions[i-1], userSessions[i]
			distance := geo.Distance(*prev.Latitude, *prev.Longitude, *cur.Latitude, *cur.Longitude)
			elapsed := cur.CreatedAt.Sub(prev.CreatedAt)
			if distance > geoDistanceKm && elapsed < geoTimeThreshold {
				ip := cur.IPAddress
				alerts = append(alerts, models.SecurityAlert{
					Severity:        models.SeverityHigh,
					AlertType:       models.IncidentTypeGeographicAnomaly,
					Description:     fmt.Sprintf("sessions %.0f km apart created %s apart", distance, elapsed.Round(time.Minute)),
					AffectedUserIDs: []string{userID},
					IPAddress:       &ip,
					Evidence: models.EventMetadata{
						"distance_km":     distance,
						"elapsed_minutes": elapsed.Minutes(),
						"from_ip":         prev.IPAddress,
						"to_ip":           cur.IPAddress,
					},
					Timestamp: time.Now(),
				})
			}
		}
	}

	return alerts
}

// GetSessionAnalytics aggregates active sessions by country and by device
// family. Device classification is a substring heuristic; the aggregation and
// top-N ordering are the contract, not the category names.
func (s *SessionService) GetSessionAnalytics(ctx context.Context) (*models.SessionAnalytics, error) {
	sessions, err := s.sessions.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}

	byCountry := make(map[string]int)
	byDevice := make(map[string]int)
	for _, sess := range sessions {
		country := "unknown"
		if sess.Country != nil && *sess.Country != "" {
			country = *sess.Country
		}
		byCountry[country]++
		byDevice[deviceFamily(sess.UserAgent)]++
	}

	return &models.SessionAnalytics{
		ActiveSessions: len(sessions),
		ByCountry:      sortedGroups(byCountry),
		ByDeviceFamily: sortedGroups(byDevice),
	}, nil
}

// deviceFamily classifies a user agent by substring match
func deviceFamily(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "android") && strings.Contains(ua, "mobile"):
		return "mobile"
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "bot"), strings.Contains(ua, "crawler"), strings.Contains(ua, "spider"):
		return "bot"
	case ua == "":
		return "unknown"
	default:
		return "desktop"
	}
}

// sortedGroups converts a count map to a slice ordered by count descending,
// key ascending for ties
func sortedGroups(counts map[string]int) []models.GroupCount {
	groups := make([]models.GroupCount, 0, len(counts))
	for key, count := range counts {
		groups = append(groups, models.GroupCount{Key: key, Count: count})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Key < groups[j].Key
	})
	return groups
}

func (s *SessionService) recordSweep(ctx context.Context, sweep string, result models.SweepResult) {
	details := models.EventMetadata{
		"processed": result.Processed,
		"revoked":   result.Revoked,
		"errors":    result.Errors,
	}
	if err := s.system.RecordSystemEvent(ctx, sweep, details); err != nil {
		s.logger.Error("failed to record sweep system event",
			slog.String("sweep", sweep), slog.Any("error", err))
	}
}
