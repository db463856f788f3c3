package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/marinahub/sentinel/internal/metrics"
	"github.com/marinahub/sentinel/internal/models"
	pkglogger "github.com/marinahub/sentinel/pkg/logger"
)

// SecurityEventStore defines the event persistence operations the lockout
// service needs
type SecurityEventStore interface {
	RecordEvent(ctx context.Context, event *models.SecurityEvent) error
	CountFailedLoginsByUser(ctx context.Context, userID string, since time.Time) (int, error)
	CountFailedLoginsByIP(ctx context.Context, ipAddress string, since time.Time) (int, error)
	FindActiveLockout(ctx context.Context, userID, ipAddress *string) (*models.SecurityEvent, error)
	CheckLockoutRPC(ctx context.Context, userID, ipAddress *string) (*models.SecurityEvent, error)
	ResolveLockouts(ctx context.Context, userID, ipAddress *string) (int64, error)
	GetRole(ctx context.Context, userID string) (models.Role, error)
}

// IncidentStore defines the incident persistence operations
type IncidentStore interface {
	Create(ctx context.Context, incident *models.SecurityIncident) (uuid.UUID, error)
	CountOpenSince(ctx context.Context, userID, ipAddress *string, since time.Time) (int, error)
	MarkAdminNotified(ctx context.Context, id uuid.UUID) error
}

// IPBlockStore records IP-scoped blocks
type IPBlockStore interface {
	Upsert(ctx context.Context, ipAddress, reason string, until time.Time) error
}

// LockoutNotifier delivers best-effort lockout notifications. Failures are
// logged and never unwind an applied lock.
type LockoutNotifier interface {
	NotifyAccountLocked(ctx context.Context, userID string, lockedUntil time.Time) error
	NotifySecurityTeam(ctx context.Context, subject, body string) error
}

// ChallengeVerifier validates verification-unlock codes
type ChallengeVerifier interface {
	Verify(ctx context.Context, userID, code string) error
}

// LockoutConfig holds non-policy lockout behavior
type LockoutConfig struct {
	// UseRPC routes active-lock lookups through check_account_lockout.
	UseRPC bool
	// IPBlockDuration bounds blocked_ips rows written for ip/global locks.
	IPBlockDuration time.Duration
}

// LockoutService evaluates, applies and lifts account lockouts. Every check
// re-reads current truth from storage; nothing is cached across calls, so any
// number of instances can run against the same database.
type LockoutService struct {
	events    SecurityEventStore
	incidents IncidentStore
	ipBlocks  IPBlockStore
	notifier  LockoutNotifier
	verifier  ChallengeVerifier
	policies  map[models.Role]models.LockoutPolicy
	config    LockoutConfig
	logger    *slog.Logger
	audit     *pkglogger.AuditLogger
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(
	events SecurityEventStore,
	incidents IncidentStore,
	ipBlocks IPBlockStore,
	notifier LockoutNotifier,
	verifier ChallengeVerifier,
	policies map[models.Role]models.LockoutPolicy,
	config LockoutConfig,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *LockoutService {
	if config.IPBlockDuration == 0 {
		config.IPBlockDuration = time.Hour
	}
	ValidatePolicies(policies, logger)
	return &LockoutService{
		events:    events,
		incidents: incidents,
		ipBlocks:  ipBlocks,
		notifier:  notifier,
		verifier:  verifier,
		policies:  policies,
		config:    config,
		logger:    logger,
		audit:     audit,
	}
}

// PolicyFor returns the policy for a role, silently falling back to the user
// policy for unknown roles.
func (s *LockoutService) PolicyFor(role models.Role) models.LockoutPolicy {
	if p, ok := s.policies[role]; ok {
		return p
	}
	return s.policies[models.RoleUser]
}

// RecordAttempt appends a failed_login or password_reset_attempt event.
// Login and reset routes call this on every failure before checking status;
// reset attempts feed the enumeration detector, not the lockout counters.
func (s *LockoutService) RecordAttempt(ctx context.Context, userID *string, ipAddress, userAgent, eventType, reason string) error {
	if eventType == "" {
		eventType = models.EventTypeFailedLogin
	}
	event := &models.SecurityEvent{
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: &userAgent,
		EventType: eventType,
		Reason:    &reason,
	}
	return s.events.RecordEvent(ctx, event)
}

// CheckStatus reports whether authentication is currently blocked for the
// user and/or IP, applying a new lock when recent failures cross the policy
// threshold. Storage errors fail open: the caller gets an unlocked status
// with policy defaults rather than a blocked legitimate user.
func (s *LockoutService) CheckStatus(ctx context.Context, userID, ipAddress *string, role models.Role) models.LockoutStatus {
	policy := s.PolicyFor(role)

	status := models.LockoutStatus{
		MaxAttempts: policy.MaxFailedAttempts,
	}

	// An unexpired lock short-circuits everything, including delay math.
	active, err := s.findActiveLockout(ctx, userID, ipAddress)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("lockout lookup failed, failing open", slog.Any("error", err))
		metrics.StatusChecks.WithLabelValues("fail_open").Inc()
		return status
	}
	if active != nil {
		status.IsLocked = true
		status.LockType = lockTypeOf(active)
		status.LockedUntil = active.LockedUntil
		if active.Reason != nil {
			status.Reason = *active.Reason
		}
		if n, ok := active.Metadata["attempt_count"].(float64); ok {
			status.AttemptCount = int(n)
		}
		status.RequiresAdminIntervention = policy.RequireAdminUnlock ||
			status.LockType == models.LockTypeAdmin ||
			status.AttemptCount > adminInterventionAttempts
		status.OpenIncidents24h = s.countOpenIncidents(ctx, userID, ipAddress)
		metrics.StatusChecks.WithLabelValues("locked").Inc()
		return status
	}

	counts, err := s.recentCounts(ctx, userID, ipAddress, policy)
	if err != nil {
		s.logger.Error("failed-attempt count query failed, failing open", slog.Any("error", err))
		metrics.StatusChecks.WithLabelValues("fail_open").Inc()
		return status
	}

	decision := EvaluateCounts(counts, policy)
	status.AttemptCount = decision.AttemptCount
	status.SuggestedDelay = decision.SuggestedDelay
	status.RequiresAdminIntervention = decision.RequiresAdminIntervention
	status.OpenIncidents24h = s.countOpenIncidents(ctx, userID, ipAddress)

	if decision.ShouldLock {
		applied := s.ApplyLockout(ctx, ApplyLockoutInput{
			UserID:       userID,
			IPAddress:    ipAddress,
			Role:         role,
			LockType:     decision.LockType,
			Reason:       decision.Reason,
			AttemptCount: decision.AttemptCount,
		})
		status.IsLocked = true
		status.LockType = decision.LockType
		status.Reason = decision.Reason
		if applied != nil {
			status.LockedUntil = applied.LockedUntil
		}
		metrics.StatusChecks.WithLabelValues("locked").Inc()
		return status
	}

	metrics.StatusChecks.WithLabelValues("allowed").Inc()
	return status
}

// ApplyLockoutInput describes the lockout to apply. EventType defaults to
// account_locked; admin-imposed locks pass manual_lock.
type ApplyLockoutInput struct {
	UserID       *string
	IPAddress    *string
	Role         models.Role
	LockType     models.LockType
	EventType    string
	Reason       string
	AttemptCount int
}

// lockoutRiskScore is recorded on every applied lock.
const lockoutRiskScore = 80

// ApplyLockout writes the lock event, files a high-severity incident and
// fires best-effort notifications. Only the initial event write can fail the
// operation; everything after is logged-and-continue.
func (s *LockoutService) ApplyLockout(ctx context.Context, input ApplyLockoutInput) *models.SecurityEvent {
	role := input.Role
	if input.UserID != nil {
		if resolved, err := s.events.GetRole(ctx, *input.UserID); err == nil {
			role = resolved
		} else if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("role lookup failed, using user policy", slog.Any("error", err))
		}
	}
	policy := s.PolicyFor(role)

	lockedUntil := time.Now().Add(policy.AutoUnlockAfter)
	lockType := input.LockType
	reason := input.Reason
	eventType := input.EventType
	if eventType == "" {
		eventType = models.EventTypeAccountLocked
	}

	event := &models.SecurityEvent{
		UserID:      input.UserID,
		IPAddress:   derefOr(input.IPAddress, ""),
		EventType:   eventType,
		Reason:      &reason,
		LockType:    &lockType,
		LockedUntil: &lockedUntil,
		RiskScore:   lockoutRiskScore,
		Metadata: models.EventMetadata{
			"policy_role":       string(policy.Role),
			"attempt_count":     input.AttemptCount,
			"auto_unlock_after": policy.AutoUnlockAfter.String(),
			"admin_unlock_only": policy.RequireAdminUnlock,
		},
	}

	if err := s.events.RecordEvent(ctx, event); err != nil {
		s.logger.Error("failed to record lockout event", slog.Any("error", err))
		return nil
	}
	metrics.LockoutsApplied.WithLabelValues(string(lockType)).Inc()

	s.audit.LogSecurityEvent(pkglogger.SecurityEvent{
		EventType: eventType,
		UserID:    derefOr(input.UserID, ""),
		IPAddress: derefOr(input.IPAddress, ""),
		Severity:  models.SeverityHigh,
		Reason:    reason,
		Metadata:  map[string]string{"lock_type": string(lockType)},
	})

	// IP-scoped locks also land in blocked_ips so edge middleware can refuse
	// traffic without consulting the event log.
	if input.IPAddress != nil && (lockType == models.LockTypeIP || lockType == models.LockTypeGlobal) {
		if err := s.ipBlocks.Upsert(ctx, *input.IPAddress, reason, time.Now().Add(s.config.IPBlockDuration)); err != nil {
			s.logger.Error("failed to record blocked ip", slog.Any("error", err))
		}
	}

	incidentID, err := s.incidents.Create(ctx, &models.SecurityIncident{
		Severity:     models.SeverityHigh,
		IncidentType: models.IncidentTypeAccountLockout,
		UserID:       input.UserID,
		IPAddress:    input.IPAddress,
		Description:  reason,
		Evidence: models.EventMetadata{
			"lock_type":     string(lockType),
			"attempt_count": input.AttemptCount,
			"locked_until":  lockedUntil.Format(time.RFC3339),
		},
	})
	if err != nil {
		s.logger.Error("failed to file lockout incident", slog.Any("error", err))
	}

	if input.UserID != nil {
		if err := s.notifier.NotifyAccountLocked(ctx, *input.UserID, lockedUntil); err != nil {
			s.logger.Error("lockout notification failed", slog.Any("error", err))
		}
	}
	if role == models.RoleAdmin {
		if err := s.notifier.NotifySecurityTeam(ctx, "admin account locked",
			"an administrator account was locked after repeated failed logins"); err != nil {
			s.logger.Error("security team notification failed", slog.Any("error", err))
		} else if incidentID != uuid.Nil {
			if err := s.incidents.MarkAdminNotified(ctx, incidentID); err != nil {
				s.logger.Error("failed to flag incident as notified", slog.Any("error", err))
			}
		}
	}

	return event
}

// Unlock validates the request and lifts matching lockouts. Expected
// validation failures come back in the result, never as an error.
func (s *LockoutService) Unlock(ctx context.Context, req models.UnlockRequest) (models.UnlockResult, error) {
	if req.UserID == nil && req.IPAddress == nil {
		return fail(req, "either user id or ip address is required"), nil
	}

	switch req.Method {
	case models.UnlockMethodAdmin:
		if req.AdminUserID == nil || *req.AdminUserID == "" {
			return fail(req, models.ErrUnlockAdminRequired.Error()), nil
		}
	case models.UnlockMethodVerification:
		if req.VerificationToken == nil || *req.VerificationToken == "" {
			return fail(req, models.ErrUnlockVerificationRequired.Error()), nil
		}
		if req.UserID == nil {
			return fail(req, "verification unlock requires a user id"), nil
		}
		if err := s.verifier.Verify(ctx, *req.UserID, *req.VerificationToken); err != nil {
			s.logger.Warn("unlock verification failed",
				slog.String("user_id", *req.UserID), slog.Any("error", err))
			return fail(req, "verification code rejected"), nil
		}
	case models.UnlockMethodTimeBased:
		// Passive expiry is authoritative; this path only resolves the stored
		// row once the window has passed.
		active, err := s.findActiveLockout(ctx, req.UserID, req.IPAddress)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return models.UnlockResult{}, err
		}
		if active != nil {
			return fail(req, models.ErrUnlockNotExpired.Error()), nil
		}
	case models.UnlockMethodAutomatic:
		// System-invoked; no prerequisites.
	default:
		return fail(req, "unknown unlock method"), nil
	}

	// When both identifiers are present, resolve only rows matching both. A
	// shared IP must never unlock somebody else's account.
	resolved, err := s.events.ResolveLockouts(ctx, req.UserID, req.IPAddress)
	if err != nil {
		metrics.Unlocks.WithLabelValues(string(req.Method), "error").Inc()
		return models.UnlockResult{}, err
	}

	unlockEvent := &models.SecurityEvent{
		UserID:    req.UserID,
		IPAddress: derefOr(req.IPAddress, ""),
		EventType: models.EventTypeAccountUnlocked,
		Reason:    req.Reason,
		Metadata: models.EventMetadata{
			"method":         string(req.Method),
			"locks_resolved": resolved,
		},
	}
	if req.AdminUserID != nil {
		unlockEvent.Metadata["admin_user_id"] = *req.AdminUserID
	}
	if err := s.events.RecordEvent(ctx, unlockEvent); err != nil {
		s.logger.Error("failed to record unlock event", slog.Any("error", err))
	}

	s.audit.LogUnlock(derefOr(req.UserID, ""), derefOr(req.IPAddress, ""), string(req.Method), true)
	metrics.Unlocks.WithLabelValues(string(req.Method), "success").Inc()

	return models.UnlockResult{Success: true}, nil
}

func (s *LockoutService) findActiveLockout(ctx context.Context, userID, ipAddress *string) (*models.SecurityEvent, error) {
	if s.config.UseRPC {
		event, err := s.events.CheckLockoutRPC(ctx, userID, ipAddress)
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return event, err
	}

	event, err := s.events.FindActiveLockout(ctx, userID, ipAddress)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrNotFound
	}
	return event, err
}

func (s *LockoutService) recentCounts(ctx context.Context, userID, ipAddress *string, policy models.LockoutPolicy) (models.AttemptCounts, error) {
	since := time.Now().Add(-policy.AttemptWindow)
	var counts models.AttemptCounts

	if userID != nil {
		n, err := s.events.CountFailedLoginsByUser(ctx, *userID, since)
		if err != nil {
			return counts, err
		}
		counts.ByUser = n
	}
	if ipAddress != nil {
		n, err := s.events.CountFailedLoginsByIP(ctx, *ipAddress, since)
		if err != nil {
			return counts, err
		}
		counts.ByIP = n
	}

	return counts, nil
}

func (s *LockoutService) countOpenIncidents(ctx context.Context, userID, ipAddress *string) int {
	n, err := s.incidents.CountOpenSince(ctx, userID, ipAddress, time.Now().Add(-24*time.Hour))
	if err != nil {
		s.logger.Error("open incident count failed", slog.Any("error", err))
		return 0
	}
	return n
}

func lockTypeOf(event *models.SecurityEvent) models.LockType {
	if event.LockType != nil {
		return *event.LockType
	}
	return models.LockTypeUser
}

func fail(req models.UnlockRequest, msg string) models.UnlockResult {
	metrics.Unlocks.WithLabelValues(string(req.Method), "rejected").Inc()
	return models.UnlockResult{Success: false, Error: msg}
}

func derefOr(s *string, fallback string) string {
	if s != nil {
		return *s
	}
	return fallback
}
