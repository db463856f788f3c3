package services

import (
	"log/slog"
	"math"
	"time"

	"github.com/marinahub/sentinel/internal/models"
)

// DefaultPolicies returns the role-keyed lockout policy table. Policies are
// static for the life of the process; checks always re-read event state, so
// policy changes take effect on restart without data migration.
func DefaultPolicies() map[models.Role]models.LockoutPolicy {
	return map[models.Role]models.LockoutPolicy{
		models.RoleUser: {
			Role:               models.RoleUser,
			MaxFailedAttempts:  5,
			MaxAttemptsPerIP:   15,
			MaxGlobalAttempts:  100,
			AttemptWindow:      15 * time.Minute,
			BaseDelay:          1 * time.Second,
			MaxDelay:           30 * time.Second,
			BackoffFactor:      2.0,
			ProgressiveDelay:   true,
			AutoUnlockAfter:    30 * time.Minute,
			RequireAdminUnlock: false,
		},
		models.RoleBusinessOwner: {
			Role:               models.RoleBusinessOwner,
			MaxFailedAttempts:  5,
			MaxAttemptsPerIP:   10,
			MaxGlobalAttempts:  50,
			AttemptWindow:      15 * time.Minute,
			BaseDelay:          2 * time.Second,
			MaxDelay:           60 * time.Second,
			BackoffFactor:      2.0,
			ProgressiveDelay:   true,
			AutoUnlockAfter:    60 * time.Minute,
			RequireAdminUnlock: false,
		},
		models.RoleAdmin: {
			Role:               models.RoleAdmin,
			MaxFailedAttempts:  3,
			MaxAttemptsPerIP:   5,
			MaxGlobalAttempts:  20,
			AttemptWindow:      30 * time.Minute,
			BaseDelay:          5 * time.Second,
			MaxDelay:           5 * time.Minute,
			BackoffFactor:      3.0,
			ProgressiveDelay:   true,
			AutoUnlockAfter:    4 * time.Hour,
			RequireAdminUnlock: true,
		},
	}
}

// ValidatePolicies logs a warning for any policy violating the intended
// threshold ordering maxFailed <= maxIP <= maxGlobal. The ordering is advice,
// not a hard constraint.
func ValidatePolicies(policies map[models.Role]models.LockoutPolicy, logger *slog.Logger) {
	for role, p := range policies {
		if p.MaxFailedAttempts > p.MaxAttemptsPerIP || p.MaxAttemptsPerIP > p.MaxGlobalAttempts {
			logger.Warn("lockout policy thresholds out of order",
				slog.String("role", string(role)),
				slog.Int("max_failed", p.MaxFailedAttempts),
				slog.Int("max_ip", p.MaxAttemptsPerIP),
				slog.Int("max_global", p.MaxGlobalAttempts))
		}
		if p.BaseDelay > p.MaxDelay {
			logger.Warn("lockout policy base delay exceeds max delay",
				slog.String("role", string(role)),
				slog.Duration("base_delay", p.BaseDelay),
				slog.Duration("max_delay", p.MaxDelay))
		}
	}
}

// ProgressiveDelay maps an attempt count and policy to the throttling delay
// before the next attempt is permitted:
//
//	min(baseDelay * backoffFactor^(attemptCount-1), maxDelay)
//
// when progressive delay is enabled, else flat baseDelay. Callers pass
// attemptCount >= 1; the first attempt gets exactly the base delay.
func ProgressiveDelay(attemptCount int, policy models.LockoutPolicy) time.Duration {
	if !policy.ProgressiveDelay {
		return policy.BaseDelay
	}
	if attemptCount < 1 {
		attemptCount = 1
	}

	factor := math.Pow(policy.BackoffFactor, float64(attemptCount-1))
	delay := time.Duration(float64(policy.BaseDelay) * factor)

	if delay > policy.MaxDelay || delay < 0 || math.IsInf(factor, 1) || math.IsNaN(factor) {
		return policy.MaxDelay
	}
	return delay
}

// LockDecision is the pure output of evaluating attempt counts against a
// policy. Applying it is a separate, explicit effect.
type LockDecision struct {
	ShouldLock                bool
	LockType                  models.LockType
	Reason                    string
	AttemptCount              int
	SuggestedDelay            time.Duration
	RequiresAdminIntervention bool
}

// adminInterventionAttempts forces admin review past this many failures
// regardless of the policy.
const adminInterventionAttempts = 10

// EvaluateCounts decides whether recent failure counts cross the policy's
// thresholds. Pure: no storage access, no side effects.
func EvaluateCounts(counts models.AttemptCounts, policy models.LockoutPolicy) LockDecision {
	decision := LockDecision{
		AttemptCount:   counts.Max(),
		SuggestedDelay: ProgressiveDelay(maxInt(counts.Max(), 1), policy),
	}

	switch {
	case counts.ByUser >= policy.MaxFailedAttempts:
		decision.ShouldLock = true
		decision.LockType = models.LockTypeUser
		decision.Reason = "too many failed login attempts for account"
	case counts.ByIP >= policy.MaxGlobalAttempts:
		decision.ShouldLock = true
		decision.LockType = models.LockTypeGlobal
		decision.Reason = "global failed login threshold exceeded"
	case counts.ByIP >= policy.MaxAttemptsPerIP:
		decision.ShouldLock = true
		decision.LockType = models.LockTypeIP
		decision.Reason = "too many failed login attempts from ip address"
	}

	decision.RequiresAdminIntervention = policy.RequireAdminUnlock ||
		decision.AttemptCount > adminInterventionAttempts

	return decision
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
