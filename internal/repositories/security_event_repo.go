package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/marinahub/sentinel/internal/database"
	"github.com/marinahub/sentinel/internal/models"
)

// SecurityEventRepository handles database operations for security events
type SecurityEventRepository struct {
	db *database.DB
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

// RecordEvent inserts a security event row
func (r *SecurityEventRepository) RecordEvent(ctx context.Context, event *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (user_id, ip_address, user_agent, event_type, reason, lock_type, locked_until, risk_score, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		event.UserID,
		event.IPAddress,
		event.UserAgent,
		event.EventType,
		event.Reason,
		event.LockType,
		event.LockedUntil,
		event.RiskScore,
		event.Metadata,
	)

	return err
}

// CountFailedLoginsByUser returns the number of failed logins for a user within a time window
func (r *SecurityEventRepository) CountFailedLoginsByUser(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM security_events
		WHERE user_id = $1 AND event_type = $2 AND created_at >= $3
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, userID, models.EventTypeFailedLogin, since).Scan(&count)
	return count, err
}

// CountFailedLoginsByIP returns the number of failed logins from an IP within a time window
func (r *SecurityEventRepository) CountFailedLoginsByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM security_events
		WHERE ip_address = $1 AND event_type = $2 AND created_at >= $3
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, models.EventTypeFailedLogin, since).Scan(&count)
	return count, err
}

// CountDistinctIPsForUser returns how many distinct IPs produced failed logins
// for one user within a time window
func (r *SecurityEventRepository) CountDistinctIPsForUser(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT ip_address) FROM security_events
		WHERE user_id = $1 AND event_type = $2 AND created_at >= $3
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, userID, models.EventTypeFailedLogin, since).Scan(&count)
	return count, err
}

// CountResetAttemptsAgainstUnknownUsers returns password-reset attempts from an
// IP that targeted user ids with no account_roles row (enumeration probes)
func (r *SecurityEventRepository) CountResetAttemptsAgainstUnknownUsers(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM security_events se
		WHERE se.ip_address = $1 AND se.event_type = $2 AND se.created_at >= $3
		  AND (se.user_id IS NULL OR NOT EXISTS (
		      SELECT 1 FROM account_roles ar WHERE ar.user_id = se.user_id))
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, models.EventTypePasswordReset, since).Scan(&count)
	return count, err
}

// RecentFailedLoginUsers returns the distinct user ids with failed logins
// inside the window. The detector sweep scans each of them.
func (r *SecurityEventRepository) RecentFailedLoginUsers(ctx context.Context, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT user_id FROM security_events
		WHERE user_id IS NOT NULL AND event_type = $1 AND created_at >= $2
	`

	rows, err := r.db.Pool.Query(ctx, query, models.EventTypeFailedLogin, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

// RecentAttackerIPs returns the distinct addresses with failed logins or
// password-reset attempts inside the window
func (r *SecurityEventRepository) RecentAttackerIPs(ctx context.Context, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT ip_address FROM security_events
		WHERE ip_address <> '' AND event_type IN ($1, $2) AND created_at >= $3
	`

	rows, err := r.db.Pool.Query(ctx, query, models.EventTypeFailedLogin, models.EventTypePasswordReset, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}

// FindActiveLockout returns the most recent unresolved, unexpired lockout
// event matching the user id and/or IP. Returns models.ErrNotFound via
// MapPostgresError when none exists.
func (r *SecurityEventRepository) FindActiveLockout(ctx context.Context, userID, ipAddress *string) (*models.SecurityEvent, error) {
	query := `
		SELECT id, user_id, ip_address, user_agent, event_type, reason, lock_type, locked_until, risk_score, metadata, resolved_at, created_at
		FROM security_events
		WHERE event_type IN ($1, $2)
		  AND resolved_at IS NULL
		  AND locked_until > NOW()
		  AND (($3::text IS NOT NULL AND user_id = $3) OR ($4::text IS NOT NULL AND ip_address = $4))
		ORDER BY created_at DESC
		LIMIT 1
	`

	var event models.SecurityEvent
	err := r.db.Pool.QueryRow(ctx, query, models.EventTypeAccountLocked, models.EventTypeManualLock, userID, ipAddress).Scan(
		&event.ID,
		&event.UserID,
		&event.IPAddress,
		&event.UserAgent,
		&event.EventType,
		&event.Reason,
		&event.LockType,
		&event.LockedUntil,
		&event.RiskScore,
		&event.Metadata,
		&event.ResolvedAt,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &event, nil
}

// CheckLockoutRPC consults the check_account_lockout stored procedure. Its
// verdict is authoritative when a row comes back; no rows means not locked.
func (r *SecurityEventRepository) CheckLockoutRPC(ctx context.Context, userID, ipAddress *string) (*models.SecurityEvent, error) {
	query := `SELECT is_locked, lock_type, locked_until, reason FROM check_account_lockout($1, $2)`

	var (
		isLocked    bool
		lockType    *models.LockType
		lockedUntil *time.Time
		reason      *string
	)
	err := r.db.Pool.QueryRow(ctx, query, userID, ipAddress).Scan(&isLocked, &lockType, &lockedUntil, &reason)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !isLocked {
		return nil, models.ErrNotFound
	}

	event := &models.SecurityEvent{
		EventType:   models.EventTypeAccountLocked,
		UserID:      userID,
		LockType:    lockType,
		LockedUntil: lockedUntil,
		Reason:      reason,
	}
	if ipAddress != nil {
		event.IPAddress = *ipAddress
	}
	return event, nil
}

// ResolveLockouts marks matching unresolved lockout events as resolved.
// When both user id and IP are supplied, rows must match both; resolving on
// a shared IP must not unlock a different account. Returns affected rows.
func (r *SecurityEventRepository) ResolveLockouts(ctx context.Context, userID, ipAddress *string) (int64, error) {
	query := `
		UPDATE security_events
		SET resolved_at = NOW()
		WHERE event_type IN ($1, $2)
		  AND resolved_at IS NULL
		  AND ($3::text IS NULL OR user_id = $3)
		  AND ($4::text IS NULL OR ip_address = $4)
		  AND ($3::text IS NOT NULL OR $4::text IS NOT NULL)
	`

	tag, err := r.db.Pool.Exec(ctx, query, models.EventTypeAccountLocked, models.EventTypeManualLock, userID, ipAddress)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetRole looks up the account's role for policy selection
func (r *SecurityEventRepository) GetRole(ctx context.Context, userID string) (models.Role, error) {
	query := `SELECT role FROM account_roles WHERE user_id = $1`

	var role models.Role
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&role)
	if err != nil {
		return "", database.MapPostgresError(err)
	}
	return role, nil
}

// EmailForUser resolves the account's contact address for notifications
func (r *SecurityEventRepository) EmailForUser(ctx context.Context, userID string) (string, error) {
	query := `SELECT email FROM account_roles WHERE user_id = $1 AND email IS NOT NULL`

	var email string
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&email)
	if err != nil {
		return "", database.MapPostgresError(err)
	}
	return email, nil
}

// RecordSystemEvent writes one system_events row (cleanup sweep summaries)
func (r *SecurityEventRepository) RecordSystemEvent(ctx context.Context, eventType string, details models.EventMetadata) error {
	query := `INSERT INTO system_events (event_type, details) VALUES ($1, $2)`
	_, err := r.db.Pool.Exec(ctx, query, eventType, details)
	return err
}
