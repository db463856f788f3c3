package repositories

import (
	"context"
	"time"

	"github.com/marinahub/sentinel/internal/database"
	"github.com/marinahub/sentinel/internal/models"
)

// SessionRepository handles database operations for user sessions
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// RevokeExpired bulk-flags active sessions past their expiry. Re-running on
// the same data set is a no-op because the WHERE clause only matches active
// rows.
func (r *SessionRepository) RevokeExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE user_sessions
		SET is_active = FALSE, revoke_reason = $1, revoked_at = $2
		WHERE is_active AND expires_at <= $2
	`

	tag, err := r.db.Pool.Exec(ctx, query, models.RevokeReasonExpired, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RevokeInactive bulk-flags active sessions idle past the threshold
func (r *SessionRepository) RevokeInactive(ctx context.Context, idleSince time.Time) (int64, error) {
	query := `
		UPDATE user_sessions
		SET is_active = FALSE, revoke_reason = $1, revoked_at = NOW()
		WHERE is_active AND last_seen_at <= $2
	`

	tag, err := r.db.Pool.Exec(ctx, query, models.RevokeReasonInactive, idleSince)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RevokeAllForUser deactivates every active session a user holds
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	query := `
		UPDATE user_sessions
		SET is_active = FALSE, revoke_reason = $2, revoked_at = NOW()
		WHERE is_active AND user_id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, userID, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountActiveByIP returns IPs whose active session count exceeds the threshold
func (r *SessionRepository) CountActiveByIP(ctx context.Context, threshold int) ([]models.IPSessionCount, error) {
	query := `
		SELECT ip_address, COUNT(*) AS count
		FROM user_sessions
		WHERE is_active
		GROUP BY ip_address
		HAVING COUNT(*) > $1
	`

	rows, err := r.db.Pool.Query(ctx, query, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.IPSessionCount
	for rows.Next() {
		var c models.IPSessionCount
		if err := rows.Scan(&c.IPAddress, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

// CountActiveByUser returns users whose active session count exceeds the threshold
func (r *SessionRepository) CountActiveByUser(ctx context.Context, threshold int) ([]models.UserSessionCount, error) {
	query := `
		SELECT user_id, COUNT(*) AS count
		FROM user_sessions
		WHERE is_active
		GROUP BY user_id
		HAVING COUNT(*) > $1
	`

	rows, err := r.db.Pool.Query(ctx, query, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.UserSessionCount
	for rows.Next() {
		var c models.UserSessionCount
		if err := rows.Scan(&c.UserID, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

// RecentWithLocation returns sessions created after the given time that carry
// coordinates, oldest first, for the geographic anomaly scan
func (r *SessionRepository) RecentWithLocation(ctx context.Context, since time.Time) ([]*models.UserSession, error) {
	query := `
		SELECT id, user_id, ip_address, user_agent, country, latitude, longitude, is_active, revoke_reason, created_at, last_seen_at, expires_at, revoked_at
		FROM user_sessions
		WHERE created_at >= $1 AND latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY user_id, created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.UserSession
	for rows.Next() {
		var s models.UserSession
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.IPAddress,
			&s.UserAgent,
			&s.Country,
			&s.Latitude,
			&s.Longitude,
			&s.IsActive,
			&s.RevokeReason,
			&s.CreatedAt,
			&s.LastSeenAt,
			&s.ExpiresAt,
			&s.RevokedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, &s)
	}

	return sessions, rows.Err()
}

// ListActive returns all active sessions for analytics aggregation
func (r *SessionRepository) ListActive(ctx context.Context) ([]*models.UserSession, error) {
	query := `
		SELECT id, user_id, ip_address, user_agent, country, latitude, longitude, is_active, revoke_reason, created_at, last_seen_at, expires_at, revoked_at
		FROM user_sessions
		WHERE is_active
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.UserSession
	for rows.Next() {
		var s models.UserSession
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.IPAddress,
			&s.UserAgent,
			&s.Country,
			&s.Latitude,
			&s.Longitude,
			&s.IsActive,
			&s.RevokeReason,
			&s.CreatedAt,
			&s.LastSeenAt,
			&s.ExpiresAt,
			&s.RevokedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, &s)
	}

	return sessions, rows.Err()
}
