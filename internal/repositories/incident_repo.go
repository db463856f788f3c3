package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/marinahub/sentinel/internal/database"
	"github.com/marinahub/sentinel/internal/models"
)

// IncidentRepository handles database operations for security incidents
type IncidentRepository struct {
	db *database.DB
}

// NewIncidentRepository creates a new IncidentRepository
func NewIncidentRepository(db *database.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Create inserts a security incident and returns its id
func (r *IncidentRepository) Create(ctx context.Context, incident *models.SecurityIncident) (uuid.UUID, error) {
	query := `
		INSERT INTO security_incidents (severity, incident_type, user_id, ip_address, description, evidence, admin_notified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var id uuid.UUID
	err := r.db.Pool.QueryRow(ctx, query,
		incident.Severity,
		incident.IncidentType,
		incident.UserID,
		incident.IPAddress,
		incident.Description,
		incident.Evidence,
		incident.AdminNotified,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, database.MapPostgresError(err)
	}

	return id, nil
}

// CountOpenSince returns the number of unresolved incidents created after the
// given time, optionally scoped to a user and/or IP
func (r *IncidentRepository) CountOpenSince(ctx context.Context, userID, ipAddress *string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM security_incidents
		WHERE resolved_at IS NULL
		  AND created_at >= $1
		  AND ($2::text IS NULL OR user_id = $2)
		  AND ($3::text IS NULL OR ip_address = $3)
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, since, userID, ipAddress).Scan(&count)
	return count, err
}

// List returns incidents newest first
func (r *IncidentRepository) List(ctx context.Context, limit, offset int) ([]*models.SecurityIncident, error) {
	query := `
		SELECT id, severity, incident_type, user_id, ip_address, description, evidence, admin_notified, resolved_by, resolution_note, resolved_at, created_at
		FROM security_incidents
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []*models.SecurityIncident
	for rows.Next() {
		var inc models.SecurityIncident
		if err := rows.Scan(
			&inc.ID,
			&inc.Severity,
			&inc.IncidentType,
			&inc.UserID,
			&inc.IPAddress,
			&inc.Description,
			&inc.Evidence,
			&inc.AdminNotified,
			&inc.ResolvedBy,
			&inc.ResolutionNote,
			&inc.ResolvedAt,
			&inc.CreatedAt,
		); err != nil {
			return nil, err
		}
		incidents = append(incidents, &inc)
	}

	return incidents, rows.Err()
}

// Resolve annotates an incident with reviewer resolution fields
func (r *IncidentRepository) Resolve(ctx context.Context, id uuid.UUID, resolvedBy, note string) error {
	query := `
		UPDATE security_incidents
		SET resolved_by = $2, resolution_note = $3, resolved_at = NOW()
		WHERE id = $1 AND resolved_at IS NULL
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, resolvedBy, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkAdminNotified flags an incident after the security team was reached
func (r *IncidentRepository) MarkAdminNotified(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE security_incidents SET admin_notified = TRUE WHERE id = $1`
	_, err := r.db.Pool.Exec(ctx, query, id)
	return err
}
