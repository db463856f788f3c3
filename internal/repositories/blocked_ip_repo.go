package repositories

import (
	"context"
	"time"

	"github.com/marinahub/sentinel/internal/database"
)

// BlockedIPRepository handles database operations for IP-scoped blocks
type BlockedIPRepository struct {
	db *database.DB
}

// NewBlockedIPRepository creates a new BlockedIPRepository
func NewBlockedIPRepository(db *database.DB) *BlockedIPRepository {
	return &BlockedIPRepository{db: db}
}

// Upsert records a blocked IP, refreshing the window when the IP is already
// blocked. Re-applying an active block is a harmless no-op at the row level.
func (r *BlockedIPRepository) Upsert(ctx context.Context, ipAddress, reason string, until time.Time) error {
	query := `
		INSERT INTO blocked_ips (ip_address, reason, blocked_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (ip_address)
		DO UPDATE SET reason = EXCLUDED.reason, blocked_until = EXCLUDED.blocked_until
	`

	_, err := r.db.Pool.Exec(ctx, query, ipAddress, reason, until)
	return err
}

// IsBlocked reports whether the IP has an unexpired block
func (r *BlockedIPRepository) IsBlocked(ctx context.Context, ipAddress string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM blocked_ips WHERE ip_address = $1 AND blocked_until > NOW())`

	var blocked bool
	err := r.db.Pool.QueryRow(ctx, query, ipAddress).Scan(&blocked)
	return blocked, err
}

// DeleteExpired removes blocks past their window
func (r *BlockedIPRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM blocked_ips WHERE blocked_until <= NOW()`

	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
