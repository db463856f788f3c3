package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/marinahub/sentinel/internal/database"
	"github.com/marinahub/sentinel/internal/models"
)

// UnlockChallengeRepository handles database operations for verification
// unlock challenges
type UnlockChallengeRepository struct {
	db *database.DB
}

// NewUnlockChallengeRepository creates a new UnlockChallengeRepository
func NewUnlockChallengeRepository(db *database.DB) *UnlockChallengeRepository {
	return &UnlockChallengeRepository{db: db}
}

// Create stores a hashed unlock challenge. Any earlier open challenge for the
// same user is consumed in the same transaction, so exactly one code is live
// per account.
func (r *UnlockChallengeRepository) Create(ctx context.Context, challenge *models.UnlockChallenge) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		supersede := `
			UPDATE unlock_challenges SET consumed_at = NOW()
			WHERE user_id = $1 AND consumed_at IS NULL
		`
		if _, err := tx.Exec(ctx, supersede, challenge.UserID); err != nil {
			return err
		}

		insert := `
			INSERT INTO unlock_challenges (user_id, code_hash, expires_at)
			VALUES ($1, $2, $3)
		`
		_, err := tx.Exec(ctx, insert, challenge.UserID, challenge.CodeHash, challenge.ExpiresAt)
		return err
	})
}

// Open returns the newest unconsumed, unexpired challenge for a user
func (r *UnlockChallengeRepository) Open(ctx context.Context, userID string) (*models.UnlockChallenge, error) {
	query := `
		SELECT id, user_id, code_hash, consumed_at, expires_at, created_at
		FROM unlock_challenges
		WHERE user_id = $1 AND consumed_at IS NULL AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`

	var ch models.UnlockChallenge
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&ch.ID,
		&ch.UserID,
		&ch.CodeHash,
		&ch.ConsumedAt,
		&ch.ExpiresAt,
		&ch.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &ch, nil
}

// Consume marks a challenge used. The consumed_at guard keeps the operation
// single-use even under concurrent verification attempts.
func (r *UnlockChallengeRepository) Consume(ctx context.Context, challengeID uuid.UUID) error {
	query := `UPDATE unlock_challenges SET consumed_at = NOW() WHERE id = $1 AND consumed_at IS NULL`

	tag, err := r.db.Pool.Exec(ctx, query, challengeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrChallengeConsumed
	}
	return nil
}
