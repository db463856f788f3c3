package models

import (
	"time"

	"github.com/google/uuid"
)

// BlockedIP records an IP-scoped block applied when per-IP thresholds trip.
// Rows expire by BlockedUntil; re-inserting an already blocked IP refreshes
// the window (idempotent at the row level).
type BlockedIP struct {
	ID           uuid.UUID  `db:"id"`
	IPAddress    string     `db:"ip_address"`
	Reason       string     `db:"reason"`
	BlockedUntil time.Time  `db:"blocked_until"`
	CreatedAt    time.Time  `db:"created_at"`
}

// UnlockChallenge is the server-side half of a verification unlock: a
// one-time code delivered to the account owner by email, bcrypt-hashed at
// rest, time-boxed, and consumable exactly once.
type UnlockChallenge struct {
	ID         uuid.UUID  `db:"id"`
	UserID     string     `db:"user_id"`
	CodeHash   string     `db:"code_hash"`
	ConsumedAt *time.Time `db:"consumed_at"`
	ExpiresAt  time.Time  `db:"expires_at"`
	CreatedAt  time.Time  `db:"created_at"`
}
