package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/marinahub/sentinel/internal/models"
)

// challengeTTL bounds how long an unlock code stays redeemable.
const challengeTTL = 10 * time.Minute

// challengeDigits is the length of the emailed code.
const challengeDigits = otp.DigitsEight

// ChallengeStore persists unlock challenges
type ChallengeStore interface {
	Create(ctx context.Context, challenge *models.UnlockChallenge) error
	Open(ctx context.Context, userID string) (*models.UnlockChallenge, error)
	Consume(ctx context.Context, challengeID uuid.UUID) error
}

// CodeDeliverer sends the generated code to the account owner
type CodeDeliverer interface {
	SendUnlockCode(ctx context.Context, userID, code string, expiresAt time.Time) error
}

// ChallengeManager issues and verifies unlock codes for verification
// unlocks. Codes are derived with TOTP from a throwaway secret, delivered by
// email, stored only as a bcrypt hash, time-boxed and single-use.
type ChallengeManager struct {
	store     ChallengeStore
	deliverer CodeDeliverer
	logger    *slog.Logger
}

// NewChallengeManager creates a new ChallengeManager
func NewChallengeManager(store ChallengeStore, deliverer CodeDeliverer, logger *slog.Logger) *ChallengeManager {
	return &ChallengeManager{
		store:     store,
		deliverer: deliverer,
		logger:    logger,
	}
}

// Issue generates a fresh unlock code for the user, stores its hash and
// emails the code. Any previously open challenge stays valid until it
// expires; verification always checks the newest one.
func (m *ChallengeManager) Issue(ctx context.Context, userID string) error {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "sentinel",
		AccountName: userID,
		SecretSize:  20,
		Period:      uint(challengeTTL / time.Second),
		Digits:      challengeDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return fmt.Errorf("failed to generate challenge secret: %w", err)
	}

	code, err := totp.GenerateCodeCustom(key.Secret(), time.Now(), totp.ValidateOpts{
		Period:    uint(challengeTTL / time.Second),
		Digits:    challengeDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return fmt.Errorf("failed to derive unlock code: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash unlock code: %w", err)
	}

	expiresAt := time.Now().Add(challengeTTL)
	challenge := &models.UnlockChallenge{
		UserID:    userID,
		CodeHash:  string(hash),
		ExpiresAt: expiresAt,
	}
	if err := m.store.Create(ctx, challenge); err != nil {
		return fmt.Errorf("failed to store unlock challenge: %w", err)
	}

	if err := m.deliverer.SendUnlockCode(ctx, userID, code, expiresAt); err != nil {
		// The challenge row is harmless without the code; report delivery
		// failure so the caller can retry issuing.
		return fmt.Errorf("failed to deliver unlock code: %w", err)
	}

	m.logger.Info("unlock challenge issued", slog.String("user_id", userID))
	return nil
}

// Verify checks a submitted code against the user's newest open challenge
// and consumes it on success.
func (m *ChallengeManager) Verify(ctx context.Context, userID, code string) error {
	challenge, err := m.store.Open(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("no open unlock challenge for user")
		}
		return fmt.Errorf("failed to load unlock challenge: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(challenge.CodeHash), []byte(code)); err != nil {
		return fmt.Errorf("unlock code mismatch")
	}

	if err := m.store.Consume(ctx, challenge.ID); err != nil {
		return fmt.Errorf("failed to consume unlock challenge: %w", err)
	}

	return nil
}
