package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/marinahub/sentinel/internal/models"
)

type memoryChallengeStore struct {
	challenges []*models.UnlockChallenge
}

func (m *memoryChallengeStore) Create(ctx context.Context, challenge *models.UnlockChallenge) error {
	challenge.ID = uuid.New()
	challenge.CreatedAt = time.Now()
	m.challenges = append(m.challenges, challenge)
	return nil
}

func (m *memoryChallengeStore) Open(ctx context.Context, userID string) (*models.UnlockChallenge, error) {
	for i := len(m.challenges) - 1; i >= 0; i-- {
		ch := m.challenges[i]
		if ch.UserID == userID && ch.ConsumedAt == nil && ch.ExpiresAt.After(time.Now()) {
			return ch, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memoryChallengeStore) Consume(ctx context.Context, challengeID uuid.UUID) error {
	for _, ch := range m.challenges {
		if ch.ID == challengeID {
			if ch.ConsumedAt != nil {
				return models.ErrChallengeConsumed
			}
			now := time.Now()
			ch.ConsumedAt = &now
			return nil
		}
	}
	return models.ErrNotFound
}

type captureDeliverer struct {
	code string
}

func (c *captureDeliverer) SendUnlockCode(ctx context.Context, userID, code string, expiresAt time.Time) error {
	c.code = code
	return nil
}

func newTestChallengeManager() (*ChallengeManager, *memoryChallengeStore, *captureDeliverer) {
	store := &memoryChallengeStore{}
	deliverer := &captureDeliverer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewChallengeManager(store, deliverer, logger), store, deliverer
}

func TestChallengeManager_IssueAndVerify(t *testing.T) {
	manager, store, deliverer := newTestChallengeManager()
	ctx := context.Background()
	userID := uuid.New().String()

	if err := manager.Issue(ctx, userID); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if deliverer.code == "" {
		t.Fatal("no code was delivered")
	}
	if len(store.challenges) != 1 {
		t.Fatalf("expected 1 stored challenge, got %d", len(store.challenges))
	}

	// The stored hash must not be the code itself.
	if store.challenges[0].CodeHash == deliverer.code {
		t.Error("code stored in plain text")
	}

	if err := manager.Verify(ctx, userID, deliverer.code); err != nil {
		t.Errorf("Verify failed with the delivered code: %v", err)
	}
}

func TestChallengeManager_VerifyIsSingleUse(t *testing.T) {
	manager, _, deliverer := newTestChallengeManager()
	ctx := context.Background()
	userID := uuid.New().String()

	if err := manager.Issue(ctx, userID); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := manager.Verify(ctx, userID, deliverer.code); err != nil {
		t.Fatalf("first Verify failed: %v", err)
	}

	if err := manager.Verify(ctx, userID, deliverer.code); err == nil {
		t.Error("expected second Verify to fail")
	}
}

func TestChallengeManager_VerifyRejectsWrongCode(t *testing.T) {
	manager, _, _ := newTestChallengeManager()
	ctx := context.Background()
	userID := uuid.New().String()

	if err := manager.Issue(ctx, userID); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if err := manager.Verify(ctx, userID, "00000000"); err == nil {
		t.Error("expected Verify to reject a wrong code")
	}
}

func TestChallengeManager_VerifyWithoutChallenge(t *testing.T) {
	manager, _, _ := newTestChallengeManager()

	if err := manager.Verify(context.Background(), uuid.New().String(), "12345678"); err == nil {
		t.Error("expected Verify to fail with no open challenge")
	}
}
