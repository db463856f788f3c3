package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marinahub/sentinel/internal/models"
	"github.com/marinahub/sentinel/internal/services"
	pkglogger "github.com/marinahub/sentinel/pkg/logger"
)

// MockEventStore implements SecurityEventStore for testing
type MockEventStore struct {
	failedByUser  int
	failedByIP    int
	activeLockout *models.SecurityEvent
	role          models.Role
	roleErr       error
	countErr      error
	findErr       error

	recorded     []*models.SecurityEvent
	resolved     int64
	resolveUser  *string
	resolveIP    *string
	resolveCalls int
	countCalls   int
	rpcCalls     int
	directCalls  int
}

func (m *MockEventStore) RecordEvent(ctx context.Context, event *models.SecurityEvent) error {
	m.recorded = append(m.recorded, event)
	return nil
}

func (m *MockEventStore) CountFailedLoginsByUser(ctx context.Context, userID string, since time.Time) (int, error) {
	m.countCalls++
	return m.failedByUser, m.countErr
}

func (m *MockEventStore) CountFailedLoginsByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	m.countCalls++
	return m.failedByIP, m.countErr
}

func (m *MockEventStore) FindActiveLockout(ctx context.Context, userID, ipAddress *string) (*models.SecurityEvent, error) {
	m.directCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.activeLockout == nil {
		return nil, models.ErrNotFound
	}
	return m.activeLockout, nil
}

func (m *MockEventStore) CheckLockoutRPC(ctx context.Context, userID, ipAddress *string) (*models.SecurityEvent, error) {
	m.rpcCalls++
	if m.activeLockout == nil {
		return nil, models.ErrNotFound
	}
	return m.activeLockout, nil
}

func (m *MockEventStore) ResolveLockouts(ctx context.Context, userID, ipAddress *string) (int64, error) {
	m.resolveCalls++
	m.resolveUser = userID
	m.resolveIP = ipAddress
	return m.resolved, nil
}

func (m *MockEventStore) GetRole(ctx context.Context, userID string) (models.Role, error) {
	if m.roleErr != nil {
		return "", m.roleErr
	}
	if m.role == "" {
		return "", models.ErrNotFound
	}
	return m.role, nil
}

// MockIncidentStore implements IncidentStore for testing
type MockIncidentStore struct {
	created     []*models.SecurityIncident
	openCount   int
	notifiedIDs []uuid.UUID
}

func (m *MockIncidentStore) Create(ctx context.Context, incident *models.SecurityIncident) (uuid.UUID, error) {
	m.created = append(m.created, incident)
	return uuid.New(), nil
}

func (m *MockIncidentStore) CountOpenSince(ctx context.Context, userID, ipAddress *string, since time.Time) (int, error) {
	return m.openCount, nil
}

func (m *MockIncidentStore) MarkAdminNotified(ctx context.Context, id uuid.UUID) error {
	m.notifiedIDs = append(m.notifiedIDs, id)
	return nil
}

// MockIPBlockStore implements IPBlockStore for testing
type MockIPBlockStore struct {
	blocked map[string]time.Time
}

func (m *MockIPBlockStore) Upsert(ctx context.Context, ipAddress, reason string, until time.Time) error {
	if m.blocked == nil {
		m.blocked = make(map[string]time.Time)
	}
	m.blocked[ipAddress] = until
	return nil
}

// MockNotifier implements LockoutNotifier for testing
type MockNotifier struct {
	lockedUsers  []string
	teamSubjects []string
}

func (m *MockNotifier) NotifyAccountLocked(ctx context.Context, userID string, lockedUntil time.Time) error {
	m.lockedUsers = append(m.lockedUsers, userID)
	return nil
}

func (m *MockNotifier) NotifySecurityTeam(ctx context.Context, subject, body string) error {
	m.teamSubjects = append(m.teamSubjects, subject)
	return nil
}

// MockVerifier implements ChallengeVerifier for testing
type MockVerifier struct {
	err   error
	calls int
}

func (m *MockVerifier) Verify(ctx context.Context, userID, code string) error {
	m.calls++
	return m.err
}

type lockoutFixture struct {
	events    *MockEventStore
	incidents *MockIncidentStore
	ipBlocks  *MockIPBlockStore
	notifier  *MockNotifier
	verifier  *MockVerifier
	service   *services.LockoutService
}

func newLockoutFixture(config services.LockoutConfig) *lockoutFixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &lockoutFixture{
		events:    &MockEventStore{},
		incidents: &MockIncidentStore{},
		ipBlocks:  &MockIPBlockStore{},
		notifier:  &MockNotifier{},
		verifier:  &MockVerifier{},
	}
	f.service = services.NewLockoutService(
		f.events,
		f.incidents,
		f.ipBlocks,
		f.notifier,
		f.verifier,
		services.DefaultPolicies(),
		config,
		logger,
		pkglogger.NewAuditLogger(logger),
	)
	return f
}

func strPtr(s string) *string { return &s }

func TestCheckStatus_UnderThresholdAllows(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})
	f.events.failedByUser = 3

	userID := uuid.New().String()
	status := f.service.CheckStatus(context.Background(), &userID, strPtr("203.0.113.7"), models.RoleUser)

	assert.False(t, status.IsLocked)
	assert.Equal(t, 3, status.AttemptCount)
	assert.Equal(t, 5, status.MaxAttempts)
	assert.Equal(t, 4*time.Second, status.SuggestedDelay)
	assert.Empty(t, f.incidents.created)
}

func TestCheckStatus_UserThresholdLocks(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})
	f.events.failedByUser = 5

	userID := uuid.New().String()
	before := time.Now()
	status := f.service.CheckStatus(context.Background(), &userID, strPtr("203.0.113.7"), models.RoleUser)

	assert.True(t, status.IsLocked)
	assert.Equal(t, models.LockTypeUser, status.LockType)

	require.Len(t, f.events.recorded, 1)
	event := f.events.recorded[0]
	assert.Equal(t, models.EventTypeAccountLocked, event.EventType)
	require.NotNil(t, event.LockedUntil)

	// Auto-unlock lands one policy window after the lock.
	expected := before.Add(30 * time.Minute)
	assert.WithinDuration(t, expected, *event.LockedUntil, 5*time.Second)

	// The lock files an incident and notifies the account owner.
	require.Len(t, f.incidents.created, 1)
	assert.Equal(t, models.SeverityHigh, f.incidents.created[0].Severity)
	assert.Equal(t, []string{userID}, f.notifier.lockedUsers)
}

func TestCheckStatus_IPThresholdBlocksIP(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{IPBlockDuration: 2 * time.Hour})
	f.events.failedByIP = 15

	status := f.service.CheckStatus(context.Background(), nil, strPtr("203.0.113.7"), models.RoleUser)

	assert.True(t, status.IsLocked)
	assert.Equal(t, models.LockTypeIP, status.LockType)
	assert.Contains(t, f.ipBlocks.blocked, "203.0.113.7")
}

func TestCheckStatus_FailsOpenOnStorageError(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})
	f.events.countErr = errors.New("connection refused")

	userID := uuid.New().String()
	status := f.service.CheckStatus(context.Background(), &userID, strPtr("203.0.113.7"), models.RoleUser)

	assert.False(t, status.IsLocked)
	assert.Empty(t, f.events.recorded)
}

func TestCheckStatus_ActiveLockShortCircuits(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})
	until := time.Now().Add(10 * time.Minute)
	lockType := models.LockTypeUser
	reason := "too many failed login attempts for account"
	f.events.activeLockout = &models.SecurityEvent{
		EventType:   models.EventTypeAccountLocked,
		LockType:    &lockType,
		LockedUntil: &until,
		Reason:      &reason,
		Metadata:    models.EventMetadata{"attempt_count": float64(7)},
	}

	userID := uuid.New().String()
	status := f.service.CheckStatus(context.Background(), &userID, nil, models.RoleUser)

	assert.True(t, status.IsLocked)
	assert.Equal(t, models.LockTypeUser, status.LockType)
	assert.Equal(t, reason, status.Reason)
	assert.Equal(t, 7, status.AttemptCount)
	assert.Zero(t, status.SuggestedDelay)

	// Attempt counting is skipped entirely while a lock is active.
	assert.Zero(t, f.events.countCalls)
}

func TestCheckStatus_RPCRoutingWhenEnabled(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{UseRPC: true})

	userID := uuid.New().String()
	f.service.CheckStatus(context.Background(), &userID, nil, models.RoleUser)

	assert.Equal(t, 1, f.events.rpcCalls)
	assert.Zero(t, f.events.directCalls)
}

func TestCheckStatus_AdminPolicyRequiresIntervention(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})
	f.events.failedByUser = 2
	f.events.role = models.RoleAdmin

	userID := uuid.New().String()
	status := f.service.CheckStatus(context.Background(), &userID, nil, models.RoleAdmin)

	assert.False(t, status.IsLocked)
	assert.Equal(t, 3, status.MaxAttempts)
	assert.True(t, status.RequiresAdminIntervention)
}

func TestApplyLockout_AdminRoleNotifiesSecurityTeam(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})
	f.events.role = models.RoleAdmin

	userID := uuid.New().String()
	event := f.service.ApplyLockout(context.Background(), services.ApplyLockoutInput{
		UserID:       &userID,
		IPAddress:    strPtr("203.0.113.7"),
		Role:         models.RoleAdmin,
		LockType:     models.LockTypeUser,
		Reason:       "too many failed login attempts for account",
		AttemptCount: 3,
	})

	require.NotNil(t, event)
	assert.Len(t, f.notifier.teamSubjects, 1)
	assert.Len(t, f.incidents.notifiedIDs, 1)

	// Admin locks hold for four hours.
	require.NotNil(t, event.LockedUntil)
	assert.WithinDuration(t, time.Now().Add(4*time.Hour), *event.LockedUntil, 5*time.Second)
}

func TestRecordAttempt_DefaultsToFailedLogin(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})

	userID := uuid.New().String()
	err := f.service.RecordAttempt(context.Background(), &userID, "203.0.113.7", "curl/8.0", "", "invalid credentials")

	require.NoError(t, err)
	require.Len(t, f.events.recorded, 1)
	assert.Equal(t, models.EventTypeFailedLogin, f.events.recorded[0].EventType)
}

func TestRecordAttempt_KeepsResetAttemptType(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})

	err := f.service.RecordAttempt(context.Background(), nil, "203.0.113.7", "curl/8.0",
		models.EventTypePasswordReset, "reset requested for unknown email")

	require.NoError(t, err)
	require.Len(t, f.events.recorded, 1)
	assert.Equal(t, models.EventTypePasswordReset, f.events.recorded[0].EventType)
}

func TestApplyLockout_ManualLockKeepsEventType(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})

	userID := uuid.New().String()
	event := f.service.ApplyLockout(context.Background(), services.ApplyLockoutInput{
		UserID:    &userID,
		Role:      models.RoleUser,
		LockType:  models.LockTypeAdmin,
		EventType: models.EventTypeManualLock,
		Reason:    "fraud investigation",
	})

	require.NotNil(t, event)
	assert.Equal(t, models.EventTypeManualLock, event.EventType)
	require.Len(t, f.events.recorded, 1)
	assert.Equal(t, models.EventTypeManualLock, f.events.recorded[0].EventType)
}

func TestUnlock_AdminWithoutAdminIDRejected(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})

	userID := uuid.New().String()
	result, err := f.service.Unlock(context.Background(), models.UnlockRequest{
		UserID: &userID,
		Method: models.UnlockMethodAdmin,
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.ErrUnlockAdminRequired.Error(), result.Error)
	assert.Zero(t, f.events.resolveCalls)
}

func TestUnlock_AdminResolvesMatchingLocks(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})
	f.events.resolved = 2

	userID := uuid.New().String()
	adminID := uuid.New().String()
	result, err := f.service.Unlock(context.Background(), models.UnlockRequest{
		UserID:      &userID,
		IPAddress:   strPtr("203.0.113.7"),
		Method:      models.UnlockMethodAdmin,
		AdminUserID: &adminID,
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.events.resolveCalls)

	// Both identifiers are passed through so only rows matching both resolve.
	require.NotNil(t, f.events.resolveUser)
	require.NotNil(t, f.events.resolveIP)
	assert.Equal(t, userID, *f.events.resolveUser)
	assert.Equal(t, "203.0.113.7", *f.events.resolveIP)

	require.Len(t, f.events.recorded, 1)
	assert.Equal(t, models.EventTypeAccountUnlocked, f.events.recorded[0].EventType)
	assert.Equal(t, adminID, f.events.recorded[0].Metadata["admin_user_id"])
}

func TestUnlock_TimeBasedRejectedWhileLockActive(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})
	until := time.Now().Add(10 * time.Minute)
	lockType := models.LockTypeUser
	f.events.activeLockout = &models.SecurityEvent{
		EventType:   models.EventTypeAccountLocked,
		LockType:    &lockType,
		LockedUntil: &until,
	}

	userID := uuid.New().String()
	result, err := f.service.Unlock(context.Background(), models.UnlockRequest{
		UserID: &userID,
		Method: models.UnlockMethodTimeBased,
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.ErrUnlockNotExpired.Error(), result.Error)
	assert.Zero(t, f.events.resolveCalls)
}

func TestUnlock_TimeBasedSucceedsAfterExpiry(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})

	userID := uuid.New().String()
	result, err := f.service.Unlock(context.Background(), models.UnlockRequest{
		UserID: &userID,
		Method: models.UnlockMethodTimeBased,
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.events.resolveCalls)
}

func TestUnlock_VerificationRejectsBadCode(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})
	f.verifier.err = errors.New("unlock code mismatch")

	userID := uuid.New().String()
	result, err := f.service.Unlock(context.Background(), models.UnlockRequest{
		UserID:            &userID,
		Method:            models.UnlockMethodVerification,
		VerificationToken: strPtr("12345678"),
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, f.verifier.calls)
	assert.Zero(t, f.events.resolveCalls)
}

func TestUnlock_VerificationSucceedsWithValidCode(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})

	userID := uuid.New().String()
	result, err := f.service.Unlock(context.Background(), models.UnlockRequest{
		UserID:            &userID,
		Method:            models.UnlockMethodVerification,
		VerificationToken: strPtr("12345678"),
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.verifier.calls)
	assert.Equal(t, 1, f.events.resolveCalls)
}

func TestUnlock_RequiresAnIdentifier(t *testing.T) {
	f := newLockoutFixture(services.LockoutConfig{})

	result, err := f.service.Unlock(context.Background(), models.UnlockRequest{
		Method: models.UnlockMethodAutomatic,
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Zero(t, f.events.resolveCalls)
}
