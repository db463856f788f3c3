package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marinahub/sentinel/internal/models"
	"github.com/marinahub/sentinel/internal/services"
)

// MockDetectorStore implements DetectorStore for testing
type MockDetectorStore struct {
	distinctIPs   int
	failedByIP    int
	resetAttempts int

	recentUsers []string
	recentIPs   []string
	recentErr   error

	recorded []*models.SecurityEvent
}

func (m *MockDetectorStore) RecordEvent(ctx context.Context, event *models.SecurityEvent) error {
	m.recorded = append(m.recorded, event)
	return nil
}

func (m *MockDetectorStore) CountDistinctIPsForUser(ctx context.Context, userID string, since time.Time) (int, error) {
	return m.distinctIPs, nil
}

func (m *MockDetectorStore) CountFailedLoginsByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	return m.failedByIP, nil
}

func (m *MockDetectorStore) CountResetAttemptsAgainstUnknownUsers(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	return m.resetAttempts, nil
}

func (m *MockDetectorStore) RecentFailedLoginUsers(ctx context.Context, since time.Time) ([]string, error) {
	return m.recentUsers, m.recentErr
}

func (m *MockDetectorStore) RecentAttackerIPs(ctx context.Context, since time.Time) ([]string, error) {
	return m.recentIPs, m.recentErr
}

// MockAlertSink implements AlertSink for testing
type MockAlertSink struct {
	forwarded []models.SecurityAlert
}

func (m *MockAlertSink) Forward(ctx context.Context, alert models.SecurityAlert) error {
	m.forwarded = append(m.forwarded, alert)
	return nil
}

type detectorFixture struct {
	store     *MockDetectorStore
	incidents *MockIncidentStore
	sink      *MockAlertSink
	service   *services.DetectorService
}

func newDetectorFixture() *detectorFixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &detectorFixture{
		store:     &MockDetectorStore{},
		incidents: &MockIncidentStore{},
		sink:      &MockAlertSink{},
	}
	f.service = services.NewDetectorService(f.store, f.incidents, f.sink, logger)
	return f
}

func TestScanUser_MultiIPAttackDetected(t *testing.T) {
	f := newDetectorFixture()
	f.store.distinctIPs = 6

	alerts := f.service.ScanUser(context.Background(), "user-1")

	require.Len(t, alerts, 1)
	assert.Equal(t, models.IncidentTypeMultipleIPAttack, alerts[0].AlertType)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, []string{"user-1"}, alerts[0].AffectedUserIDs)

	// A raised alert lands as an event, an incident and a webhook delivery.
	require.Len(t, f.store.recorded, 1)
	assert.Equal(t, models.EventTypeBruteForceDetected, f.store.recorded[0].EventType)
	assert.Len(t, f.incidents.created, 1)
	assert.Len(t, f.sink.forwarded, 1)
}

func TestScanUser_ThresholdIsStrict(t *testing.T) {
	f := newDetectorFixture()
	f.store.distinctIPs = 5

	alerts := f.service.ScanUser(context.Background(), "user-1")

	assert.Empty(t, alerts)
	assert.Empty(t, f.incidents.created)
}

func TestScanIP_HighFrequencyAttackDetected(t *testing.T) {
	f := newDetectorFixture()
	f.store.failedByIP = 11

	alerts := f.service.ScanIP(context.Background(), "203.0.113.7")

	require.Len(t, alerts, 1)
	assert.Equal(t, models.IncidentTypeHighFrequency, alerts[0].AlertType)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
	require.NotNil(t, alerts[0].IPAddress)
	assert.Equal(t, "203.0.113.7", *alerts[0].IPAddress)
}

func TestScanIP_ExactlyAtThresholdStaysQuiet(t *testing.T) {
	f := newDetectorFixture()
	f.store.failedByIP = 10
	f.store.resetAttempts = 5

	alerts := f.service.ScanIP(context.Background(), "203.0.113.7")

	assert.Empty(t, alerts)
}

func TestScanIP_UserEnumerationIsMediumSeverity(t *testing.T) {
	f := newDetectorFixture()
	f.store.resetAttempts = 6

	alerts := f.service.ScanIP(context.Background(), "203.0.113.7")

	require.Len(t, alerts, 1)
	assert.Equal(t, models.IncidentTypeUserEnumeration, alerts[0].AlertType)
	assert.Equal(t, models.SeverityMedium, alerts[0].Severity)

	// Medium severity still files an incident, but skips the webhook.
	assert.Len(t, f.incidents.created, 1)
	assert.Empty(t, f.sink.forwarded)
}

func TestSweep_ScansAccountsWithRecentFailures(t *testing.T) {
	f := newDetectorFixture()
	f.store.recentUsers = []string{"user-1", "user-2"}
	f.store.distinctIPs = 6

	result := f.service.Sweep(context.Background())

	assert.Equal(t, 2, result.Processed)
	assert.Zero(t, result.Errors)

	// Both accounts trip the multi-IP pattern and file incidents.
	require.Len(t, f.incidents.created, 2)
	assert.Equal(t, models.IncidentTypeMultipleIPAttack, f.incidents.created[0].IncidentType)
	require.Len(t, f.store.recorded, 2)
	assert.Equal(t, models.EventTypeBruteForceDetected, f.store.recorded[0].EventType)
	assert.Len(t, f.sink.forwarded, 2)
}

func TestSweep_ScansAttackerAddresses(t *testing.T) {
	f := newDetectorFixture()
	f.store.recentIPs = []string{"203.0.113.7"}
	f.store.failedByIP = 11

	result := f.service.Sweep(context.Background())

	assert.Equal(t, 1, result.Processed)
	require.Len(t, f.incidents.created, 1)
	assert.Equal(t, models.IncidentTypeHighFrequency, f.incidents.created[0].IncidentType)
}

func TestSweep_QuietWindowsRaiseNothing(t *testing.T) {
	f := newDetectorFixture()
	f.store.recentUsers = []string{"user-1"}
	f.store.recentIPs = []string{"203.0.113.7"}

	result := f.service.Sweep(context.Background())

	assert.Equal(t, 2, result.Processed)
	assert.Empty(t, f.incidents.created)
	assert.Empty(t, f.store.recorded)
}

func TestSweep_EnumerationFailuresAreCounted(t *testing.T) {
	f := newDetectorFixture()
	f.store.recentErr = errors.New("connection reset")

	result := f.service.Sweep(context.Background())

	assert.Zero(t, result.Processed)
	assert.Equal(t, 2, result.Errors)
}

func TestScanIP_MultiplePatternsStack(t *testing.T) {
	f := newDetectorFixture()
	f.store.failedByIP = 25
	f.store.resetAttempts = 12

	alerts := f.service.ScanIP(context.Background(), "203.0.113.7")

	assert.Len(t, alerts, 2)
	assert.Len(t, f.incidents.created, 2)
	assert.Len(t, f.sink.forwarded, 1)
}
