package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/marinahub/sentinel/internal/auth"
	"github.com/marinahub/sentinel/internal/database"
	"github.com/marinahub/sentinel/internal/handlers"
	middlewareCustom "github.com/marinahub/sentinel/internal/middleware"
	"github.com/marinahub/sentinel/internal/models"
	"github.com/marinahub/sentinel/internal/routes"
	"github.com/marinahub/sentinel/internal/services"
	pkghttp "github.com/marinahub/sentinel/pkg/http"
	pkglogger "github.com/marinahub/sentinel/pkg/logger"
)

// SentNotification represents a captured notification message
type SentNotification struct {
	Kind   string
	UserID string
	Body   string
}

// MockNotificationService captures notifications for test assertions
type MockNotificationService struct {
	Sent []SentNotification
	mu   sync.Mutex
}

// NotifyAccountLocked records the lockout notification
func (m *MockNotificationService) NotifyAccountLocked(ctx context.Context, userID string, lockedUntil time.Time) error {
	m.record(SentNotification{Kind: "account_locked", UserID: userID})
	return nil
}

// SendUnlockCode records the unlock code delivery
func (m *MockNotificationService) SendUnlockCode(ctx context.Context, userID, code string, expiresAt time.Time) error {
	m.record(SentNotification{Kind: "unlock_code", UserID: userID, Body: "Unlock code: " + code})
	return nil
}

// NotifySecurityTeam records the escalation
func (m *MockNotificationService) NotifySecurityTeam(ctx context.Context, subject, body string) error {
	m.record(SentNotification{Kind: "security_team", Body: subject})
	return nil
}

func (m *MockNotificationService) record(n SentNotification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, n)
}

// GetLastNotification returns the most recent captured notification
func (m *MockNotificationService) GetLastNotification() *SentNotification {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Sent) == 0 {
		return nil
	}
	return &m.Sent[len(m.Sent)-1]
}

// ExtractUnlockCode pulls the verification code out of a captured delivery.
// Body format: "Unlock code: {code}"
func ExtractUnlockCode(body string) string {
	prefix := "Unlock code: "
	if len(body) > len(prefix) {
		return body[len(prefix):]
	}
	return ""
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	Notifier     *MockNotificationService
	TokenManager *auth.TokenManager
	sessions     *services.SessionService
	logger       *slog.Logger
}

// NewTestServer initializes a complete HTTP server with real database + mocked notifications
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	eventRepo, incidentRepo, sessionRepo, blockedIPRepo, challengeRepo := InitializeRepositories(db)

	notifier := &MockNotificationService{}
	auditLogger := pkglogger.NewAuditLogger(logger)

	challengeManager := auth.NewChallengeManager(challengeRepo, notifier, logger)
	alertSink := services.NewWebhookAlertSink("", logger)
	detectorService := services.NewDetectorService(eventRepo, incidentRepo, alertSink, logger)

	lockoutService := services.NewLockoutService(
		eventRepo,
		incidentRepo,
		blockedIPRepo,
		notifier,
		challengeManager,
		services.DefaultPolicies(),
		services.LockoutConfig{},
		logger,
		auditLogger,
	)

	sessionService := services.NewSessionService(sessionRepo, eventRepo, detectorService, services.SessionConfig{
		InactivityThreshold: 24 * time.Hour,
		MaxSessionsPerUser:  5,
		MaxSessionsPerIP:    10,
	}, logger)

	tokenManager := auth.NewTokenManager("test-secret-32-characters-long-for-testing", time.Hour)

	ipConfig := &pkghttp.IPConfig{}
	securityHandler := handlers.NewSecurityHandler(lockoutService, challengeManager, sessionRepo, ipConfig, logger)
	incidentHandler := handlers.NewIncidentHandler(incidentRepo, logger)
	sessionHandler := handlers.NewSessionHandler(sessionService, logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, securityHandler, incidentHandler, sessionHandler, tokenManager)

	server := httptest.NewServer(r)

	return &TestServer{
		Server:       server,
		DB:           db,
		Notifier:     notifier,
		TokenManager: tokenManager,
		sessions:     sessionService,
		logger:       logger,
	}
}

// RunSecurityScan triggers the monitor's scan pass synchronously
func (ts *TestServer) RunSecurityScan(ctx context.Context) models.SweepResult {
	return ts.sessions.RunSecurityScan(ctx)
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestAsAdmin makes an HTTP request carrying a freshly minted admin token
func (ts *TestServer) RequestAsAdmin(method, path, adminUserID string, body interface{}) (*http.Response, error) {
	token, err := ts.TokenManager.GenerateAdminToken(adminUserID)
	if err != nil {
		return nil, err
	}
	return ts.Request(method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}
