package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marinahub/sentinel/internal/auth"
	"github.com/marinahub/sentinel/internal/background"
	"github.com/marinahub/sentinel/internal/config"
	"github.com/marinahub/sentinel/internal/database"
	"github.com/marinahub/sentinel/internal/handlers"
	middlewareCustom "github.com/marinahub/sentinel/internal/middleware"
	"github.com/marinahub/sentinel/internal/repositories"
	"github.com/marinahub/sentinel/internal/routes"
	"github.com/marinahub/sentinel/internal/services"
	pkghttp "github.com/marinahub/sentinel/pkg/http"
	pkglogger "github.com/marinahub/sentinel/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		migrateCancel()
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	migrateCancel()

	// Initialize repositories
	eventRepo := repositories.NewSecurityEventRepository(db)
	incidentRepo := repositories.NewIncidentRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	blockedIPRepo := repositories.NewBlockedIPRepository(db)
	challengeRepo := repositories.NewUnlockChallengeRepository(db)

	// Notification service: SES when enabled, logging noop otherwise
	var notifier services.NotificationService
	if cfg.Email.Enabled {
		sesNotifier, err := services.NewAWSSESNotificationService(
			cfg.Email.AWSRegion,
			cfg.Email.FromAddress,
			cfg.Email.SecurityTeam,
			eventRepo,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize notification service", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	} else {
		notifier = services.NewNoopNotificationService(logger)
	}

	// Security services
	auditLogger := pkglogger.NewAuditLogger(logger)
	challengeManager := auth.NewChallengeManager(challengeRepo, notifier, logger)
	alertSink := services.NewWebhookAlertSink(cfg.Security.AlertWebhookURL, logger)
	detectorService := services.NewDetectorService(eventRepo, incidentRepo, alertSink, logger)

	lockoutService := services.NewLockoutService(
		eventRepo,
		incidentRepo,
		blockedIPRepo,
		notifier,
		challengeManager,
		services.DefaultPolicies(),
		services.LockoutConfig{
			UseRPC:          cfg.Security.UseLockoutRPC,
			IPBlockDuration: cfg.Security.IPBlockDuration,
		},
		logger,
		auditLogger,
	)

	sessionService := services.NewSessionService(
		sessionRepo,
		eventRepo,
		detectorService,
		services.SessionConfig{
			InactivityThreshold: cfg.Monitor.InactivityThreshold,
			MaxSessionsPerUser:  cfg.Monitor.MaxSessionsPerUser,
			MaxSessionsPerIP:    cfg.Monitor.MaxSessionsPerIP,
		},
		logger,
	)

	// Session monitor
	sessionMonitor := background.NewSessionMonitor(sessionService, background.MonitorConfig{
		ExpiredSweepInterval:  cfg.Monitor.ExpiredSweepInterval,
		InactiveSweepInterval: cfg.Monitor.InactiveSweepInterval,
		SecurityScanInterval:  cfg.Monitor.SecurityScanInterval,
	}, logger)

	// Admin token manager
	tokenManager := auth.NewTokenManager(cfg.Security.AdminJWTSecret, cfg.Security.AdminTokenExpiry)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Security.TrustedProxies}
	securityHandler := handlers.NewSecurityHandler(lockoutService, challengeManager, sessionRepo, ipConfig, logger)
	incidentHandler := handlers.NewIncidentHandler(incidentRepo, logger)
	sessionHandler := handlers.NewSessionHandler(sessionService, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, securityHandler, incidentHandler, sessionHandler, tokenManager)

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler())

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start session monitor
	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()

	sessionMonitor.Start(monitorCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	sessionMonitor.Stop()
	monitorCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
