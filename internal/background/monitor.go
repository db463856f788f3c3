package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marinahub/sentinel/internal/models"
)

// SessionSweeper runs the periodic session maintenance and scan passes
type SessionSweeper interface {
	CleanupExpiredSessions(ctx context.Context) models.SweepResult
	CleanupInactiveSessions(ctx context.Context) models.SweepResult
	RunSecurityScan(ctx context.Context) models.SweepResult
}

// MonitorConfig holds the sweep intervals for the session monitor
type MonitorConfig struct {
	ExpiredSweepInterval  time.Duration
	InactiveSweepInterval time.Duration
	SecurityScanInterval  time.Duration
}

// SessionMonitor periodically sweeps expired and inactive sessions and runs
// the session security scan. Each concern ticks on its own interval.
type SessionMonitor struct {
	sweeper SessionSweeper
	config  MonitorConfig
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewSessionMonitor creates a new session monitor
func NewSessionMonitor(sweeper SessionSweeper, config MonitorConfig, logger *slog.Logger) *SessionMonitor {
	return &SessionMonitor{
		sweeper: sweeper,
		config:  config,
		logger:  logger,
	}
}

// Start launches the monitor loop in a background goroutine. Calling Start
// on a running monitor is a no-op.
func (m *SessionMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.logger.Warn("session monitor already running")
		return
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})

	go m.run(ctx, m.stopCh, m.done)

	m.logger.Info("session monitor started",
		slog.Duration("expired_interval", m.config.ExpiredSweepInterval),
		slog.Duration("inactive_interval", m.config.InactiveSweepInterval),
		slog.Duration("scan_interval", m.config.SecurityScanInterval),
	)
}

func (m *SessionMonitor) run(ctx context.Context, stopCh, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		// Only clear the flag if a newer Start hasn't replaced this run.
		if m.done == done {
			m.running = false
		}
		m.mu.Unlock()
		close(done)
	}()

	expiredTicker := time.NewTicker(m.config.ExpiredSweepInterval)
	defer expiredTicker.Stop()
	inactiveTicker := time.NewTicker(m.config.InactiveSweepInterval)
	defer inactiveTicker.Stop()
	scanTicker := time.NewTicker(m.config.SecurityScanInterval)
	defer scanTicker.Stop()

	// Run a full pass immediately so a restart doesn't wait a whole
	// interval to catch up on expired sessions.
	m.sweepExpired(ctx)
	m.sweepInactive(ctx)
	m.scan(ctx)

	for {
		select {
		case <-expiredTicker.C:
			m.sweepExpired(ctx)
		case <-inactiveTicker.C:
			m.sweepInactive(ctx)
		case <-scanTicker.C:
			m.scan(ctx)
		case <-stopCh:
			m.logger.Info("session monitor stopped")
			return
		case <-ctx.Done():
			m.logger.Info("session monitor context cancelled")
			return
		}
	}
}

// Stop signals the monitor to stop and waits for any in-flight sweep to
// finish. Stopping a monitor that is not running is a no-op.
func (m *SessionMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	close(stopCh)
	<-done
}

// IsRunning reports whether the monitor loop is active
func (m *SessionMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *SessionMonitor) sweepExpired(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result := m.sweeper.CleanupExpiredSessions(sweepCtx)
	if result.Revoked > 0 || result.Errors > 0 {
		m.logger.Info("expired session sweep completed",
			slog.Int("revoked", result.Revoked),
			slog.Int("errors", result.Errors),
		)
	}
}

func (m *SessionMonitor) sweepInactive(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result := m.sweeper.CleanupInactiveSessions(sweepCtx)
	if result.Revoked > 0 || result.Errors > 0 {
		m.logger.Info("inactive session sweep completed",
			slog.Int("revoked", result.Revoked),
			slog.Int("errors", result.Errors),
		)
	}
}

func (m *SessionMonitor) scan(ctx context.Context) {
	scanCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	result := m.sweeper.RunSecurityScan(scanCtx)
	if result.Revoked > 0 || result.Errors > 0 {
		m.logger.Info("session security scan completed",
			slog.Int("processed", result.Processed),
			slog.Int("revoked", result.Revoked),
			slog.Int("errors", result.Errors),
		)
	}
}
