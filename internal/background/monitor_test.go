package background_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marinahub/sentinel/internal/background"
	"github.com/marinahub/sentinel/internal/models"
)

type countingSweeper struct {
	expired  atomic.Int32
	inactive atomic.Int32
	scans    atomic.Int32
	delay    time.Duration
}

func (c *countingSweeper) CleanupExpiredSessions(ctx context.Context) models.SweepResult {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.expired.Add(1)
	return models.SweepResult{}
}

func (c *countingSweeper) CleanupInactiveSessions(ctx context.Context) models.SweepResult {
	c.inactive.Add(1)
	return models.SweepResult{}
}

func (c *countingSweeper) RunSecurityScan(ctx context.Context) models.SweepResult {
	c.scans.Add(1)
	return models.SweepResult{}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() background.MonitorConfig {
	return background.MonitorConfig{
		ExpiredSweepInterval:  10 * time.Millisecond,
		InactiveSweepInterval: 10 * time.Millisecond,
		SecurityScanInterval:  10 * time.Millisecond,
	}
}

func TestSessionMonitor_RunsInitialSweeps(t *testing.T) {
	sweeper := &countingSweeper{}
	monitor := background.NewSessionMonitor(sweeper, background.MonitorConfig{
		ExpiredSweepInterval:  time.Hour,
		InactiveSweepInterval: time.Hour,
		SecurityScanInterval:  time.Hour,
	}, testLogger())

	monitor.Start(context.Background())
	defer monitor.Stop()

	// Initial pass runs synchronously at loop start, before any tick.
	assert.Eventually(t, func() bool {
		return sweeper.expired.Load() == 1 &&
			sweeper.inactive.Load() == 1 &&
			sweeper.scans.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSessionMonitor_TicksEachConcern(t *testing.T) {
	sweeper := &countingSweeper{}
	monitor := background.NewSessionMonitor(sweeper, testConfig(), testLogger())

	monitor.Start(context.Background())
	defer monitor.Stop()

	assert.Eventually(t, func() bool {
		return sweeper.expired.Load() >= 3 &&
			sweeper.inactive.Load() >= 3 &&
			sweeper.scans.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionMonitor_StartIsIdempotent(t *testing.T) {
	sweeper := &countingSweeper{}
	monitor := background.NewSessionMonitor(sweeper, testConfig(), testLogger())

	monitor.Start(context.Background())
	monitor.Start(context.Background())
	defer monitor.Stop()

	assert.True(t, monitor.IsRunning())

	// Give the (single) loop a few ticks; a second loop would roughly
	// double the counts relative to each other.
	time.Sleep(50 * time.Millisecond)
	assert.InDelta(t, sweeper.expired.Load(), sweeper.inactive.Load(), 2)
}

func TestSessionMonitor_StopWaitsForInFlightSweep(t *testing.T) {
	sweeper := &countingSweeper{delay: 30 * time.Millisecond}
	monitor := background.NewSessionMonitor(sweeper, testConfig(), testLogger())

	monitor.Start(context.Background())

	// The initial expired sweep is still sleeping when Stop is called.
	monitor.Stop()

	assert.False(t, monitor.IsRunning())
	assert.GreaterOrEqual(t, sweeper.expired.Load(), int32(1))
}

func TestSessionMonitor_StopBeforeStartIsNoop(t *testing.T) {
	monitor := background.NewSessionMonitor(&countingSweeper{}, testConfig(), testLogger())

	monitor.Stop()
	assert.False(t, monitor.IsRunning())
}

func TestSessionMonitor_ContextCancellationStopsLoop(t *testing.T) {
	sweeper := &countingSweeper{}
	monitor := background.NewSessionMonitor(sweeper, testConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx)
	cancel()

	before := sweeper.expired.Load()
	time.Sleep(50 * time.Millisecond)
	after := sweeper.expired.Load()

	// At most one sweep could have been mid-flight when the context fell.
	assert.LessOrEqual(t, after-before, int32(1))
}

func TestSessionMonitor_ContextCancellationClearsRunning(t *testing.T) {
	sweeper := &countingSweeper{}
	monitor := background.NewSessionMonitor(sweeper, testConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx)
	cancel()

	assert.Eventually(t, func() bool {
		return !monitor.IsRunning()
	}, time.Second, 5*time.Millisecond)

	// A fresh Start must be accepted once the cancelled loop has exited.
	monitor.Start(context.Background())
	assert.True(t, monitor.IsRunning())
	monitor.Stop()
}
