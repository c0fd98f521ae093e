// Package continuity keeps tracking alive across foreground/background
// transitions.
//
// Background policy: the daemon is a long-lived process, so the position
// watch stays armed while the UI is backgrounded; nothing here re-arms the
// sampler. On return to foreground the manager re-hydrates consumers from
// the persisted session instead of restarting tracking from scratch. If the
// OS suspends the whole process the watch is lost anyway; the session
// store's last-write-wins merge makes the subsequent resume safe.
package continuity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/strakata/trailtracker/internal/clock"
	"github.com/strakata/trailtracker/internal/metrics"
	"github.com/strakata/trailtracker/internal/session"
	"github.com/strakata/trailtracker/internal/storage"
)

// WakeLock abstracts the platform primitive keeping the screen/device awake.
type WakeLock interface {
	Acquire(ctx context.Context) error
	Release() error
}

// NopWakeLock is used where no platform wake lock exists.
type NopWakeLock struct{}

func (NopWakeLock) Acquire(context.Context) error { return nil }
func (NopWakeLock) Release() error                { return nil }

// PowerMonitor exposes battery and network introspection. Readings feed
// advisory warnings only and never block tracking.
type PowerMonitor interface {
	Battery(ctx context.Context) (level float64, charging bool, err error)
	NetworkType(ctx context.Context) (string, error)
}

// Advisory is a user-facing warning raised by the manager.
type Advisory struct {
	Kind    string `json:"kind"` // "low_battery", "slow_network"
	Message string `json:"message"`
}

// Config holds wake lock discipline settings.
type Config struct {
	WakeLockEnabled   bool
	Hold              time.Duration // auto-release after this long
	ReacquireInterval time.Duration // periodic re-acquisition while tracking
	LowBattery        float64       // advisory threshold, fraction 0..1
}

// Manager coordinates wake lock discipline, foreground resume and advisory
// power/network warnings.
type Manager struct {
	store    *session.Store
	wakeLock WakeLock
	power    PowerMonitor
	clk      clock.Clock
	cfg      Config
	logger   zerolog.Logger

	mu       sync.Mutex
	tracking bool
	held     bool
	loopStop chan struct{}
}

// NewManager creates a continuity manager.
func NewManager(store *session.Store, wakeLock WakeLock, power PowerMonitor, clk clock.Clock, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.Hold <= 0 {
		cfg.Hold = 30 * time.Second
	}
	if cfg.ReacquireInterval <= 0 {
		cfg.ReacquireInterval = 25 * time.Second
	}
	if cfg.LowBattery <= 0 {
		cfg.LowBattery = 0.2
	}
	return &Manager{
		store:    store,
		wakeLock: wakeLock,
		power:    power,
		clk:      clk,
		cfg:      cfg,
		logger:   logger.With().Str("component", "continuity").Logger(),
	}
}

// TrackingStarted acquires the wake lock (when enabled) and starts the
// hold/re-acquire loop. The lock is never held indefinitely: it auto-releases
// after the configured hold and is re-acquired periodically instead, bounding
// battery drain if the loop ever dies.
func (m *Manager) TrackingStarted(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tracking {
		return
	}
	m.tracking = true

	if !m.cfg.WakeLockEnabled {
		return
	}

	m.acquireLocked(ctx)
	m.loopStop = make(chan struct{})
	go m.holdLoop(m.loopStop)
}

// TrackingStopped releases the wake lock and stops the loop.
func (m *Manager) TrackingStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tracking {
		return
	}
	m.tracking = false

	if m.loopStop != nil {
		close(m.loopStop)
		m.loopStop = nil
	}
	m.releaseLocked()
}

// Held reports whether the wake lock is currently held.
func (m *Manager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// OnForeground reconciles UI state with the session store after a
// background-to-foreground transition. When the stored session is active and
// not paused the caller should resume rendering from it rather than starting
// a new session.
func (m *Manager) OnForeground(ctx context.Context) (*storage.TrackingSession, bool) {
	stored, err := m.store.Load(ctx)
	if err != nil {
		return nil, false
	}
	if !stored.Active || stored.Paused {
		return stored, false
	}

	m.logger.Info().
		Str("session_id", stored.ID).
		Time("last_update", stored.LastUpdate).
		Msg("Resuming tracking session on foreground")
	return stored, true
}

// CheckAdvisories samples battery and network state and returns warnings.
// Failures to read either are silently skipped; advisories are best-effort.
func (m *Manager) CheckAdvisories(ctx context.Context) []Advisory {
	if m.power == nil {
		return nil
	}

	var advisories []Advisory

	if level, charging, err := m.power.Battery(ctx); err == nil {
		if level < m.cfg.LowBattery && !charging {
			advisories = append(advisories, Advisory{
				Kind:    "low_battery",
				Message: "Battery is low, tracking may stop if the device shuts down",
			})
		}
	}

	if network, err := m.power.NetworkType(ctx); err == nil {
		if network == "2g" || network == "slow-2g" {
			advisories = append(advisories, Advisory{
				Kind:    "slow_network",
				Message: "Slow network, sync will be delayed until connectivity improves",
			})
		}
	}

	return advisories
}

// Snapshot reads battery/network state into session metadata. Best effort.
func (m *Manager) Snapshot(ctx context.Context, meta *storage.SessionMetadata) {
	if m.power == nil {
		return
	}
	if level, charging, err := m.power.Battery(ctx); err == nil {
		meta.BatteryLevel = &level
		meta.Charging = &charging
	}
	if network, err := m.power.NetworkType(ctx); err == nil {
		meta.NetworkType = network
	}
}

func (m *Manager) holdLoop(stop chan struct{}) {
	holdTimer := time.NewTimer(m.cfg.Hold)
	reacquire := time.NewTicker(m.cfg.ReacquireInterval)
	defer holdTimer.Stop()
	defer reacquire.Stop()

	for {
		select {
		case <-stop:
			return

		case <-holdTimer.C:
			m.mu.Lock()
			m.releaseLocked()
			m.mu.Unlock()

		case <-reacquire.C:
			m.mu.Lock()
			if m.tracking {
				m.acquireLocked(context.Background())
				holdTimer.Reset(m.cfg.Hold)
			}
			m.mu.Unlock()
		}
	}
}

func (m *Manager) acquireLocked(ctx context.Context) {
	if m.held {
		return
	}
	if err := m.wakeLock.Acquire(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to acquire wake lock")
		return
	}
	m.held = true
	metrics.WakeLockAcquisitions.Inc()
	m.logger.Debug().Dur("hold", m.cfg.Hold).Msg("Wake lock acquired")
}

func (m *Manager) releaseLocked() {
	if !m.held {
		return
	}
	if err := m.wakeLock.Release(); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to release wake lock")
	}
	m.held = false
	m.logger.Debug().Msg("Wake lock released")
}
