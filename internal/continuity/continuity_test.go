package continuity

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/strakata/trailtracker/internal/clock"
	"github.com/strakata/trailtracker/internal/session"
	"github.com/strakata/trailtracker/internal/storage"
	"github.com/strakata/trailtracker/internal/storage/bolt"
)

type fakeWakeLock struct {
	mu       sync.Mutex
	acquires int
	releases int
}

func (f *fakeWakeLock) Acquire(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	return nil
}

func (f *fakeWakeLock) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

func (f *fakeWakeLock) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires, f.releases
}

type fakePower struct {
	level    float64
	charging bool
	network  string
}

func (f *fakePower) Battery(context.Context) (float64, bool, error) {
	return f.level, f.charging, nil
}

func (f *fakePower) NetworkType(context.Context) (string, error) {
	return f.network, nil
}

func newTestManager(t *testing.T, lock WakeLock, power PowerMonitor, cfg Config) (*Manager, *session.Store) {
	t.Helper()

	backend, err := bolt.Open(filepath.Join(t.TempDir(), "trailtracker.bolt"))
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	clk := clock.NewTestClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	store := session.NewStore(backend.Sessions(), backend.Settings(), clk, zerolog.Nop())
	return NewManager(store, lock, power, clk, cfg, zerolog.Nop()), store
}

func TestWakeLockAcquiredOnStartReleasedOnStop(t *testing.T) {
	lock := &fakeWakeLock{}
	m, _ := newTestManager(t, lock, nil, Config{WakeLockEnabled: true, Hold: time.Minute, ReacquireInterval: time.Minute})

	m.TrackingStarted(context.Background())
	if !m.Held() {
		t.Fatalf("expected wake lock held after start")
	}

	// Starting twice must not double-acquire.
	m.TrackingStarted(context.Background())
	if acquires, _ := lock.counts(); acquires != 1 {
		t.Fatalf("expected a single acquisition, got %d", acquires)
	}

	m.TrackingStopped()
	if m.Held() {
		t.Fatalf("expected wake lock released after stop")
	}
	if _, releases := lock.counts(); releases != 1 {
		t.Fatalf("expected a single release, got %d", releases)
	}
}

func TestWakeLockDisabledNeverAcquires(t *testing.T) {
	lock := &fakeWakeLock{}
	m, _ := newTestManager(t, lock, nil, Config{WakeLockEnabled: false})

	m.TrackingStarted(context.Background())
	defer m.TrackingStopped()

	if acquires, _ := lock.counts(); acquires != 0 {
		t.Fatalf("expected no acquisition when disabled, got %d", acquires)
	}
}

func TestWakeLockAutoReleasesAndReacquires(t *testing.T) {
	lock := &fakeWakeLock{}
	m, _ := newTestManager(t, lock, nil, Config{
		WakeLockEnabled:   true,
		Hold:              20 * time.Millisecond,
		ReacquireInterval: 35 * time.Millisecond,
	})

	m.TrackingStarted(context.Background())
	defer m.TrackingStopped()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, releases := lock.counts(); releases >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, releases := lock.counts(); releases == 0 {
		t.Fatalf("expected auto-release after hold expired")
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if acquires, _ := lock.counts(); acquires >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected re-acquisition while tracking")
}

func TestOnForegroundResumesActiveSession(t *testing.T) {
	m, store := newTestManager(t, NopWakeLock{}, nil, Config{})

	if _, resume := m.OnForeground(context.Background()); resume {
		t.Fatalf("expected no resume with empty store")
	}

	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	if _, err := store.Save(context.Background(), storage.TrackingSession{ID: "s1", StartTime: start, Active: true}); err != nil {
		t.Fatalf("save: %v", err)
	}

	resumed, resume := m.OnForeground(context.Background())
	if !resume {
		t.Fatalf("expected resume for active session")
	}
	if resumed.ID != "s1" {
		t.Fatalf("unexpected session: %+v", resumed)
	}

	// Paused sessions hydrate state but do not resume sampling.
	if _, err := store.Save(context.Background(), storage.TrackingSession{ID: "s1", StartTime: start, Active: true, Paused: true}); err != nil {
		t.Fatalf("save paused: %v", err)
	}
	if _, resume := m.OnForeground(context.Background()); resume {
		t.Fatalf("expected no resume for paused session")
	}
}

func TestCheckAdvisories(t *testing.T) {
	power := &fakePower{level: 0.15, charging: false, network: "slow-2g"}
	m, _ := newTestManager(t, NopWakeLock{}, power, Config{LowBattery: 0.2})

	advisories := m.CheckAdvisories(context.Background())
	if len(advisories) != 2 {
		t.Fatalf("expected low battery and slow network advisories, got %+v", advisories)
	}

	power.charging = true
	power.network = "4g"
	if advisories := m.CheckAdvisories(context.Background()); len(advisories) != 0 {
		t.Fatalf("expected no advisories while charging on fast network, got %+v", advisories)
	}
}

func TestSnapshotFillsMetadata(t *testing.T) {
	power := &fakePower{level: 0.8, charging: true, network: "wifi"}
	m, _ := newTestManager(t, NopWakeLock{}, power, Config{})

	var meta storage.SessionMetadata
	m.Snapshot(context.Background(), &meta)

	if meta.BatteryLevel == nil || *meta.BatteryLevel != 0.8 {
		t.Fatalf("expected battery level snapshot, got %+v", meta.BatteryLevel)
	}
	if meta.Charging == nil || !*meta.Charging {
		t.Fatalf("expected charging snapshot")
	}
	if meta.NetworkType != "wifi" {
		t.Fatalf("expected network type snapshot, got %q", meta.NetworkType)
	}
}
