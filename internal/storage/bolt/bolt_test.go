package bolt

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/strakata/trailtracker/internal/storage"
)

func TestSessionStoreCurrentRoundTrip(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	sessions := store.Sessions()

	if _, err := sessions.GetCurrent(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty store, got %v", err)
	}

	session := storage.TrackingSession{
		ID:            "session-a",
		SchemaVersion: storage.SchemaVersion,
		StartTime:     time.Now().UTC(),
		Active:        true,
		SyncStatus:    storage.SyncPending,
	}
	if err := sessions.PutCurrent(context.Background(), session); err != nil {
		t.Fatalf("put current session: %v", err)
	}

	loaded, err := sessions.GetCurrent(context.Background())
	if err != nil {
		t.Fatalf("get current session: %v", err)
	}
	if loaded.ID != "session-a" || !loaded.Active {
		t.Fatalf("unexpected session: %+v", loaded)
	}

	if err := sessions.DeleteCurrent(context.Background()); err != nil {
		t.Fatalf("delete current session: %v", err)
	}
	if _, err := sessions.GetCurrent(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSessionStoreArchiveEvictsOldestFirst(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	sessions := store.Sessions()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		end := base.Add(time.Duration(i) * time.Hour)
		session := storage.TrackingSession{
			ID:         fmt.Sprintf("session-%d", i),
			EndTime:    &end,
			LastUpdate: end,
		}
		if err := sessions.AppendCompleted(context.Background(), session, 3); err != nil {
			t.Fatalf("append completed: %v", err)
		}
	}

	archived, err := sessions.ListCompleted(context.Background())
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(archived) != 3 {
		t.Fatalf("expected 3 archived sessions, got %d", len(archived))
	}
	if archived[0].ID != "session-2" || archived[2].ID != "session-4" {
		t.Fatalf("expected oldest sessions evicted, got %s..%s", archived[0].ID, archived[2].ID)
	}
}

func TestSessionStoreArchiveEvictsDownToCap(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	sessions := store.Sessions()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	// Grow the archive unbounded, then append with a cap that requires
	// evicting several entries within one transaction.
	for i := 0; i < 5; i++ {
		end := base.Add(time.Duration(i) * time.Hour)
		session := storage.TrackingSession{
			ID:         fmt.Sprintf("session-%d", i),
			EndTime:    &end,
			LastUpdate: end,
		}
		if err := sessions.AppendCompleted(context.Background(), session, 0); err != nil {
			t.Fatalf("append completed: %v", err)
		}
	}

	end := base.Add(5 * time.Hour)
	latest := storage.TrackingSession{ID: "session-5", EndTime: &end, LastUpdate: end}
	if err := sessions.AppendCompleted(context.Background(), latest, 2); err != nil {
		t.Fatalf("append completed with cap: %v", err)
	}

	archived, err := sessions.ListCompleted(context.Background())
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(archived) != 2 {
		t.Fatalf("expected archive trimmed to 2, got %d", len(archived))
	}
	if archived[0].ID != "session-4" || archived[1].ID != "session-5" {
		t.Fatalf("expected the newest sessions kept, got %s, %s", archived[0].ID, archived[1].ID)
	}
}

func TestQueueStoreFIFOOrder(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	queue := store.Queue()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		item := storage.QueueItem{
			ID:       fmt.Sprintf("%020d-item-%d", base.Add(time.Duration(i)*time.Second).UnixNano(), i),
			URL:      "https://api.example.com/visits",
			Method:   "POST",
			QueuedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := queue.Append(context.Background(), item); err != nil {
			t.Fatalf("append queue item: %v", err)
		}
	}

	items, err := queue.List(context.Background())
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 queued items, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].QueuedAt.Before(items[i-1].QueuedAt) {
			t.Fatalf("queue out of order at index %d", i)
		}
	}

	if err := queue.Delete(context.Background(), items[1].ID); err != nil {
		t.Fatalf("delete queue item: %v", err)
	}
	remaining, err := queue.List(context.Background())
	if err != nil {
		t.Fatalf("list queue after delete: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining items, got %d", len(remaining))
	}
	if remaining[0].ID != items[0].ID || remaining[1].ID != items[2].ID {
		t.Fatalf("delete disturbed relative order")
	}

	n, err := queue.Len(context.Background())
	if err != nil {
		t.Fatalf("queue len: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected len 2, got %d", n)
	}
}

func TestCacheStoreNamespaces(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	caches := store.Caches()

	entry := storage.CacheEntry{
		URL:       "https://tiles.example.com/12/2200/1343.png",
		Status:    200,
		Body:      []byte("tile-bytes"),
		FetchedAt: time.Now().UTC(),
	}
	if err := caches.Put(context.Background(), "gps-v3", entry); err != nil {
		t.Fatalf("put cache entry: %v", err)
	}

	got, err := caches.Get(context.Background(), "gps-v3", entry.URL)
	if err != nil {
		t.Fatalf("get cache entry: %v", err)
	}
	if string(got.Body) != "tile-bytes" {
		t.Fatalf("unexpected cache body: %q", got.Body)
	}

	if _, err := caches.Get(context.Background(), "gps-v3", "https://tiles.example.com/missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cache miss, got %v", err)
	}

	count, err := caches.Count(context.Background(), "gps-v3")
	if err != nil {
		t.Fatalf("count cache entries: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 entry, got %d", count)
	}

	names, err := caches.ListNamespaces(context.Background())
	if err != nil {
		t.Fatalf("list namespaces: %v", err)
	}
	if len(names) != 1 || names[0] != "gps-v3" {
		t.Fatalf("unexpected namespaces: %v", names)
	}

	if err := caches.DeleteNamespace(context.Background(), "gps-v3"); err != nil {
		t.Fatalf("delete namespace: %v", err)
	}
	if _, err := caches.Get(context.Background(), "gps-v3", entry.URL); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after namespace delete, got %v", err)
	}
}

func TestSettingsStoreDefaultsAbsent(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	if _, err := store.Settings().Get(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty settings, got %v", err)
	}

	settings := storage.DefaultSettings()
	settings.MinDistanceM = 25
	if err := store.Settings().Put(context.Background(), settings); err != nil {
		t.Fatalf("put settings: %v", err)
	}

	loaded, err := store.Settings().Get(context.Background())
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if loaded.MinDistanceM != 25 {
		t.Fatalf("expected min distance 25, got %v", loaded.MinDistanceM)
	}
}

func TestSessionStoreLastSync(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	sessions := store.Sessions()
	if _, err := sessions.GetLastSync(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first sync, got %v", err)
	}

	stamp := time.Date(2026, 5, 2, 10, 30, 0, 0, time.UTC)
	if err := sessions.SetLastSync(context.Background(), stamp); err != nil {
		t.Fatalf("set last sync: %v", err)
	}

	loaded, err := sessions.GetLastSync(context.Background())
	if err != nil {
		t.Fatalf("get last sync: %v", err)
	}
	if !loaded.Equal(stamp) {
		t.Fatalf("expected %v, got %v", stamp, loaded)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "trailtracker.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
