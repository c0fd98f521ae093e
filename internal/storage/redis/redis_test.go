package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/strakata/trailtracker/internal/config"
	"github.com/strakata/trailtracker/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Host:         mr.Addr(), // full "host:port", Port stays 0
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("open redis store: %v", err)
	}
	return store
}

func TestSessionStoreCurrentRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	if _, err := sessions.GetCurrent(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty store, got %v", err)
	}

	session := storage.TrackingSession{
		ID:            "session-a",
		SchemaVersion: storage.SchemaVersion,
		StartTime:     time.Now().UTC(),
		Active:        true,
		SyncStatus:    storage.SyncPending,
	}
	if err := sessions.PutCurrent(ctx, session); err != nil {
		t.Fatalf("put current session: %v", err)
	}

	loaded, err := sessions.GetCurrent(ctx)
	if err != nil {
		t.Fatalf("get current session: %v", err)
	}
	if loaded.ID != "session-a" || loaded.SyncStatus != storage.SyncPending {
		t.Fatalf("unexpected session: %+v", loaded)
	}

	if err := sessions.DeleteCurrent(ctx); err != nil {
		t.Fatalf("delete current session: %v", err)
	}
	if err := sessions.DeleteCurrent(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSessionStoreArchiveTrimsOldest(t *testing.T) {
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()

	for i := 0; i < 4; i++ {
		session := storage.TrackingSession{ID: fmt.Sprintf("session-%d", i)}
		if err := sessions.AppendCompleted(ctx, session, 2); err != nil {
			t.Fatalf("append completed: %v", err)
		}
	}

	archived, err := sessions.ListCompleted(ctx)
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(archived) != 2 {
		t.Fatalf("expected archive capped at 2, got %d", len(archived))
	}
	if archived[0].ID != "session-2" || archived[1].ID != "session-3" {
		t.Fatalf("expected newest sessions kept, got %s, %s", archived[0].ID, archived[1].ID)
	}
}

func TestQueueStoreFIFOAndDelete(t *testing.T) {
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	queue := store.Queue()

	for i := 0; i < 3; i++ {
		item := storage.QueueItem{
			ID:       fmt.Sprintf("item-%d", i),
			URL:      "https://api.example.com/visits",
			Method:   "POST",
			Body:     []byte(fmt.Sprintf("payload-%d", i)),
			QueuedAt: time.Now().UTC(),
		}
		if err := queue.Append(ctx, item); err != nil {
			t.Fatalf("append queue item: %v", err)
		}
	}

	items, err := queue.List(ctx)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(items) != 3 || items[0].ID != "item-0" || items[2].ID != "item-2" {
		t.Fatalf("unexpected queue order: %+v", items)
	}

	if err := queue.Delete(ctx, "item-1"); err != nil {
		t.Fatalf("delete queue item: %v", err)
	}

	remaining, err := queue.List(ctx)
	if err != nil {
		t.Fatalf("list queue after delete: %v", err)
	}
	if len(remaining) != 2 || remaining[0].ID != "item-0" || remaining[1].ID != "item-2" {
		t.Fatalf("delete disturbed relative order: %+v", remaining)
	}

	n, err := queue.Len(ctx)
	if err != nil {
		t.Fatalf("queue len: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected len 2, got %d", n)
	}
}

func TestCacheStoreNamespaceEviction(t *testing.T) {
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	caches := store.Caches()

	entry := storage.CacheEntry{
		URL:       "https://example.com/manifest.json",
		Status:    200,
		Body:      []byte("{}"),
		FetchedAt: time.Now().UTC(),
	}
	if err := caches.Put(ctx, "static-v3", entry); err != nil {
		t.Fatalf("put cache entry: %v", err)
	}

	got, err := caches.Get(ctx, "static-v3", entry.URL)
	if err != nil {
		t.Fatalf("get cache entry: %v", err)
	}
	if got.Status != 200 {
		t.Fatalf("unexpected status %d", got.Status)
	}

	names, err := caches.ListNamespaces(ctx)
	if err != nil {
		t.Fatalf("list namespaces: %v", err)
	}
	if len(names) != 1 || names[0] != "static-v3" {
		t.Fatalf("unexpected namespaces: %v", names)
	}

	if err := caches.DeleteNamespace(ctx, "static-v3"); err != nil {
		t.Fatalf("delete namespace: %v", err)
	}
	if _, err := caches.Get(ctx, "static-v3", entry.URL); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after eviction, got %v", err)
	}
}

func TestSettingsStoreRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	if _, err := store.Settings().Get(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty settings, got %v", err)
	}

	settings := storage.DefaultSettings()
	settings.WakeLockEnabled = false
	if err := store.Settings().Put(ctx, settings); err != nil {
		t.Fatalf("put settings: %v", err)
	}

	loaded, err := store.Settings().Get(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if loaded.WakeLockEnabled {
		t.Fatalf("expected wake lock disabled")
	}
}
