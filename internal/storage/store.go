package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Well-known keys carried over from the legacy client storage layout.
// Backends map them onto buckets or key prefixes but keep the names so a
// store written by an older build remains readable.
const (
	KeyCurrentSession = "currentTrackingSession"
	KeyOfflineQueue   = "offlineSyncQueue"
	KeySettings       = "gpsTrackerSettings"
	KeyLastSync       = "lastSyncTimestamp"
)

// Store represents the root storage interface. One store instance backs the
// whole daemon: the active session, the completed-session archive, the
// offline request queue, response caches and user settings.
type Store interface {
	Close() error
	Sessions() SessionStore
	Queue() QueueStore
	Caches() CacheStore
	Settings() SettingsStore
}

// SessionStore persists the single current tracking session and the capped
// archive of completed sessions awaiting sync.
type SessionStore interface {
	GetCurrent(ctx context.Context) (*TrackingSession, error)
	PutCurrent(ctx context.Context, session TrackingSession) error
	DeleteCurrent(ctx context.Context) error

	// AppendCompleted adds a finished session to the archive. When the
	// archive exceeds max entries the oldest are evicted first (FIFO —
	// every archived session is equally pending sync, so recency carries
	// no meaning).
	AppendCompleted(ctx context.Context, session TrackingSession, max int) error
	ListCompleted(ctx context.Context) ([]TrackingSession, error)
	DeleteCompleted(ctx context.Context, id string) error

	GetLastSync(ctx context.Context) (time.Time, error)
	SetLastSync(ctx context.Context, t time.Time) error
}

// QueueStore is the durable FIFO queue of mutating requests that failed due
// to connectivity. Items survive process restarts.
type QueueStore interface {
	Append(ctx context.Context, item QueueItem) error
	// List returns all queued items in original enqueue order.
	List(ctx context.Context) ([]QueueItem, error)
	Delete(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
}

// CacheStore holds cached responses in named namespaces. Namespaces carry
// the cache version in their name; version bumps evict whole namespaces,
// entries are never migrated in place.
type CacheStore interface {
	Put(ctx context.Context, namespace string, entry CacheEntry) error
	Get(ctx context.Context, namespace, url string) (*CacheEntry, error)
	Count(ctx context.Context, namespace string) (int, error)
	ListNamespaces(ctx context.Context) ([]string, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}

// SettingsStore persists user tracking settings.
type SettingsStore interface {
	Get(ctx context.Context) (*Settings, error)
	Put(ctx context.Context, settings Settings) error
}
