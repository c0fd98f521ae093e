package storage

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SchemaVersion is the current on-disk session schema version. Loaders
// migrate older records forward, see session.Migrate.
const SchemaVersion = "3"

// SyncStatus represents the sync state of a tracking session.
type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncFailed  SyncStatus = "FAILED"
)

// UnmarshalJSON implements json.Unmarshaler to normalize status to uppercase.
// Legacy records stored lowercase values.
func (s *SyncStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	normalized := SyncStatus(strings.ToUpper(raw))
	switch normalized {
	case SyncPending, SyncSynced, SyncFailed:
		*s = normalized
		return nil
	case "":
		*s = SyncPending
		return nil
	default:
		return fmt.Errorf("invalid sync status: %s (must be PENDING, SYNCED, or FAILED)", raw)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (s SyncStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// PositionSample is a single accepted GPS fix. Immutable once created.
type PositionSample struct {
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Altitude     *float64  `json:"altitude,omitempty"`
	Accuracy     float64   `json:"accuracy"`
	Speed        *float64  `json:"speed,omitempty"` // m/s, as reported by the platform
	Heading      *float64  `json:"heading,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	BatteryLevel *float64  `json:"battery_level,omitempty"`
	Charging     *bool     `json:"is_charging,omitempty"`
}

// SessionMetadata carries opaque device info plus advisory snapshots taken
// at session start and on save.
type SessionMetadata struct {
	Device       string          `json:"device,omitempty"`
	BatteryLevel *float64        `json:"battery_level,omitempty"`
	Charging     *bool           `json:"is_charging,omitempty"`
	NetworkType  string          `json:"network_type,omitempty"`
	Weather      json.RawMessage `json:"weather,omitempty"`
}

// TrackingSession is the aggregate root of the tracking pipeline. Exactly
// one session is current per device; completed sessions move to the archive.
type TrackingSession struct {
	ID            string     `json:"id"`
	SchemaVersion string     `json:"schema_version"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`

	Positions []PositionSample `json:"positions"`

	TotalDistanceKm  float64 `json:"total_distance_km"`
	TotalTimeSeconds int64   `json:"total_time_seconds"`
	AverageSpeedKmh  float64 `json:"average_speed_kmh"`
	MaxSpeedKmh      float64 `json:"max_speed_kmh"`
	TotalAscentM     float64 `json:"total_ascent_m"`
	TotalDescentM    float64 `json:"total_descent_m"`

	Active             bool       `json:"is_active"`
	Paused             bool       `json:"is_paused"`
	PauseDurationMs    int64      `json:"pause_duration_ms"`
	LastPauseStartedAt *time.Time `json:"last_pause_started_at,omitempty"`

	// LastUpdate is the write stamp used for last-write-wins merging when a
	// resumed process re-hydrates from storage.
	LastUpdate time.Time `json:"last_update"`

	Metadata   SessionMetadata `json:"metadata"`
	SyncStatus SyncStatus      `json:"sync_status"`
}

// QueueItem is a mutating request captured while offline, replayed FIFO on
// the next sync trigger. Headers keep every value per key so the replayed
// request matches the original exactly.
type QueueItem struct {
	ID       string      `json:"id"`
	URL      string      `json:"url"`
	Method   string      `json:"method"`
	Headers  http.Header `json:"headers,omitempty"`
	Body     []byte      `json:"body,omitempty"`
	QueuedAt time.Time   `json:"queued_at"`
}

// CacheEntry is a cached HTTP response, keyed by request URL within a
// namespace.
type CacheEntry struct {
	URL       string      `json:"url"`
	Status    int         `json:"status"`
	Headers   http.Header `json:"headers,omitempty"`
	Body      []byte      `json:"body"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// Settings are the persisted user tracking settings. Field names mirror the
// legacy gpsTrackerSettings record.
type Settings struct {
	HighAccuracy       bool    `json:"high_accuracy"`
	MinDistanceM       float64 `json:"min_distance_m"`
	MinAccuracyM       float64 `json:"min_accuracy_m"`
	MinIntervalMs      int64   `json:"min_interval_ms"`
	MaxSampleAgeMs     int64   `json:"max_sample_age_ms"`
	TimeoutMs          int64   `json:"timeout_ms"`
	WakeLockEnabled    bool    `json:"wake_lock_enabled"`
	MaxOfflineSessions int     `json:"max_offline_sessions"`
	MaxDisplayPoints   int     `json:"max_display_points"`
}

// DefaultSettings returns the settings applied when no record exists or a
// legacy record leaves fields unset.
func DefaultSettings() Settings {
	return Settings{
		HighAccuracy:       true,
		MinDistanceM:       10,
		MinAccuracyM:       50,
		MinIntervalMs:      5000,
		MaxSampleAgeMs:     10000,
		TimeoutMs:          10000,
		WakeLockEnabled:    true,
		MaxOfflineSessions: 50,
		MaxDisplayPoints:   1000,
	}
}
