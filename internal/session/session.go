package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/strakata/trailtracker/internal/clock"
	"github.com/strakata/trailtracker/internal/metrics"
	"github.com/strakata/trailtracker/internal/storage"
)

// Store persists the current tracking session and the completed-session
// archive. It exclusively owns session durability: the UI layer only ever
// reads snapshots and issues commands, every mutation lands here.
//
// Concurrency model is single-device last-write-wins keyed by LastUpdate.
// True multi-device concurrent tracking is unsupported.
type Store struct {
	sessions storage.SessionStore
	settings storage.SettingsStore
	clk      clock.Clock
	logger   zerolog.Logger
}

// NewStore creates a session store over the given backend.
func NewStore(sessions storage.SessionStore, settings storage.SettingsStore, clk clock.Clock, logger zerolog.Logger) *Store {
	return &Store{
		sessions: sessions,
		settings: settings,
		clk:      clk,
		logger:   logger.With().Str("component", "session").Logger(),
	}
}

// Load returns the current session, migrating older schema versions
// transparently. Returns storage.ErrNotFound when no session exists.
func (s *Store) Load(ctx context.Context) (*storage.TrackingSession, error) {
	raw, err := s.sessions.GetCurrent(ctx)
	if err != nil {
		return nil, err
	}

	migrated := Migrate(*raw)
	if migrated.SchemaVersion != raw.SchemaVersion {
		s.logger.Info().
			Str("session_id", migrated.ID).
			Str("from", raw.SchemaVersion).
			Str("to", migrated.SchemaVersion).
			Msg("Migrated stored session")
	}
	return &migrated, nil
}

// Save persists the session, stamping LastUpdate. A stored session with a
// newer LastUpdate wins and the incoming write is dropped; the caller gets
// the surviving state back.
func (s *Store) Save(ctx context.Context, session storage.TrackingSession) (storage.TrackingSession, error) {
	existing, err := s.sessions.GetCurrent(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		metrics.PersistenceErrors.Inc()
		return session, fmt.Errorf("load existing session: %w", err)
	}
	if existing != nil && existing.ID == session.ID && existing.LastUpdate.After(session.LastUpdate) {
		s.logger.Debug().
			Str("session_id", session.ID).
			Time("stored", existing.LastUpdate).
			Time("incoming", session.LastUpdate).
			Msg("Stored session is newer, keeping it")
		migrated := Migrate(*existing)
		return migrated, nil
	}

	session.LastUpdate = s.clk.Now()
	if session.SchemaVersion == "" {
		session.SchemaVersion = storage.SchemaVersion
	}
	if err := s.sessions.PutCurrent(ctx, session); err != nil {
		// The in-memory session stays authoritative for this run; the
		// write is not retried.
		metrics.PersistenceErrors.Inc()
		s.logger.Error().Err(err).Str("session_id", session.ID).Msg("Failed to persist session")
		return session, fmt.Errorf("persist session: %w", err)
	}
	return session, nil
}

// Clear removes the current session.
func (s *Store) Clear(ctx context.Context) error {
	err := s.sessions.DeleteCurrent(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// Complete archives a finished session and clears the current slot. The
// archive is FIFO-capped at max entries.
func (s *Store) Complete(ctx context.Context, session storage.TrackingSession, max int) error {
	if session.Active {
		return fmt.Errorf("session %s is still active", session.ID)
	}
	if err := s.sessions.AppendCompleted(ctx, session, max); err != nil {
		metrics.PersistenceErrors.Inc()
		return fmt.Errorf("archive session: %w", err)
	}
	if err := s.Clear(ctx); err != nil {
		return err
	}

	metrics.SessionsCompleted.Inc()
	s.logger.Info().
		Str("session_id", session.ID).
		Float64("distance_km", session.TotalDistanceKm).
		Msg("Session archived")
	return nil
}

// ListCompleted returns the archived sessions, oldest first.
func (s *Store) ListCompleted(ctx context.Context) ([]storage.TrackingSession, error) {
	return s.sessions.ListCompleted(ctx)
}

// LoadSettings returns persisted tracking settings with defaults filled in
// for anything a legacy record left unset.
func (s *Store) LoadSettings(ctx context.Context) (storage.Settings, error) {
	defaults := storage.DefaultSettings()

	stored, err := s.settings.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return defaults, nil
	}
	if err != nil {
		return defaults, err
	}

	merged := *stored
	if merged.MinDistanceM == 0 {
		merged.MinDistanceM = defaults.MinDistanceM
	}
	if merged.MinAccuracyM == 0 {
		merged.MinAccuracyM = defaults.MinAccuracyM
	}
	if merged.MinIntervalMs == 0 {
		merged.MinIntervalMs = defaults.MinIntervalMs
	}
	if merged.MaxSampleAgeMs == 0 {
		merged.MaxSampleAgeMs = defaults.MaxSampleAgeMs
	}
	if merged.TimeoutMs == 0 {
		merged.TimeoutMs = defaults.TimeoutMs
	}
	if merged.MaxOfflineSessions == 0 {
		merged.MaxOfflineSessions = defaults.MaxOfflineSessions
	}
	if merged.MaxDisplayPoints == 0 {
		merged.MaxDisplayPoints = defaults.MaxDisplayPoints
	}
	return merged, nil
}

// SaveSettings persists tracking settings.
func (s *Store) SaveSettings(ctx context.Context, settings storage.Settings) error {
	return s.settings.Put(ctx, settings)
}
