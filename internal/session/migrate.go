package session

import "github.com/strakata/trailtracker/internal/storage"

// Migrate normalizes a stored session to the current schema. Legacy records
// never fail to load: a record with no schema version gets every optional
// field defaulted. Migration is idempotent, running it twice yields the
// same result.
//
// Version history:
//
//	""  pre-versioned records: no pause bookkeeping, no sync status
//	"1" added pause fields, sync status stored lowercase
//	"2" added metadata snapshot
//	"3" current
func Migrate(raw storage.TrackingSession) storage.TrackingSession {
	session := raw

	if session.Positions == nil {
		session.Positions = []storage.PositionSample{}
	}

	if session.SyncStatus == "" {
		session.SyncStatus = storage.SyncPending
	}

	if session.LastUpdate.IsZero() {
		session.LastUpdate = session.StartTime
	}

	// A record that carries an end time can never be active; pre-versioned
	// records stored both flags independently.
	if session.EndTime != nil {
		session.Active = false
		session.Paused = false
		session.LastPauseStartedAt = nil
	}

	// A pause marker without the paused flag is a torn legacy write; drop
	// the marker rather than resurrect the pause.
	if !session.Paused {
		session.LastPauseStartedAt = nil
	}

	if session.PauseDurationMs < 0 {
		session.PauseDurationMs = 0
	}

	session.SchemaVersion = storage.SchemaVersion
	return session
}
