package track

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/strakata/trailtracker/internal/clock"
	"github.com/strakata/trailtracker/internal/geo"
	"github.com/strakata/trailtracker/internal/metrics"
	"github.com/strakata/trailtracker/internal/storage"
)

// DefaultMaxDisplayPoints caps the rendering copy of a track.
const DefaultMaxDisplayPoints = 1000

// Accumulator owns the current tracking session and keeps its derived
// metrics consistent. All aggregates update incrementally, O(1) per sample;
// the total is never recomputed from the full polyline.
type Accumulator struct {
	clk    clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	session storage.TrackingSession
}

// New creates an accumulator with no active session.
func New(clk clock.Clock, logger zerolog.Logger) *Accumulator {
	return &Accumulator{
		clk:    clk,
		logger: logger.With().Str("component", "track").Logger(),
	}
}

// StartNew begins a fresh session and returns its initial state.
func (a *Accumulator) StartNew(metadata storage.SessionMetadata) storage.TrackingSession {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clk.Now()
	a.session = storage.TrackingSession{
		ID:            uuid.NewString(),
		SchemaVersion: storage.SchemaVersion,
		StartTime:     now,
		Positions:     []storage.PositionSample{},
		Active:        true,
		Metadata:      metadata,
		SyncStatus:    storage.SyncPending,
		LastUpdate:    now,
	}

	a.logger.Info().Str("session_id", a.session.ID).Msg("Started tracking session")
	return a.session
}

// LoadFrom re-hydrates the accumulator from a persisted session, e.g. after
// a process restart while tracking was active.
func (a *Accumulator) LoadFrom(session storage.TrackingSession) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = session
}

// Accept folds a sample into the running aggregates. Samples arriving while
// no session is active, or while paused, are discarded: elapsed time is
// frozen during a pause and accepting distance would corrupt the averages.
func (a *Accumulator) Accept(sample storage.PositionSample) (storage.TrackingSession, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.session.Active || a.session.Paused {
		return a.session, false
	}

	if n := len(a.session.Positions); n > 0 {
		last := a.session.Positions[n-1]

		deltaKm := geo.HaversineKm(last.Latitude, last.Longitude, sample.Latitude, sample.Longitude)
		a.session.TotalDistanceKm += deltaKm
		metrics.DistanceKm.Add(deltaKm)

		if last.Altitude != nil && sample.Altitude != nil {
			deltaAlt := *sample.Altitude - *last.Altitude
			if deltaAlt > 0 {
				a.session.TotalAscentM += deltaAlt
			} else {
				a.session.TotalDescentM += -deltaAlt
			}
		}
	}

	if sample.Speed != nil {
		speedKmh := *sample.Speed * 3.6
		if speedKmh > a.session.MaxSpeedKmh {
			a.session.MaxSpeedKmh = speedKmh
		}
	}

	a.session.Positions = append(a.session.Positions, sample)
	a.refreshTimeLocked()

	return a.session, true
}

// Pause freezes elapsed-time accumulation without discarding positions.
func (a *Accumulator) Pause() storage.TrackingSession {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.session.Active || a.session.Paused {
		return a.session
	}
	now := a.clk.Now()
	a.session.Paused = true
	a.session.LastPauseStartedAt = &now
	a.refreshTimeLocked()
	a.logger.Info().Str("session_id", a.session.ID).Msg("Tracking paused")
	return a.session
}

// Resume ends a pause, folding its duration into the accumulated pause time.
func (a *Accumulator) Resume() storage.TrackingSession {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.session.Active || !a.session.Paused {
		return a.session
	}
	now := a.clk.Now()
	if a.session.LastPauseStartedAt != nil {
		a.session.PauseDurationMs += now.Sub(*a.session.LastPauseStartedAt).Milliseconds()
	}
	a.session.Paused = false
	a.session.LastPauseStartedAt = nil
	a.refreshTimeLocked()
	a.logger.Info().Str("session_id", a.session.ID).Msg("Tracking resumed")
	return a.session
}

// Stop ends the session. The session stays loaded for archiving.
func (a *Accumulator) Stop() storage.TrackingSession {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.session.Active {
		return a.session
	}

	// A stop during a pause folds the open pause in first.
	now := a.clk.Now()
	if a.session.Paused && a.session.LastPauseStartedAt != nil {
		a.session.PauseDurationMs += now.Sub(*a.session.LastPauseStartedAt).Milliseconds()
		a.session.Paused = false
		a.session.LastPauseStartedAt = nil
	}
	a.session.Active = false
	a.session.EndTime = &now
	a.refreshTimeLocked()

	a.logger.Info().
		Str("session_id", a.session.ID).
		Float64("distance_km", a.session.TotalDistanceKm).
		Int64("time_seconds", a.session.TotalTimeSeconds).
		Msg("Tracking stopped")
	return a.session
}

// Reset zeroes all aggregates and clears the position list.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = storage.TrackingSession{}
	a.logger.Info().Msg("Tracking session reset")
}

// Snapshot returns a copy of the session with time-derived fields current.
func (a *Accumulator) Snapshot() storage.TrackingSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshTimeLocked()
	return a.session
}

// Elapsed returns net elapsed time, excluding pauses. It freezes while
// paused and never decreases while a session runs.
func (a *Accumulator) Elapsed() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.elapsedLocked()
}

func (a *Accumulator) elapsedLocked() time.Duration {
	if a.session.StartTime.IsZero() {
		return 0
	}

	end := a.clk.Now()
	if a.session.EndTime != nil {
		end = *a.session.EndTime
	} else if a.session.Paused && a.session.LastPauseStartedAt != nil {
		end = *a.session.LastPauseStartedAt
	}

	elapsed := end.Sub(a.session.StartTime) - time.Duration(a.session.PauseDurationMs)*time.Millisecond
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// refreshTimeLocked recomputes the time-derived aggregates and stamps
// LastUpdate.
func (a *Accumulator) refreshTimeLocked() {
	elapsed := a.elapsedLocked()
	a.session.TotalTimeSeconds = int64(elapsed.Seconds())
	if hours := elapsed.Hours(); hours > 0 {
		a.session.AverageSpeedKmh = a.session.TotalDistanceKm / hours
	}
	a.session.LastUpdate = a.clk.Now()
}

// Downsample returns a rendering copy of points with at most max entries.
// The first and last points are always kept and the middle is stride-sampled
// evenly. The input is never modified.
func Downsample(points []storage.PositionSample, max int) []storage.PositionSample {
	if max < 2 || len(points) <= max {
		out := make([]storage.PositionSample, len(points))
		copy(out, points)
		return out
	}

	out := make([]storage.PositionSample, 0, max)
	out = append(out, points[0])

	// Stride the interior so first+interior+last fits the cap.
	interior := len(points) - 2
	keep := max - 2
	for i := 0; i < keep; i++ {
		idx := 1 + i*interior/keep
		out = append(out, points[idx])
	}

	out = append(out, points[len(points)-1])
	return out
}
