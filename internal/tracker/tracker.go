// Package tracker ties the pipeline together: filtered position samples
// flow from the sampler into the track accumulator, every update is
// persisted through the session store, and lifecycle events drive the
// continuity manager and sync.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/strakata/trailtracker/internal/clock"
	"github.com/strakata/trailtracker/internal/continuity"
	"github.com/strakata/trailtracker/internal/metrics"
	"github.com/strakata/trailtracker/internal/offline"
	"github.com/strakata/trailtracker/internal/sampler"
	"github.com/strakata/trailtracker/internal/session"
	"github.com/strakata/trailtracker/internal/storage"
	"github.com/strakata/trailtracker/internal/track"
)

var (
	ErrNotTracking     = errors.New("tracker: no active session")
	ErrAlreadyTracking = errors.New("tracker: session already active")
)

// Status is the tracking snapshot served to the UI. Positions are
// downsampled for display; the persisted session keeps every sample.
type Status struct {
	Tracking       bool                     `json:"tracking"`
	Session        *storage.TrackingSession `json:"session,omitempty"`
	ElapsedSeconds int64                    `json:"elapsedSeconds"`
	Positions      []storage.PositionSample `json:"positions,omitempty"`
	Advisories     []continuity.Advisory    `json:"advisories,omitempty"`
}

// Tracker owns the tracking lifecycle.
type Tracker struct {
	baseCtx    context.Context
	source     *sampler.PushSource
	sessions   *session.Store
	continuity *continuity.Manager
	syncer     *offline.Syncer
	clk        clock.Clock
	logger     zerolog.Logger

	mu       sync.Mutex
	sampler  *sampler.Sampler
	track    *track.Accumulator
	settings storage.Settings
	lastErr  error
}

// New creates a tracker. ctx bounds every position watch the tracker
// starts: pass the daemon context, not a per-call context, so the watch
// survives the request that started it and ends only on Stop, Reset or
// daemon shutdown. The push source is shared with the control API, which
// feeds raw fixes into it.
func New(ctx context.Context, source *sampler.PushSource, sessions *session.Store, cm *continuity.Manager, syncer *offline.Syncer, clk clock.Clock, logger zerolog.Logger) *Tracker {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Tracker{
		baseCtx:    ctx,
		source:     source,
		sessions:   sessions,
		continuity: cm,
		syncer:     syncer,
		clk:        clk,
		logger:     logger.With().Str("component", "tracker").Logger(),
		track:      track.New(clk, logger),
	}
}

// Start begins a new tracking session. Fails when one is already active.
func (t *Tracker) Start(ctx context.Context, metadata storage.SessionMetadata) (storage.TrackingSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sampler != nil {
		return storage.TrackingSession{}, ErrAlreadyTracking
	}
	if existing, err := t.sessions.Load(ctx); err == nil && existing.Active {
		return storage.TrackingSession{}, fmt.Errorf("%w: session %s", ErrAlreadyTracking, existing.ID)
	}

	settings, err := t.sessions.LoadSettings(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to load settings, using defaults")
		settings = storage.DefaultSettings()
	}
	t.settings = settings

	t.continuity.Snapshot(ctx, &metadata)
	created := t.track.StartNew(metadata)
	if _, err := t.sessions.Save(ctx, created); err != nil {
		t.logger.Warn().Err(err).Msg("Initial session persist failed, continuing in memory")
	}

	if err := t.startSamplerLocked(settings); err != nil {
		t.track.Reset()
		_ = t.sessions.Clear(ctx)
		return storage.TrackingSession{}, err
	}

	t.continuity.TrackingStarted(ctx)
	t.logger.Info().Str("session_id", created.ID).Msg("Tracking started")
	return created, nil
}

// Rehydrate resumes from a persisted active session, e.g. after a daemon
// restart mid-hike. No-op when nothing resumable is stored.
func (t *Tracker) Rehydrate(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sampler != nil {
		return nil
	}
	stored, resume := t.continuity.OnForeground(ctx)
	if !resume {
		return nil
	}

	settings, err := t.sessions.LoadSettings(ctx)
	if err != nil {
		settings = storage.DefaultSettings()
	}
	t.settings = settings
	t.track.LoadFrom(*stored)

	if err := t.startSamplerLocked(settings); err != nil {
		return err
	}
	t.continuity.TrackingStarted(ctx)
	t.logger.Info().Str("session_id", stored.ID).Msg("Tracking rehydrated from stored session")
	return nil
}

func (t *Tracker) startSamplerLocked(settings storage.Settings) error {
	s := sampler.New(t.source, t.clk, sampler.Options{
		HighAccuracy: settings.HighAccuracy,
		MinDistanceM: settings.MinDistanceM,
		MinAccuracyM: settings.MinAccuracyM,
		MaxSampleAge: time.Duration(settings.MaxSampleAgeMs) * time.Millisecond,
		MinInterval:  time.Duration(settings.MinIntervalMs) * time.Millisecond,
		Timeout:      time.Duration(settings.TimeoutMs) * time.Millisecond,
	}, t.logger)

	// The watch outlives the call that started it.
	if err := s.Start(t.baseCtx, t.onSample, t.onError); err != nil {
		return err
	}
	t.sampler = s
	return nil
}

func (t *Tracker) onSample(fix storage.PositionSample) {
	updated, ok := t.track.Accept(fix)
	if !ok {
		return
	}
	if _, err := t.sessions.Save(context.Background(), updated); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to persist session update")
	}
}

func (t *Tracker) onError(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
	t.logger.Warn().Err(err).Msg("Position source error")
}

// Pause suspends sample accumulation and freezes elapsed time. The watch
// stays armed so resume is instant.
func (t *Tracker) Pause(ctx context.Context) (storage.TrackingSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sampler == nil {
		return storage.TrackingSession{}, ErrNotTracking
	}
	t.sampler.Pause()
	paused := t.track.Pause()
	if _, err := t.sessions.Save(ctx, paused); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to persist pause")
	}
	return paused, nil
}

// Resume continues accumulation after a pause.
func (t *Tracker) Resume(ctx context.Context) (storage.TrackingSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sampler == nil {
		return storage.TrackingSession{}, ErrNotTracking
	}
	t.sampler.Resume()
	resumed := t.track.Resume()
	if _, err := t.sessions.Save(ctx, resumed); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to persist resume")
	}
	return resumed, nil
}

// Stop ends the session: the watch is torn down, the session is archived and
// submitted to the sync endpoint. Submission failures never fail the stop,
// the data is queued and replayed later.
func (t *Tracker) Stop(ctx context.Context) (storage.TrackingSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sampler == nil {
		return storage.TrackingSession{}, ErrNotTracking
	}
	t.sampler.Stop()
	t.sampler = nil
	t.continuity.TrackingStopped()

	finished := t.track.Stop()
	t.track.Reset()

	maxSessions := t.settings.MaxOfflineSessions
	if maxSessions <= 0 {
		maxSessions = storage.DefaultSettings().MaxOfflineSessions
	}
	if err := t.sessions.Complete(ctx, finished, maxSessions); err != nil {
		return finished, err
	}

	if t.syncer != nil {
		if err := t.syncer.SubmitSessions(ctx, []storage.TrackingSession{finished}); err != nil {
			t.logger.Warn().Err(err).Str("session_id", finished.ID).Msg("Session submission failed, will retry on next sync")
		}
	}
	t.logger.Info().
		Str("session_id", finished.ID).
		Float64("distance_km", finished.TotalDistanceKm).
		Int64("duration_s", finished.TotalTimeSeconds).
		Msg("Tracking stopped")
	return finished, nil
}

// Reset abandons the current session without archiving it.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sampler != nil {
		t.sampler.Stop()
		t.sampler = nil
		t.continuity.TrackingStopped()
	}
	t.track.Reset()
	return t.sessions.Clear(ctx)
}

// Push feeds a raw position fix into the pipeline.
func (t *Tracker) Push(fix storage.PositionSample) {
	t.source.Push(fix)
}

// PushError injects a source-level error, e.g. a permission denial reported
// by the device.
func (t *Tracker) PushError(err error) {
	t.source.PushError(err)
	metrics.SamplingErrors.WithLabelValues("source").Inc()
}

// Status returns the current snapshot for display.
func (t *Tracker) Status(ctx context.Context) Status {
	t.mu.Lock()
	tracking := t.sampler != nil
	maxPoints := t.settings.MaxDisplayPoints
	t.mu.Unlock()

	if maxPoints <= 0 {
		maxPoints = track.DefaultMaxDisplayPoints
	}

	status := Status{Tracking: tracking}
	if tracking {
		snapshot := t.track.Snapshot()
		status.Session = &snapshot
		status.ElapsedSeconds = int64(t.track.Elapsed() / time.Second)
		status.Positions = track.Downsample(snapshot.Positions, maxPoints)
	} else if stored, err := t.sessions.Load(ctx); err == nil {
		status.Session = stored
		status.Positions = track.Downsample(stored.Positions, maxPoints)
	}
	status.Advisories = t.continuity.CheckAdvisories(ctx)
	return status
}
