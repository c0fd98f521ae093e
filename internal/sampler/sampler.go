package sampler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/strakata/trailtracker/internal/clock"
	"github.com/strakata/trailtracker/internal/geo"
	"github.com/strakata/trailtracker/internal/metrics"
	"github.com/strakata/trailtracker/internal/storage"
)

// Sampling errors surfaced to the caller. The sampler never restarts itself
// after an error; the caller decides whether to retry or abort.
var (
	ErrPermissionDenied = errors.New("sampler: position permission denied")
	ErrTimeout          = errors.New("sampler: position request timed out")
	ErrUnavailable      = errors.New("sampler: position unavailable")
	ErrAlreadyRunning   = errors.New("sampler: already running")
)

// WatchOptions mirrors the platform geolocation watch options.
type WatchOptions struct {
	HighAccuracy bool
	MaxSampleAge time.Duration
	Timeout      time.Duration
}

// LocationSource abstracts the platform position watch. Implementations push
// fixes as they arrive; the sampler never polls. Canceling the context ends
// the watch.
type LocationSource interface {
	Watch(ctx context.Context, opts WatchOptions) (<-chan storage.PositionSample, <-chan error, error)
}

// Options control the noise filter applied to raw fixes.
type Options struct {
	HighAccuracy bool
	MinDistanceM float64
	MinAccuracyM float64
	MaxSampleAge time.Duration
	MinInterval  time.Duration
	Timeout      time.Duration
}

// Sampler wraps a LocationSource and emits filtered position samples.
type Sampler struct {
	source LocationSource
	clk    clock.Clock
	logger zerolog.Logger
	opts   Options

	mu           sync.Mutex
	running      bool
	cancel       context.CancelFunc
	lastAccepted *storage.PositionSample
	pausedAt     *time.Time
	pausedFor    time.Duration
}

// New creates a sampler over the given location source.
func New(source LocationSource, clk clock.Clock, opts Options, logger zerolog.Logger) *Sampler {
	return &Sampler{
		source: source,
		clk:    clk,
		opts:   opts,
		logger: logger.With().Str("component", "sampler").Logger(),
	}
}

// Start begins continuous position observation. Accepted samples are handed
// to onSample, source errors to onError. Errors do not stop the watch and
// never restart it either.
func (s *Sampler) Start(ctx context.Context, onSample func(storage.PositionSample), onError func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	watchCtx, cancel := context.WithCancel(ctx)
	fixes, errs, err := s.source.Watch(watchCtx, WatchOptions{
		HighAccuracy: s.opts.HighAccuracy,
		MaxSampleAge: s.opts.MaxSampleAge,
		Timeout:      s.opts.Timeout,
	})
	if err != nil {
		cancel()
		return err
	}

	s.running = true
	s.cancel = cancel
	s.lastAccepted = nil
	s.pausedAt = nil
	s.pausedFor = 0

	go s.pump(watchCtx, fixes, errs, onSample, onError)

	s.logger.Info().
		Bool("high_accuracy", s.opts.HighAccuracy).
		Float64("min_distance_m", s.opts.MinDistanceM).
		Dur("min_interval", s.opts.MinInterval).
		Msg("Position watch started")

	return nil
}

// Stop cancels the watch. No sample is delivered after Stop returns, even
// one already in flight.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	s.running = false
	s.lastAccepted = nil
	s.pausedAt = nil
	s.pausedFor = 0
	s.logger.Info().Msg("Position watch stopped")
}

// Pause suspends delivery while keeping the watch armed. Fixes arriving
// while paused are discarded, and paused time is excluded from the jitter
// interval after Resume.
func (s *Sampler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.pausedAt != nil {
		return
	}
	now := s.clk.Now()
	s.pausedAt = &now
}

// Resume re-enables delivery after a Pause.
func (s *Sampler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pausedAt == nil {
		return
	}
	s.pausedFor += s.clk.Now().Sub(*s.pausedAt)
	s.pausedAt = nil
}

func (s *Sampler) pump(ctx context.Context, fixes <-chan storage.PositionSample, errs <-chan error, onSample func(storage.PositionSample), onError func(error)) {
	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-errs:
			if !ok {
				return
			}
			kind := "unavailable"
			switch {
			case errors.Is(err, ErrPermissionDenied):
				kind = "permission_denied"
			case errors.Is(err, ErrTimeout):
				kind = "timeout"
			}
			metrics.SamplingErrors.WithLabelValues(kind).Inc()
			s.logger.Warn().Err(err).Str("kind", kind).Msg("Sampling error")
			onError(err)

		case fix, ok := <-fixes:
			if !ok {
				return
			}
			s.deliver(fix, onSample)
		}
	}
}

// deliver applies the filter and hands the sample on. Delivery happens under
// the sampler lock so a concurrent Stop cannot race a sample past it.
func (s *Sampler) deliver(fix storage.PositionSample, onSample func(storage.PositionSample)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.pausedAt != nil {
		metrics.SamplesRejected.WithLabelValues("paused").Inc()
		s.logger.Debug().
			Float64("lat", fix.Latitude).
			Float64("lng", fix.Longitude).
			Msg("Sample discarded while paused")
		return
	}

	if reason, ok := s.filter(fix); !ok {
		metrics.SamplesRejected.WithLabelValues(reason).Inc()
		s.logger.Debug().
			Str("reason", reason).
			Float64("lat", fix.Latitude).
			Float64("lng", fix.Longitude).
			Msg("Sample rejected")
		return
	}

	if fix.Speed == nil && s.lastAccepted != nil {
		if derived := derivedSpeedMps(*s.lastAccepted, fix); derived >= 0 {
			fix.Speed = &derived
		}
	}

	s.lastAccepted = &fix
	s.pausedFor = 0
	metrics.SamplesAccepted.Inc()
	onSample(fix)
}

// filter decides whether a fix becomes a sample. A fix is dropped for bad
// accuracy, staleness, or jitter. The jitter rule rejects only when BOTH the
// distance and the interval since the last accepted sample are too small;
// either a real jump or enough elapsed time lets a slow-moving track through.
// Paused time does not count toward the interval, so a pause cannot age a
// stationary fix past the filter.
func (s *Sampler) filter(fix storage.PositionSample) (string, bool) {
	if s.opts.MinAccuracyM > 0 && fix.Accuracy > s.opts.MinAccuracyM {
		return "accuracy", false
	}

	if s.opts.MaxSampleAge > 0 && s.clk.Now().Sub(fix.Timestamp) > s.opts.MaxSampleAge {
		return "stale", false
	}

	if s.lastAccepted != nil {
		dist := geo.HaversineM(s.lastAccepted.Latitude, s.lastAccepted.Longitude, fix.Latitude, fix.Longitude)
		interval := fix.Timestamp.Sub(s.lastAccepted.Timestamp) - s.pausedFor
		if dist < s.opts.MinDistanceM && interval < s.opts.MinInterval {
			return "jitter", false
		}
	}

	return "", true
}

// derivedSpeedMps estimates speed in m/s from the last two accepted samples.
func derivedSpeedMps(prev, next storage.PositionSample) float64 {
	dt := next.Timestamp.Sub(prev.Timestamp).Seconds()
	if dt <= 0 {
		return -1
	}
	return geo.HaversineM(prev.Latitude, prev.Longitude, next.Latitude, next.Longitude) / dt
}
