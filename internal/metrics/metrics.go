package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Sampler metrics
	SamplesAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trailtracker_samples_accepted_total",
			Help: "Position samples accepted by the filter",
		},
	)

	SamplesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailtracker_samples_rejected_total",
			Help: "Position samples rejected by the filter",
		},
		[]string{"reason"},
	)

	SamplingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailtracker_sampling_errors_total",
			Help: "Errors surfaced by the location source",
		},
		[]string{"kind"},
	)

	// Track metrics
	DistanceKm = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trailtracker_distance_km_total",
			Help: "Accumulated track distance in kilometers",
		},
	)

	SessionsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trailtracker_sessions_completed_total",
			Help: "Tracking sessions completed and archived",
		},
	)

	PersistenceErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trailtracker_persistence_errors_total",
			Help: "Failed session store writes",
		},
	)

	// Offline cache metrics
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailtracker_cache_hits_total",
			Help: "Responses served from cache",
		},
		[]string{"namespace"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailtracker_cache_misses_total",
			Help: "Cache lookups that found nothing",
		},
		[]string{"namespace"},
	)

	Fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailtracker_fetches_total",
			Help: "Requests handled by the offline worker",
		},
		[]string{"strategy", "outcome"},
	)

	// Sync metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trailtracker_offline_queue_depth",
			Help: "Mutating requests waiting for replay",
		},
	)

	ReplaySuccesses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trailtracker_sync_replay_successes_total",
			Help: "Queued requests replayed successfully",
		},
	)

	ReplayFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trailtracker_sync_replay_failures_total",
			Help: "Queued requests that failed replay and stayed queued",
		},
	)

	// Continuity metrics
	WakeLockAcquisitions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trailtracker_wake_lock_acquisitions_total",
			Help: "Wake lock acquisitions (including re-acquisitions)",
		},
	)

	// Readiness metrics
	ReadinessPhase = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trailtracker_readiness_phase",
			Help: "Cache readiness phase (0=checking 1=critical 2=tiles 3=finalizing 4=ready)",
		},
	)

	TilesPrefetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trailtracker_tiles_prefetched_total",
			Help: "Map tiles fetched during cache warmup",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SamplesAccepted,
		SamplesRejected,
		SamplingErrors,
		DistanceKm,
		SessionsCompleted,
		PersistenceErrors,
		CacheHits,
		CacheMisses,
		Fetches,
		QueueDepth,
		ReplaySuccesses,
		ReplayFailures,
		WakeLockAcquisitions,
		ReadinessPhase,
		TilesPrefetched,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
