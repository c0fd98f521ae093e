package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/strakata/trailtracker/internal/clock"
	"github.com/strakata/trailtracker/internal/config"
	"github.com/strakata/trailtracker/internal/continuity"
	"github.com/strakata/trailtracker/internal/control"
	"github.com/strakata/trailtracker/internal/metrics"
	"github.com/strakata/trailtracker/internal/offline"
	"github.com/strakata/trailtracker/internal/readiness"
	"github.com/strakata/trailtracker/internal/sampler"
	"github.com/strakata/trailtracker/internal/session"
	"github.com/strakata/trailtracker/internal/storage"
	"github.com/strakata/trailtracker/internal/storage/bolt"
	"github.com/strakata/trailtracker/internal/storage/redis"
	"github.com/strakata/trailtracker/internal/systemd"
	"github.com/strakata/trailtracker/internal/tracker"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the TrailTracker daemon",
	Long:  `Start the TrailTracker daemon with the control API, offline cache worker, sync loop and metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting TrailTracker")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.RealClock{}
	sessions := session.NewStore(store.Sessions(), store.Settings(), clk, logger)
	seedSettings(ctx, store, cfg.Tracking, logger)

	transport, err := offline.NewTransport(
		http.DefaultTransport,
		store.Caches(),
		store.Queue(),
		cfg.Cache.Version,
		cfg.Cache.MemoryEntries,
		clk,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize offline transport: %w", err)
	}

	syncer := offline.NewSyncer(
		store.Queue(),
		store.Sessions(),
		cfg.Sync.Endpoint,
		transport,
		http.DefaultTransport,
		parseDuration(cfg.Sync.Timeout, 10*time.Second),
		clk,
		logger,
	)

	cm := continuity.NewManager(sessions, continuity.NopWakeLock{}, nil, clk, continuity.Config{
		WakeLockEnabled:   cfg.WakeLock.Enabled,
		Hold:              parseDuration(cfg.WakeLock.Hold, 30*time.Second),
		ReacquireInterval: parseDuration(cfg.WakeLock.ReacquireInterval, 25*time.Second),
	}, logger)

	source := sampler.NewPushSource(clk)
	tr := tracker.New(ctx, source, sessions, cm, syncer, clk, logger)

	// Resume a session that survived a daemon restart mid-hike.
	if err := tr.Rehydrate(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to rehydrate stored session")
	}

	worker := offline.NewWorker(transport, store.Caches(), cfg.Cache.BaseURL, cfg.Cache.CriticalRoutes, logger)
	orchestrator := readiness.NewOrchestrator(transport, store.Caches(), readiness.Config{
		BaseURL:         cfg.Cache.BaseURL,
		CriticalRoutes:  cfg.Cache.CriticalRoutes,
		TileURLTemplate: cfg.Cache.TileURLTemplate,
		Viewport: readiness.Viewport{
			MinLat: cfg.Cache.Viewport.MinLat,
			MaxLat: cfg.Cache.Viewport.MaxLat,
			MinLng: cfg.Cache.Viewport.MinLng,
			MaxLng: cfg.Cache.Viewport.MaxLng,
		},
		ZoomLevels:      cfg.Cache.ZoomLevels,
		MaxTilesPerZoom: cfg.Cache.MaxTilesPerZoom,
		SkipTimeout:     parseDuration(cfg.Cache.SkipTimeout, 5*time.Second),
	}, clk, logger)

	// Cache lifecycle and warmup run in the background; tracking never waits
	// for the map caches.
	go func() {
		if err := worker.Activate(ctx); err != nil {
			logger.Error().Err(err).Msg("Cache worker activation failed")
			return
		}
		if err := orchestrator.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Cache warmup failed")
		}
	}()

	go syncer.Run(ctx, parseDuration(cfg.Sync.AutoInterval, 0))

	controlServer := control.NewServer(control.Config{
		ListenAddr: fmt.Sprintf("%s:%d", cfg.Control.BindAddress, cfg.Control.Port),
	}, tr, syncer, orchestrator, sessions, logger)
	if sdListeners.Control != nil {
		controlServer.SetListener(sdListeners.Control)
	}
	go func() {
		if err := controlServer.Start(); err != nil {
			logger.Error().Err(err).Msg("Control server error")
		}
	}()

	metricsServer := metrics.NewServer(fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port), logger)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to notify systemd")
	}
	logger.Info().Msg("TrailTracker startup complete")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")
	_ = systemd.NotifyStopping()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// An in-flight session is paused and persisted; the user resumes it
	// after the next start.
	if _, err := tr.Pause(shutdownCtx); err != nil && !errors.Is(err, tracker.ErrNotTracking) {
		logger.Warn().Err(err).Msg("Failed to pause tracking on shutdown")
	}

	if err := controlServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping control server")
	}
	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("TrailTracker stopped")
	return nil
}

// seedSettings persists the config tracking block as the stored settings
// when none exist yet. Stored settings always win afterwards; the config is
// only the first-run seed.
func seedSettings(ctx context.Context, store storage.Store, cfg config.TrackingConfig, logger zerolog.Logger) {
	if _, err := store.Settings().Get(ctx); !errors.Is(err, storage.ErrNotFound) {
		return
	}

	seed := storage.DefaultSettings()
	seed.HighAccuracy = cfg.HighAccuracy
	if cfg.MinDistanceM > 0 {
		seed.MinDistanceM = cfg.MinDistanceM
	}
	if cfg.MinAccuracyM > 0 {
		seed.MinAccuracyM = cfg.MinAccuracyM
	}
	if d := parseDuration(cfg.MinInterval, 0); d > 0 {
		seed.MinIntervalMs = d.Milliseconds()
	}
	if d := parseDuration(cfg.MaxSampleAge, 0); d > 0 {
		seed.MaxSampleAgeMs = d.Milliseconds()
	}
	if d := parseDuration(cfg.WatchTimeout, 0); d > 0 {
		seed.TimeoutMs = d.Milliseconds()
	}
	if cfg.MaxDisplayPoints > 0 {
		seed.MaxDisplayPoints = cfg.MaxDisplayPoints
	}
	if cfg.MaxOfflineSessions > 0 {
		seed.MaxOfflineSessions = cfg.MaxOfflineSessions
	}

	if err := store.Settings().Put(ctx, seed); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed settings from config")
	}
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
