package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete daemon configuration
type Config struct {
	Tracking TrackingConfig `mapstructure:"tracking"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Cache    CacheConfig    `mapstructure:"cache"`
	WakeLock WakeLockConfig `mapstructure:"wake_lock"`
	Control  ControlConfig  `mapstructure:"control"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// TrackingConfig defines the sampler filter and accumulator settings
type TrackingConfig struct {
	HighAccuracy       bool    `mapstructure:"high_accuracy"`
	MinDistanceM       float64 `mapstructure:"min_distance_m"`
	MinAccuracyM       float64 `mapstructure:"min_accuracy_m"`
	MinInterval        string  `mapstructure:"min_interval"`
	MaxSampleAge       string  `mapstructure:"max_sample_age"`
	WatchTimeout       string  `mapstructure:"watch_timeout"`
	MaxDisplayPoints   int     `mapstructure:"max_display_points"`
	MaxOfflineSessions int     `mapstructure:"max_offline_sessions"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// SyncConfig defines the upstream sync endpoint settings
type SyncConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	AutoInterval string `mapstructure:"auto_interval"` // "" disables periodic sync
	Timeout      string `mapstructure:"timeout"`
}

// CacheConfig defines offline cache and warmup settings
type CacheConfig struct {
	Version         string         `mapstructure:"version"`
	BaseURL         string         `mapstructure:"base_url"` // origin for relative critical routes
	CriticalRoutes  []string       `mapstructure:"critical_routes"`
	TileURLTemplate string         `mapstructure:"tile_url_template"` // {z}/{x}/{y} placeholders
	Viewport        ViewportConfig `mapstructure:"viewport"`
	ZoomLevels      []int          `mapstructure:"zoom_levels"`
	MaxTilesPerZoom int            `mapstructure:"max_tiles_per_zoom"`
	SkipTimeout     string         `mapstructure:"skip_timeout"`
	MemoryEntries   int            `mapstructure:"memory_entries"` // in-memory LRU size per namespace
}

// ViewportConfig bounds the default map area warmed at startup
type ViewportConfig struct {
	MinLat float64 `mapstructure:"min_lat"`
	MaxLat float64 `mapstructure:"max_lat"`
	MinLng float64 `mapstructure:"min_lng"`
	MaxLng float64 `mapstructure:"max_lng"`
}

// WakeLockConfig defines wake lock discipline while tracking
type WakeLockConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Hold              string `mapstructure:"hold"`
	ReacquireInterval string `mapstructure:"reacquire_interval"`
}

// ControlConfig defines the local control API settings
type ControlConfig struct {
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines the metrics endpoint settings
type MetricsConfig struct {
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("TRAILTRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if os.IsNotExist(err) {
				// Missing file is fine, run on defaults and environment
			} else {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Tracking defaults match the sampler filter the mobile client shipped with
	v.SetDefault("tracking.high_accuracy", true)
	v.SetDefault("tracking.min_distance_m", 10)
	v.SetDefault("tracking.min_accuracy_m", 50)
	v.SetDefault("tracking.min_interval", "5s")
	v.SetDefault("tracking.max_sample_age", "10s")
	v.SetDefault("tracking.watch_timeout", "10s")
	v.SetDefault("tracking.max_display_points", 1000)
	v.SetDefault("tracking.max_offline_sessions", 50)

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/trailtracker/trailtracker.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Sync defaults
	v.SetDefault("sync.endpoint", "")
	v.SetDefault("sync.auto_interval", "5m")
	v.SetDefault("sync.timeout", "30s")

	// Cache defaults; viewport covers the competition area around Prague
	v.SetDefault("cache.version", "v3")
	v.SetDefault("cache.base_url", "https://strakataturistika.example.com")
	v.SetDefault("cache.critical_routes", []string{"/", "/gps", "/offline", "/manifest.json"})
	v.SetDefault("cache.tile_url_template", "https://tile.openstreetmap.org/{z}/{x}/{y}.png")
	v.SetDefault("cache.viewport.min_lat", 49.95)
	v.SetDefault("cache.viewport.max_lat", 50.15)
	v.SetDefault("cache.viewport.min_lng", 14.25)
	v.SetDefault("cache.viewport.max_lng", 14.60)
	v.SetDefault("cache.zoom_levels", []int{12, 13, 14})
	v.SetDefault("cache.max_tiles_per_zoom", 20)
	v.SetDefault("cache.skip_timeout", "5s")
	v.SetDefault("cache.memory_entries", 256)

	// Wake lock defaults
	v.SetDefault("wake_lock.enabled", true)
	v.SetDefault("wake_lock.hold", "30s")
	v.SetDefault("wake_lock.reacquire_interval", "25s")

	// Control API defaults
	v.SetDefault("control.port", 8780)
	v.SetDefault("control.bind_address", "127.0.0.1")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.port", 9290)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Tracking.MinDistanceM < 0 {
		return fmt.Errorf("invalid min_distance_m: %v", cfg.Tracking.MinDistanceM)
	}
	if cfg.Tracking.MaxDisplayPoints < 2 {
		return fmt.Errorf("max_display_points must be at least 2, got %d", cfg.Tracking.MaxDisplayPoints)
	}
	if cfg.Tracking.MaxOfflineSessions <= 0 {
		return fmt.Errorf("max_offline_sessions must be positive, got %d", cfg.Tracking.MaxOfflineSessions)
	}

	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s (must be bolt or redis)", cfg.Storage.Type)
	}

	if cfg.Sync.Endpoint != "" {
		if _, err := url.ParseRequestURI(cfg.Sync.Endpoint); err != nil {
			return fmt.Errorf("invalid sync endpoint: %w", err)
		}
	}

	if cfg.Cache.Version == "" {
		return fmt.Errorf("cache version is required")
	}
	if cfg.Cache.MaxTilesPerZoom <= 0 {
		return fmt.Errorf("max_tiles_per_zoom must be positive, got %d", cfg.Cache.MaxTilesPerZoom)
	}
	for _, zoom := range cfg.Cache.ZoomLevels {
		if zoom < 0 || zoom > 19 {
			return fmt.Errorf("invalid zoom level: %d", zoom)
		}
	}
	vp := cfg.Cache.Viewport
	if vp.MinLat >= vp.MaxLat || vp.MinLng >= vp.MaxLng {
		return fmt.Errorf("invalid cache viewport: %+v", vp)
	}

	if cfg.Control.Port <= 0 || cfg.Control.Port > 65535 {
		return fmt.Errorf("invalid control port: %d", cfg.Control.Port)
	}
	if cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	return nil
}
