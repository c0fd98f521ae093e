package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/strakata/trailtracker/internal/config"
	"github.com/strakata/trailtracker/internal/storage"
)

// keyPrefix namespaces every key so a shared Redis instance can back several
// trailside kiosk devices.
const keyPrefix = "trailtracker"

// Store implements the storage.Store interface using Redis.
type Store struct {
	client        *redis.Client
	sessionStore  *sessionStore
	queueStore    *queueStore
	cacheStore    *cacheStore
	settingsStore *settingsStore
}

// Open creates a new Redis-backed storage instance.
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:        client,
		sessionStore:  &sessionStore{client: client},
		queueStore:    &queueStore{client: client},
		cacheStore:    &cacheStore{client: client},
		settingsStore: &settingsStore{client: client},
	}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Sessions returns the SessionStore implementation.
func (s *Store) Sessions() storage.SessionStore { return s.sessionStore }

// Queue returns the QueueStore implementation.
func (s *Store) Queue() storage.QueueStore { return s.queueStore }

// Caches returns the CacheStore implementation.
func (s *Store) Caches() storage.CacheStore { return s.cacheStore }

// Settings returns the SettingsStore implementation.
func (s *Store) Settings() storage.SettingsStore { return s.settingsStore }

func key(parts ...string) string {
	k := keyPrefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}
