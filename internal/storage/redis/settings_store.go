package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/strakata/trailtracker/internal/storage"
)

type settingsStore struct {
	client *redis.Client
}

func (s *settingsStore) Get(ctx context.Context) (*storage.Settings, error) {
	data, err := s.client.Get(ctx, key(storage.KeySettings)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var settings storage.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *settingsStore) Put(ctx context.Context, settings storage.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(storage.KeySettings), data, 0).Err()
}
