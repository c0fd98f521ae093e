package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/strakata/trailtracker/internal/storage"
)

// cacheStore maps each namespace onto a Redis hash keyed by request URL and
// tracks namespace names in a set so a version bump can evict wholesale.
type cacheStore struct {
	client *redis.Client
}

func (s *cacheStore) Put(ctx context.Context, namespace string, entry storage.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key("cache", "namespaces"), namespace)
	pipe.HSet(ctx, key("cache", namespace), entry.URL, data)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *cacheStore) Get(ctx context.Context, namespace, url string) (*storage.CacheEntry, error) {
	data, err := s.client.HGet(ctx, key("cache", namespace), url).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var entry storage.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *cacheStore) Count(ctx context.Context, namespace string) (int, error) {
	n, err := s.client.HLen(ctx, key("cache", namespace)).Result()
	return int(n), err
}

func (s *cacheStore) ListNamespaces(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, key("cache", "namespaces")).Result()
}

func (s *cacheStore) DeleteNamespace(ctx context.Context, namespace string) error {
	removed, err := s.client.SRem(ctx, key("cache", "namespaces"), namespace).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return s.client.Del(ctx, key("cache", namespace)).Err()
}
