package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/strakata/trailtracker/internal/storage"
)

// queueStore keeps a list of item IDs for FIFO order plus one JSON value per
// item, so deleting a replayed item never disturbs the relative order of the
// rest.
type queueStore struct {
	client *redis.Client
}

func (s *queueStore) Append(ctx context.Context, item storage.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key(storage.KeyOfflineQueue, "ids"), item.ID)
	pipe.Set(ctx, key(storage.KeyOfflineQueue, "item", item.ID), data, 0)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *queueStore) List(ctx context.Context) ([]storage.QueueItem, error) {
	ids, err := s.client.LRange(ctx, key(storage.KeyOfflineQueue, "ids"), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	items := make([]storage.QueueItem, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, key(storage.KeyOfflineQueue, "item", id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // id list entry without a value, skip
		}
		if err != nil {
			return nil, err
		}
		var item storage.QueueItem
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *queueStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.LRem(ctx, key(storage.KeyOfflineQueue, "ids"), 1, id).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return s.client.Del(ctx, key(storage.KeyOfflineQueue, "item", id)).Err()
}

func (s *queueStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, key(storage.KeyOfflineQueue, "ids")).Result()
	return int(n), err
}
