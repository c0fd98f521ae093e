package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/strakata/trailtracker/internal/storage"
)

type sessionStore struct {
	client *redis.Client
}

func (s *sessionStore) GetCurrent(ctx context.Context) (*storage.TrackingSession, error) {
	data, err := s.client.Get(ctx, key(storage.KeyCurrentSession)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var session storage.TrackingSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *sessionStore) PutCurrent(ctx context.Context, session storage.TrackingSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(storage.KeyCurrentSession), data, 0).Err()
}

func (s *sessionStore) DeleteCurrent(ctx context.Context) error {
	deleted, err := s.client.Del(ctx, key(storage.KeyCurrentSession)).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *sessionStore) AppendCompleted(ctx context.Context, session storage.TrackingSession, max int) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	listKey := key("sessions", "completed")
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, listKey, data)
	if max > 0 {
		// Keep the newest max entries; the head of the list is the oldest.
		pipe.LTrim(ctx, listKey, int64(-max), -1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *sessionStore) ListCompleted(ctx context.Context) ([]storage.TrackingSession, error) {
	raw, err := s.client.LRange(ctx, key("sessions", "completed"), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]storage.TrackingSession, 0, len(raw))
	for _, item := range raw {
		var session storage.TrackingSession
		if err := json.Unmarshal([]byte(item), &session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *sessionStore) DeleteCompleted(ctx context.Context, id string) error {
	listKey := key("sessions", "completed")
	raw, err := s.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return err
	}

	for _, item := range raw {
		var session storage.TrackingSession
		if err := json.Unmarshal([]byte(item), &session); err != nil {
			return err
		}
		if session.ID == id {
			return s.client.LRem(ctx, listKey, 1, item).Err()
		}
	}
	return storage.ErrNotFound
}

func (s *sessionStore) GetLastSync(ctx context.Context) (time.Time, error) {
	raw, err := s.client.Get(ctx, key(storage.KeyLastSync)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, storage.ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func (s *sessionStore) SetLastSync(ctx context.Context, t time.Time) error {
	return s.client.Set(ctx, key(storage.KeyLastSync), t.Format(time.RFC3339Nano), 0).Err()
}
