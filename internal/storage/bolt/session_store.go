package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/strakata/trailtracker/internal/storage"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

func (s *sessionStore) GetCurrent(ctx context.Context) (*storage.TrackingSession, error) {
	return getBucketValue[storage.TrackingSession](ctx, s.db, bucketCurrent, storage.KeyCurrentSession)
}

func (s *sessionStore) PutCurrent(ctx context.Context, session storage.TrackingSession) error {
	return putBucketValue(ctx, s.db, bucketCurrent, storage.KeyCurrentSession, session)
}

func (s *sessionStore) DeleteCurrent(ctx context.Context) error {
	return deleteBucketValue(ctx, s.db, bucketCurrent, storage.KeyCurrentSession)
}

// completedKey builds a key that sorts by completion time so bucket cursor
// order equals archive order.
func completedKey(session storage.TrackingSession) string {
	ts := session.LastUpdate
	if session.EndTime != nil {
		ts = *session.EndTime
	}
	return fmt.Sprintf("%020d-%s", ts.UnixNano(), session.ID)
}

func (s *sessionStore) AppendCompleted(ctx context.Context, session storage.TrackingSession, max int) error {
	data, err := marshal(session)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketCompleted))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucketCompleted)
		}
		if err := b.Put([]byte(completedKey(session)), data); err != nil {
			return err
		}

		if max <= 0 {
			return nil
		}
		// Evict oldest entries until the archive fits the cap.
		count := 0
		if err := b.ForEach(func(_, _ []byte) error { count++; return nil }); err != nil {
			return err
		}
		cursor := b.Cursor()
		for k, _ := cursor.First(); k != nil && count > max; k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
			count--
		}
		return nil
	})
}

func (s *sessionStore) ListCompleted(ctx context.Context) ([]storage.TrackingSession, error) {
	return listBucket[storage.TrackingSession](ctx, s.db, bucketCompleted)
}

func (s *sessionStore) DeleteCompleted(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketCompleted))
		if b == nil {
			return storage.ErrNotFound
		}
		cursor := b.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var session storage.TrackingSession
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			if session.ID == id {
				return b.Delete(k)
			}
		}
		return storage.ErrNotFound
	})
}

func (s *sessionStore) GetLastSync(ctx context.Context) (time.Time, error) {
	value, err := getBucketValue[time.Time](ctx, s.db, bucketMeta, storage.KeyLastSync)
	if err != nil {
		return time.Time{}, err
	}
	return *value, nil
}

func (s *sessionStore) SetLastSync(ctx context.Context, t time.Time) error {
	return putBucketValue(ctx, s.db, bucketMeta, storage.KeyLastSync, t)
}
