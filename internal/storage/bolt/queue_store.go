package bolt

import (
	"context"

	"github.com/strakata/trailtracker/internal/storage"
	"go.etcd.io/bbolt"
)

// queueStore keys items by their ID. The offline worker generates IDs that
// sort by enqueue time, so cursor order is FIFO replay order.
type queueStore struct {
	db *bbolt.DB
}

func (s *queueStore) Append(ctx context.Context, item storage.QueueItem) error {
	return putBucketValue(ctx, s.db, bucketQueue, item.ID, item)
}

func (s *queueStore) List(ctx context.Context) ([]storage.QueueItem, error) {
	return listBucket[storage.QueueItem](ctx, s.db, bucketQueue)
}

func (s *queueStore) Delete(ctx context.Context, id string) error {
	return deleteBucketValue(ctx, s.db, bucketQueue, id)
}

func (s *queueStore) Len(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketQueue))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, err
}
