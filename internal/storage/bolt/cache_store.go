package bolt

import (
	"context"

	"github.com/strakata/trailtracker/internal/storage"
	"go.etcd.io/bbolt"
)

// cacheStore nests one bucket per cache namespace under the caches root.
// A version bump deletes whole namespace buckets, entries are never patched.
type cacheStore struct {
	db *bbolt.DB
}

func (s *cacheStore) Put(ctx context.Context, namespace string, entry storage.CacheEntry) error {
	data, err := marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		root := tx.Bucket([]byte(bucketCaches))
		if root == nil {
			return storage.ErrNotFound
		}
		b, err := root.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return b.Put([]byte(entry.URL), data)
	})
}

func (s *cacheStore) Get(ctx context.Context, namespace, url string) (*storage.CacheEntry, error) {
	var entry *storage.CacheEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		root := tx.Bucket([]byte(bucketCaches))
		if root == nil {
			return storage.ErrNotFound
		}
		b := root.Bucket([]byte(namespace))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(url))
		if value == nil {
			return storage.ErrNotFound
		}
		var result storage.CacheEntry
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		entry = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *cacheStore) Count(ctx context.Context, namespace string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		root := tx.Bucket([]byte(bucketCaches))
		if root == nil {
			return nil
		}
		b := root.Bucket([]byte(namespace))
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

func (s *cacheStore) ListNamespaces(ctx context.Context) ([]string, error) {
	names := make([]string, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		root := tx.Bucket([]byte(bucketCaches))
		if root == nil {
			return nil
		}
		return root.ForEachBucket(func(name []byte) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

func (s *cacheStore) DeleteNamespace(ctx context.Context, namespace string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		root := tx.Bucket([]byte(bucketCaches))
		if root == nil {
			return storage.ErrNotFound
		}
		if root.Bucket([]byte(namespace)) == nil {
			return storage.ErrNotFound
		}
		return root.DeleteBucket([]byte(namespace))
	})
}
