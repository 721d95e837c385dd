package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/rag-service/internal/repository"
	"github.com/user/rag-service/pkg/metrics"
)

const maxUpdateRetries = 10

// CacheRepoImpl implements CacheRepository with plain string keys. A nil client
// reports every operation as unavailable.
type CacheRepoImpl struct {
	client *redis.Client
}

// NewCacheRepo creates a new instance of CacheRepoImpl.
func NewCacheRepo(client *redis.Client) *CacheRepoImpl {
	return &CacheRepoImpl{client: client}
}

func (r *CacheRepoImpl) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if r.client == nil {
		return nil, false, repository.ErrCacheUnavailable
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheOperations.WithLabelValues("get", "miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		metrics.CacheOperations.WithLabelValues("get", "error").Inc()
		return nil, false, unavailable(err)
	}
	metrics.CacheOperations.WithLabelValues("get", "hit").Inc()
	return val, true, nil
}

func (r *CacheRepoImpl) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.client == nil {
		return repository.ErrCacheUnavailable
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		metrics.CacheOperations.WithLabelValues("set", "error").Inc()
		return unavailable(err)
	}
	metrics.CacheOperations.WithLabelValues("set", "ok").Inc()
	return nil
}

func (r *CacheRepoImpl) Delete(ctx context.Context, keys ...string) error {
	if r.client == nil {
		return repository.ErrCacheUnavailable
	}
	if len(keys) == 0 {
		return nil
	}
	return unavailable(r.client.Del(ctx, keys...).Err())
}

// DeletePattern walks the keyspace with SCAN so large caches are not blocked.
func (r *CacheRepoImpl) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if r.client == nil {
		return 0, repository.ErrCacheUnavailable
	}
	deleted := 0
	iter := r.client.Scan(ctx, 0, pattern, 500).Iterator()
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return deleted, unavailable(err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, unavailable(err)
	}
	if err := flush(); err != nil {
		return deleted, unavailable(err)
	}
	metrics.CacheOperations.WithLabelValues("delete_pattern", "ok").Inc()
	return deleted, nil
}

// Update runs fn inside WATCH/MULTI and retries when another writer touched the key.
func (r *CacheRepoImpl) Update(ctx context.Context, key string, ttl time.Duration, fn func(current []byte) ([]byte, error)) error {
	if r.client == nil {
		return repository.ErrCacheUnavailable
	}
	var fnErr error
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			current = nil
		} else if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			fnErr = err
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, next, ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			metrics.CacheOperations.WithLabelValues("update", "ok").Inc()
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case fnErr != nil:
			return fnErr
		default:
			metrics.CacheOperations.WithLabelValues("update", "error").Inc()
			return unavailable(err)
		}
	}
	metrics.CacheOperations.WithLabelValues("update", "conflict").Inc()
	return errors.New("cache update: too many concurrent writers")
}
