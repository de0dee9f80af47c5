package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"
	goredis "github.com/redis/go-redis/v9"
)

// CacheRepo is the distributed value tier. Values are stored as JSON so
// interface-typed fields with custom codecs survive the round trip.
type CacheRepo struct {
	data   *cache.Cache
	prefix string
}

func NewCacheRepo(client *goredis.Client, prefix string) *CacheRepo {
	if client == nil {
		return &CacheRepo{prefix: prefix}
	}
	return &CacheRepo{
		data: cache.New(&cache.Options{
			Redis:     client,
			Marshal:   json.Marshal,
			Unmarshal: json.Unmarshal,
		}),
		prefix: prefix,
	}
}

// Get decodes the cached value into dst. A miss reports false with no error.
func (r *CacheRepo) Get(ctx context.Context, key string, dst any) (bool, error) {
	if r.data == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	err := r.data.Get(ctx, r.key(key), dst)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get cached value: %w", err)
	}
	return true, nil
}

func (r *CacheRepo) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if r.data == nil {
		return fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		return nil
	}

	if err := r.data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   r.key(key),
		Value: value,
		TTL:   ttl,
	}); err != nil {
		return fmt.Errorf("set cached value: %w", err)
	}
	return nil
}

func (r *CacheRepo) Delete(ctx context.Context, key string) error {
	if r.data == nil {
		return fmt.Errorf("redis client is nil")
	}

	err := r.data.Delete(ctx, r.key(key))
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return fmt.Errorf("delete cached value: %w", err)
	}
	return nil
}

func (r *CacheRepo) key(key string) string {
	return r.prefix + "cache:" + key
}
