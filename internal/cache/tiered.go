package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/ivankudzin/anonmod/internal/metrics"
)

// Remote is the distributed tier. Get decodes into dst and reports a miss
// as (false, nil).
type Remote interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type Loader[V any] func(ctx context.Context) (V, error)

type Config struct {
	Name      string
	LocalSize int
	LocalTTL  time.Duration
}

// Tiered chains an in-process LRU, a remote cache and a loader. Values are
// derived copies; the loader's store stays authoritative and callers must
// re-check any expiry embedded in V on every hit.
type Tiered[V any] struct {
	name   string
	local  *expirable.LRU[string, V]
	remote Remote
	ttl    func(V) time.Duration
	logger *zap.Logger
}

// NewTiered builds a tiered cache. ttl returns the remote lifetime of a value;
// a non-positive result keeps the value out of both tiers.
func NewTiered[V any](cfg Config, remote Remote, ttl func(V) time.Duration, logger *zap.Logger) *Tiered[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LocalSize <= 0 {
		cfg.LocalSize = 1000
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = 5 * time.Minute
	}
	if ttl == nil {
		fixed := cfg.LocalTTL
		ttl = func(V) time.Duration { return fixed }
	}

	return &Tiered[V]{
		name:   cfg.Name,
		local:  expirable.NewLRU[string, V](cfg.LocalSize, nil, cfg.LocalTTL),
		remote: remote,
		ttl:    ttl,
		logger: logger.With(zap.String("cache", cfg.Name)),
	}
}

func (t *Tiered[V]) Get(ctx context.Context, key string, load Loader[V]) (V, error) {
	if v, ok := t.local.Get(key); ok {
		metrics.CacheLookups.WithLabelValues(t.name, "local", "hit").Inc()
		return v, nil
	}
	metrics.CacheLookups.WithLabelValues(t.name, "local", "miss").Inc()

	if t.remote != nil {
		var v V
		found, err := t.remote.Get(ctx, key, &v)
		switch {
		case err != nil:
			metrics.CacheLookups.WithLabelValues(t.name, "remote", "error").Inc()
			t.logger.Warn("remote cache read failed", zap.String("key", key), zap.Error(err))
		case found:
			metrics.CacheLookups.WithLabelValues(t.name, "remote", "hit").Inc()
			if t.ttl(v) > 0 {
				t.local.Add(key, v)
			}
			return v, nil
		default:
			metrics.CacheLookups.WithLabelValues(t.name, "remote", "miss").Inc()
		}
	}

	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	ttl := t.ttl(v)
	if ttl <= 0 {
		return v, nil
	}
	if t.remote != nil {
		if err := t.remote.Set(ctx, key, v, ttl); err != nil {
			t.logger.Warn("remote cache fill failed", zap.String("key", key), zap.Error(err))
		}
	}
	t.local.Add(key, v)
	return v, nil
}

// Put stores a value that was just committed to the store.
func (t *Tiered[V]) Put(ctx context.Context, key string, v V) error {
	ttl := t.ttl(v)
	if ttl <= 0 {
		return nil
	}
	if t.remote != nil {
		if err := t.remote.Set(ctx, key, v, ttl); err != nil {
			return err
		}
	}
	t.local.Add(key, v)
	return nil
}

// Invalidate removes key from both tiers. The local copy is dropped even when
// the remote delete fails.
func (t *Tiered[V]) Invalidate(ctx context.Context, key string) error {
	var err error
	if t.remote != nil {
		err = t.remote.Delete(ctx, key)
	}
	t.local.Remove(key)
	return err
}

// Evict drops only the local copy.
func (t *Tiered[V]) Evict(key string) {
	t.local.Remove(key)
}
