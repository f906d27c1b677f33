package authcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/authcache/codec"
	pr "github.com/unkn0wn-root/authcache/provider"
)

// PopulateFunc computes the value for a key on a cache miss. It receives a
// context bounded by Options.PopulateTimeout; implementations should honor
// cancellation. A panic inside the func is converted to a populate error and
// never crashes the cache.
type PopulateFunc[V any] func(ctx context.Context) (V, error)

// Cache is the high-level, provider-agnostic single-flight cache API.
// V is the caller's value type. Serialization is handled by a pluggable Codec[V].
type Cache[V any] interface {
	Enabled() bool
	DefaultTTL() time.Duration
	Close(ctx context.Context) error

	// Get is a read-only peek: (value, true, nil) on a live hit, no population.
	Get(ctx context.Context, key string) (v V, ok bool, err error)

	// GetOrPopulate returns the live entry for key, or runs fn exactly once
	// across all concurrent callers for key and hands every caller the same
	// result. ttl <= 0 means "do not cache" (always repopulate).
	GetOrPopulate(ctx context.Context, key string, ttl time.Duration, tags []string, fn PopulateFunc[V]) (V, error)

	// Invalidate removes the entry for key. In-flight populations are
	// unaffected; convergence is bounded by ttl, not linearizable.
	Invalidate(ctx context.Context, key string) error

	// InvalidateByTag removes every entry whose tag set contains tag.
	// O(entries-with-tag) via the in-process tag index.
	InvalidateByTag(ctx context.Context, tag string) error
}

// Options tune the behavior of the generic single-flight cache.
// Only Namespace, Provider and Codec are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "user", "profile", "tokens"
	Provider  pr.Provider
	Codec     c.Codec[V]

	Logger          Logger        // if nil, NopLogger is used
	Hooks           Hooks         // if nil, NopHooks is used
	DefaultTTL      time.Duration // exposed via Cache.DefaultTTL; 0 => 10m
	PopulateTimeout time.Duration // per-population bound; 0 => 30s
	CleanupInterval time.Duration // tag index sweep; 0 => 1h
	Disabled        bool          // pass-through mode: populate directly, never store or coalesce
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
