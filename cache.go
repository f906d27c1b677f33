package authcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	c "github.com/unkn0wn-root/authcache/codec"
	"github.com/unkn0wn-root/authcache/internal/wire"
	pr "github.com/unkn0wn-root/authcache/provider"
)

const (
	defaultTTL      = 10 * time.Minute
	defaultPopulate = 30 * time.Second
	defaultSweep    = time.Hour
)

type cache[V any] struct {
	ns       string
	provider pr.Provider
	codec    c.Codec[V]
	log      Logger
	hooks    Hooks

	enabled bool

	defaultTTL      time.Duration
	populateTimeout time.Duration
	sweepInterval   time.Duration

	// per-key in-flight populations
	flightMu sync.Mutex
	flights  map[string]*flight[V]

	// tag -> storage keys index (in-process; see tags.go)
	tags *tagIndex

	// background sweep
	ticker    *time.Ticker
	stopCh    chan struct{}
	closeWg   sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("authcache: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("authcache: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("authcache: namespace is required")
	}

	cc := &cache[V]{
		ns:       opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		flights:  make(map[string]*flight[V]),
		tags:     newTagIndex(),
	}

	// defaults
	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	cc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	cc.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, defaultTTL)
	cc.populateTimeout = coalesce[time.Duration](opts.PopulateTimeout, defaultPopulate)
	cc.sweepInterval = coalesce[time.Duration](opts.CleanupInterval, defaultSweep)

	cc.enabled = !opts.Disabled

	if cc.enabled {
		cc.ticker = time.NewTicker(cc.sweepInterval)
		cc.stopCh = make(chan struct{})
		cc.closeWg.Add(1)
		go cc.sweepLoop()
	}
	return cc, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

func (c *cache[V]) DefaultTTL() time.Duration { return c.defaultTTL }

func (c *cache[V]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.stopCh != nil {
			close(c.stopCh)
			c.closeWg.Wait()
			if c.ticker != nil {
				c.ticker.Stop()
			}
		}
	})
	if c.provider != nil {
		return c.provider.Close(ctx)
	}
	return nil
}

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if !c.enabled {
		return zero, false, nil
	}
	k := c.storageKey(key)
	raw, ok, err := c.provider.Get(ctx, k)
	if err != nil || !ok {
		return zero, false, err
	}
	exp, _, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		c.dropEntry(ctx, k) // self-heal corrupt
		c.hooks.SelfHeal(k, "corrupt")
		return zero, false, nil
	}
	// expiry travels in the entry so providers without per-entry TTL
	// (BigCache) still honor it
	if !exp.IsZero() && time.Now().After(exp) {
		c.dropEntry(ctx, k)
		return zero, false, nil
	}
	v, err := c.codec.Decode(payload)
	if err != nil {
		c.dropEntry(ctx, k) // self-heal
		c.hooks.SelfHeal(k, "value_decode")
		return zero, false, nil
	}
	return v, true, nil
}

func (c *cache[V]) GetOrPopulate(ctx context.Context, key string, ttl time.Duration, tags []string, fn PopulateFunc[V]) (V, error) {
	var zero V
	if fn == nil {
		return zero, fmt.Errorf("authcache: populate func is required")
	}
	if err := validateTags(tags); err != nil {
		return zero, err
	}
	if c.closed.Load() {
		return zero, ErrClosed
	}
	if !c.enabled {
		// pass-through: no store, no coalescing, but still bounded and
		// panic-contained
		return c.runPopulate(ctx, key, fn)
	}

	if ttl > 0 {
		if v, ok, err := c.Get(ctx, key); ok {
			return v, nil
		} else if err != nil {
			// provider read error: fall through to population rather than
			// failing the read
			c.log.Warn("read-through after provider error", Fields{"key": key, "err": err})
		}
	}

	f, leader := c.joinFlight(key)
	if leader {
		// the population outlives any individual waiter; detach from the
		// leader's cancellation but keep its values (tracing etc.)
		go c.lead(context.WithoutCancel(ctx), f, key, ttl, tags, fn)
	} else {
		c.hooks.FlightShared(key)
	}

	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		// per-waiter cancellation; the flight itself keeps running
		return zero, ctx.Err()
	}
}

func (c *cache[V]) Invalidate(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}
	k := c.storageKey(key)
	c.tags.removeKey(k)
	if err := c.provider.Del(ctx, k); err != nil {
		return &InvalidateError{Key: key, Err: err}
	}
	c.log.Debug("invalidated key", Fields{"key": key})
	return nil
}

func (c *cache[V]) InvalidateByTag(ctx context.Context, tag string) error {
	if !c.enabled {
		return nil
	}
	keys := c.tags.take(tag)
	var errs []error
	for _, k := range keys {
		if err := c.provider.Del(ctx, k); err != nil {
			errs = append(errs, &InvalidateError{Key: k, Err: err})
		}
	}
	c.log.Debug("invalidated tag", Fields{"tag": tag, "keys": len(keys)})
	return errors.Join(errs...)
}

// store commits a populated value. Failures are logged, never propagated:
// the populated value has already been handed to the waiters.
func (c *cache[V]) store(ctx context.Context, key string, v V, ttl time.Duration, tags []string) {
	payload, err := c.codec.Encode(v)
	if err != nil {
		c.log.Warn("encode failed; entry not cached", Fields{"key": key, "err": err})
		return
	}
	k := c.storageKey(key)
	exp := time.Now().Add(ttl)
	wireb := wire.EncodeEntry(exp, tags, payload)
	ok, err := c.provider.Set(ctx, k, wireb, int64(len(wireb)), ttl)
	if err != nil {
		c.log.Warn("provider set failed; entry not cached", Fields{"key": key, "err": err})
		return
	}
	if !ok {
		c.hooks.ProviderSetRejected(k)
		return
	}
	c.tags.add(k, tags, exp)
}

// dropEntry removes an entry and its tag index references.
func (c *cache[V]) dropEntry(ctx context.Context, storageKey string) {
	c.tags.removeKey(storageKey)
	_ = c.provider.Del(ctx, storageKey)
}

func (c *cache[V]) sweepLoop() {
	defer c.closeWg.Done()
	for {
		select {
		case <-c.ticker.C:
			if n := c.tags.prune(time.Now()); n > 0 {
				c.hooks.SweepPruned(n)
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *cache[V]) storageKey(userKey string) string {
	// isolate by namespace
	return "sf:" + c.ns + ":" + userKey
}
