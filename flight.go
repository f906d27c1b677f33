package authcache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// flight is one in-flight population. It exists only while concurrent callers
// for the same key are coalesced onto a single upstream computation; the
// result becomes visible to all waiters at once when done is closed.
type flight[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// joinFlight returns the flight for key, creating it when absent.
// leader is true for exactly one concurrent caller.
func (c *cache[V]) joinFlight(key string) (f *flight[V], leader bool) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	if f, ok := c.flights[key]; ok {
		return f, false
	}
	f = &flight[V]{done: make(chan struct{})}
	c.flights[key] = f
	return f, true
}

// lead runs the population for f, commits the entry on success (ttl > 0),
// then clears the flight and releases every waiter. ctx is already detached
// from the leader's cancellation.
func (c *cache[V]) lead(ctx context.Context, f *flight[V], key string, ttl time.Duration, tags []string, fn PopulateFunc[V]) {
	defer func() {
		c.flightMu.Lock()
		if c.flights[key] == f {
			delete(c.flights, key)
		}
		c.flightMu.Unlock()
		close(f.done)
	}()

	v, err := c.runPopulate(ctx, key, fn)
	if err != nil {
		// negative results are never cached; waiters share the error
		f.err = err
		return
	}
	f.val = v
	if ttl > 0 {
		c.store(ctx, key, v, ttl, tags)
	}
}

// runPopulate invokes fn bounded by PopulateTimeout, converting panics into
// populate errors. When the bound is exceeded the caller moves on and the
// stray fn result, if it ever arrives, is discarded.
func (c *cache[V]) runPopulate(ctx context.Context, key string, fn PopulateFunc[V]) (V, error) {
	var zero V

	pctx, cancel := context.WithTimeout(ctx, c.populateTimeout)
	defer cancel()

	type result struct {
		v   V
		err error
	}
	resCh := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.hooks.PopulatePanic(key, r)
				resCh <- result{err: &PopulateError{Key: key, Err: fmt.Errorf("populate panicked: %v", r)}}
			}
		}()
		v, err := fn(pctx)
		if err != nil {
			resCh <- result{err: &PopulateError{Key: key, Err: err}}
			return
		}
		resCh <- result{v: v}
	}()

	select {
	case r := <-resCh:
		return r.v, r.err
	case <-pctx.Done():
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			c.hooks.PopulateTimeout(key)
			return zero, &PopulateError{Key: key, Err: ErrPopulateTimeout}
		}
		return zero, &PopulateError{Key: key, Err: pctx.Err()}
	}
}
