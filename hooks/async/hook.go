// Package asynchook decouples hook sinks from the cache's hot paths: events
// are queued and delivered by worker goroutines; when the queue is full
// events are dropped rather than blocking the caller.
//
// usage:
//
//	raw := sloghook.New(slog.Default(), sloghook.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := authcache.New[User](authcache.Options[User]{
//	    Namespace: "app:prod:user",
//	    Provider:  provider,
//	    Codec:     codec.JSON[User]{},
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/authcache"
)

type Hooks struct {
	inner authcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ authcache.Hooks = (*Hooks)(nil)

func New(inner authcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SelfHeal(k, r string)  { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) FlightShared(k string) { h.try(func() { h.inner.FlightShared(k) }) }

func (h *Hooks) PopulatePanic(k string, v any) {
	h.try(func() { h.inner.PopulatePanic(k, v) })
}

func (h *Hooks) PopulateTimeout(k string) { h.try(func() { h.inner.PopulateTimeout(k) }) }

func (h *Hooks) ProviderSetRejected(k string) {
	h.try(func() { h.inner.ProviderSetRejected(k) })
}

func (h *Hooks) SweepPruned(n int) { h.try(func() { h.inner.SweepPruned(n) }) }
