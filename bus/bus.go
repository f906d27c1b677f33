// Package bus fans invalidation events out to cache instances without
// publishers knowing which caches exist. Delivery is fire-and-forget and
// best-effort: no persistence, no replay. An instance that is down when an
// event fires serves stale data until its own TTL expires - an accepted
// tradeoff, not a bug.
package bus

import "context"

// Kind discriminates invalidation events.
type Kind uint8

const (
	// KindKey invalidates a single cache key.
	KindKey Kind = iota + 1
	// KindTag invalidates every entry carrying a tag.
	KindTag
)

// Event is one invalidation. Value is the key or the tag, per Kind.
type Event struct {
	Kind  Kind   `msgpack:"k"`
	Value string `msgpack:"v"`
}

// KeyInvalidated builds a key event.
func KeyInvalidated(key string) Event { return Event{Kind: KindKey, Value: key} }

// TagInvalidated builds a tag event.
func TagInvalidated(tag string) Event { return Event{Kind: KindTag, Value: tag} }

// Handler consumes events. It runs on the bus's delivery goroutine and must
// be cheap; do heavy work elsewhere.
type Handler func(Event)

// Bus is the invalidation fan-out contract.
type Bus interface {
	// Publish emits an event to all current subscribers, best-effort.
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers h for every subsequent event and returns a cancel
	// func that unregisters it. Cancel is idempotent.
	Subscribe(h Handler) (cancel func())
	// Close stops delivery and releases resources.
	Close(ctx context.Context) error
}

// Invalidator is the subset of the cache API the bus drives. The root
// authcache.Cache satisfies it for any value type.
type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
	InvalidateByTag(ctx context.Context, tag string) error
}

// Bind subscribes target to b so key events call Invalidate and tag events
// call InvalidateByTag. It returns the subscription's cancel func.
func Bind(b Bus, target Invalidator) (cancel func()) {
	return b.Subscribe(func(ev Event) {
		ctx := context.Background()
		switch ev.Kind {
		case KindKey:
			_ = target.Invalidate(ctx, ev.Value)
		case KindTag:
			_ = target.InvalidateByTag(ctx, ev.Value)
		}
	})
}
