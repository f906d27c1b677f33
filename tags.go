package authcache

import (
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/authcache/internal/wire"
)

// validateTags rejects tag sets the wire framing cannot represent. Tags are
// raw caller strings; they must be checked here, on the caller's goroutine,
// before they ever reach the frame encoder.
func validateTags(tags []string) error {
	if len(tags) > wire.MaxTags {
		return fmt.Errorf("%w: %d tags on one entry (max %d)", ErrInvalidTag, len(tags), wire.MaxTags)
	}
	for _, t := range tags {
		if t == "" {
			return fmt.Errorf("%w: empty tag", ErrInvalidTag)
		}
		if len(t) > wire.MaxTagLen {
			return fmt.Errorf("%w: tag of %d bytes (max %d)", ErrInvalidTag, len(t), wire.MaxTagLen)
		}
	}
	return nil
}

type keyTags struct {
	tags      []string
	expiresAt time.Time
}

// tagIndex maintains the auxiliary tag -> storage-keys mapping alongside the
// entry lifecycle, keeping InvalidateByTag O(entries-with-tag) instead of a
// full scan. It is process-local; cross-instance convergence goes through
// the invalidation bus.
type tagIndex struct {
	mu    sync.Mutex
	byTag map[string]map[string]struct{}
	byKey map[string]keyTags
}

func newTagIndex() *tagIndex {
	return &tagIndex{
		byTag: make(map[string]map[string]struct{}),
		byKey: make(map[string]keyTags),
	}
}

// add registers key under every tag, replacing any previous registration.
func (x *tagIndex) add(key string, tags []string, expiresAt time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.detachLocked(key)
	if len(tags) == 0 {
		return
	}
	kt := keyTags{tags: append([]string(nil), tags...), expiresAt: expiresAt}
	x.byKey[key] = kt
	for _, t := range tags {
		set, ok := x.byTag[t]
		if !ok {
			set = make(map[string]struct{})
			x.byTag[t] = set
		}
		set[key] = struct{}{}
	}
}

// removeKey drops key from the index entirely.
func (x *tagIndex) removeKey(key string) {
	x.mu.Lock()
	x.detachLocked(key)
	x.mu.Unlock()
}

// take returns every key registered under tag and removes them from the
// index (including their registrations under other tags).
func (x *tagIndex) take(tag string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	set, ok := x.byTag[tag]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	for _, k := range keys {
		x.detachLocked(k)
	}
	return keys
}

// prune evicts index entries whose cache entry has expired on its own.
func (x *tagIndex) prune(now time.Time) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	var removed int
	for k, kt := range x.byKey {
		if !kt.expiresAt.IsZero() && kt.expiresAt.Before(now) {
			x.detachLocked(k)
			removed++
		}
	}
	return removed
}

func (x *tagIndex) detachLocked(key string) {
	kt, ok := x.byKey[key]
	if !ok {
		return
	}
	for _, t := range kt.tags {
		if set, ok := x.byTag[t]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(x.byTag, t)
			}
		}
	}
	delete(x.byKey, key)
}
