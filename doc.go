// Package authcache implements a provider-agnostic, single-flight cache with
// tag-based invalidation. For any key, at most one populate computation runs
// at a time; concurrent requesters for the same key are coalesced onto the
// in-flight population and all observe the same result.
//
// Components:
//   - Provider: byte store with TTL (e.g. Ristretto, BigCache, Redis).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - Tag index: in-process tag -> keys mapping so invalidation can be
//     expressed semantically ("everything tagged user:42") instead of by
//     reconstructing key strings at call sites.
//   - bus: best-effort fan-out of key/tag invalidation events across cache
//     instances (see the bus subpackage).
//   - token + revocation: a session token authority built on top of the
//     cache core (see the token and revocation subpackages).
//
// Keys:
//
//	sf:<ns>:<key> - cache entries (namespace-isolated)
//
// Population pattern:
//
//	v, err := cache.GetOrPopulate(ctx, k, cache.DefaultTTL(), []string{"user:42"},
//	    func(ctx context.Context) (User, error) { return readFromDB(ctx, k) })
//
// A populate error is shared by every coalesced waiter and is never cached;
// ttl <= 0 means "do not cache" (the result is still shared with waiters).
package authcache
