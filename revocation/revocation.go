// Package revocation implements a shared set of revoked token identifiers
// (jtis) with TTL-aligned cleanup. The conditional insert is the replay
// guard for refresh rotation: concurrent Adds for the same jti produce
// exactly one winner.
//
// Backends: Local (in-process map, default) for single-process deployments
// and tests, Redis for multi-process deployments.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/authcache"
)

// ErrUnavailable marks a backend I/O failure. Callers must fail closed:
// a token whose revocation state cannot be read is untrusted, never valid.
var ErrUnavailable = errors.New("revocation: backend unavailable")

// Backend abstracts where revocation entries live. Add must be atomic
// (insert-if-absent); if the underlying store cannot provide that, the
// implementation must layer its own lock around check-then-insert.
type Backend interface {
	// Add inserts jti only if absent and reports whether this call performed
	// the insert. The entry must not outlive expiresAt.
	Add(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
	// Contains reports whether jti is currently revoked.
	Contains(ctx context.Context, jti string) (bool, error)
	// Close releases resources (no-op ok).
	Close(ctx context.Context) error
}

// BackendError wraps a backend failure; errors.Is(err, ErrUnavailable)
// matches it while the cause stays reachable via Unwrap.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("revocation: %s: backend unavailable: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return target == ErrUnavailable }

// Store is the revocation set used by the token authority. It owns error
// classification (fail-closed) and clamps inserts for already-dead tokens.
type Store struct {
	b   Backend
	log authcache.Logger
	now func() time.Time
}

type StoreOptions struct {
	Backend Backend // required
	Logger  authcache.Logger
	Now     func() time.Time // injectable clock; nil => time.Now
}

func NewStore(opts StoreOptions) (*Store, error) {
	if opts.Backend == nil {
		return nil, errors.New("revocation: backend is required")
	}
	s := &Store{
		b:   opts.Backend,
		log: opts.Logger,
		now: opts.Now,
	}
	if s.log == nil {
		s.log = authcache.NopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Add records jti as revoked until expiresAt. It reports whether this call
// won the insert; false means someone else revoked the jti first. Inserting
// an already-expired jti is a no-op reported as won: the token is dead on
// its own and needs no entry.
func (s *Store) Add(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	if jti == "" {
		return false, errors.New("revocation: empty jti")
	}
	if !expiresAt.After(s.now()) {
		return true, nil
	}
	ok, err := s.b.Add(ctx, jti, expiresAt)
	if err != nil {
		s.log.Error("revocation add failed", authcache.Fields{"jti": jti, "err": err})
		return false, &BackendError{Op: "add", Err: err}
	}
	return ok, nil
}

// Contains reports whether jti is revoked. Backend failures surface as
// ErrUnavailable so callers treat the token as untrusted.
func (s *Store) Contains(ctx context.Context, jti string) (bool, error) {
	revoked, err := s.b.Contains(ctx, jti)
	if err != nil {
		s.log.Error("revocation lookup failed", authcache.Fields{"jti": jti, "err": err})
		return false, &BackendError{Op: "contains", Err: err}
	}
	return revoked, nil
}

func (s *Store) Close(ctx context.Context) error { return s.b.Close(ctx) }
