package authcache

import (
	"errors"
	"fmt"
)

var (
	// ErrPopulateTimeout marks a population that exceeded Options.PopulateTimeout.
	// It is wrapped in a PopulateError, so match with errors.Is.
	ErrPopulateTimeout = errors.New("authcache: populate timed out")

	// ErrClosed is returned by GetOrPopulate after Close.
	ErrClosed = errors.New("authcache: cache is closed")

	// ErrInvalidTag rejects tags the wire framing cannot carry: empty, longer
	// than 65535 bytes, or more than 65535 of them on one entry. Returned
	// wrapped; match with errors.Is.
	ErrInvalidTag = errors.New("authcache: invalid tag")
)

// PopulateError wraps the failure of a PopulateFunc. Every waiter coalesced
// onto the failed population receives the same error.
type PopulateError struct {
	Key string
	Err error
}

func (e *PopulateError) Error() string {
	return fmt.Sprintf("authcache: populate %q: %v", e.Key, e.Err)
}

func (e *PopulateError) Unwrap() error { return e.Err }

// InvalidateError reports a provider delete failure during invalidation.
// The tag index is always updated first, so a failed delete leaves at worst
// an entry that expires by its own TTL.
type InvalidateError struct {
	Key string
	Err error
}

func (e *InvalidateError) Error() string {
	return fmt.Sprintf("authcache: invalidate %q: %v", e.Key, e.Err)
}

func (e *InvalidateError) Unwrap() error { return e.Err }
