// Package token issues, validates, and rotates signed session token pairs
// (short-lived access + long-lived refresh) and enforces revocation through
// a revocation.Store.
//
// Refresh rotation is replay-safe: rotating consumes the old refresh jti via
// a conditional insert, so of two racing Rotate calls on the same token
// exactly one wins and the other observes "revoked". Validation is a pure
// read; it never mutates revocation state.
//
// An optional validation cache (an authcache.Cache[Claims]) collapses
// repeated signature/revocation checks for hot tokens. Cached entries are
// tagged "jti:<jti>" so Revoke evicts them immediately. Errors coming out of
// the cached path are wrapped in authcache.PopulateError; match them with
// errors.Is as usual.
package token
