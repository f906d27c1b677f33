// Package sloghook logs cache hook events through log/slog, with sampling
// for the chatty ones and key redaction by default (cache keys can embed
// token material; never log them raw).
package sloghook

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/authcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery     uint64
	FlightSharedEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	sharedCtr   atomic.Uint64
}

var _ authcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sampled(ctr *atomic.Uint64, every uint64) bool {
	if every <= 1 {
		return true
	}
	return ctr.Add(1)%every == 1
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if !sampled(&h.selfHealCtr, h.opts.SelfHealEvery) {
		return
	}
	h.l.Warn("cache self-heal", "key", h.redact(storageKey), "reason", reason)
}

func (h *Hooks) FlightShared(key string) {
	if !sampled(&h.sharedCtr, h.opts.FlightSharedEvery) {
		return
	}
	h.l.Debug("population shared", "key", h.redact(key))
}

func (h *Hooks) PopulatePanic(key string, recovered any) {
	h.l.Error("populate panicked", "key", h.redact(key), "panic", recovered)
}

func (h *Hooks) PopulateTimeout(key string) {
	h.l.Warn("populate timed out", "key", h.redact(key))
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	h.l.Warn("provider rejected set", "key", h.redact(storageKey))
}

func (h *Hooks) SweepPruned(removed int) {
	h.l.Debug("tag index sweep", "removed", removed)
}
