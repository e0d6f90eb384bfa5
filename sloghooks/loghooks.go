// Package sloghooks logs sessioncache hook events to a *slog.Logger.
package sloghooks

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/sessioncache"
	"github.com/unkn0wn-root/sessioncache/mask"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ResyncEvery   uint64
	EvictEvery    uint64
	SelfHealEvery uint64
	// Optional id redactor. Defaults to mask.ID.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	resyncCtr   atomic.Uint64
	evictCtr    atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ sessioncache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(id string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(id)
	}
	return mask.ID(id)
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Resynced(id string, fromGen, toGen uint64, removed int) {
	if h.l == nil || !sample(h.opts.ResyncEvery, &h.resyncCtr) {
		return
	}
	h.l.Debug("sessioncache.resynced",
		"id", h.redact(id),
		"from_gen", fromGen,
		"to_gen", toGen,
		"removed", removed)
}

func (h *Hooks) Evicted(id, reason string) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("sessioncache.evicted",
		"id", h.redact(id),
		"reason", reason)
}

func (h *Hooks) CacheRejected(id string, gen, cached uint64) {
	if h.l == nil {
		return
	}
	h.l.Info("sessioncache.cache_rejected",
		"id", h.redact(id),
		"gen", gen,
		"cached_gen", cached)
}

func (h *Hooks) SelfHeal(id, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Warn("sessioncache.self_heal",
		"id", h.redact(id),
		"reason", reason)
}

func (h *Hooks) FlushFailed(id, step string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("sessioncache.flush_failed",
		"id", h.redact(id),
		"step", step,
		"err", err)
}
