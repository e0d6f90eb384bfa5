// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/sessioncache"
//	"github.com/unkn0wn-root/sessioncache/hooks/async"
//	"github.com/unkn0wn-root/sessioncache/sloghooks"
//	"github.com/unkn0wn-root/sessioncache/store/redisstore"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    ResyncEvery:   10, // sample logs: ~every 10th resync
//	    SelfHealEvery: 1,  // log every self-heal
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	repo, _ := sessioncache.New(sessioncache.Options{
//	    Store: redisstore.New(rdb, redisstore.Options{}),
//	    Hooks: hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/sessioncache"
)

// Hooks forwards events to inner on a worker pool. Events are dropped when
// the queue is full.
type Hooks struct {
	inner   sessioncache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ sessioncache.Hooks = (*Hooks)(nil)

func New(inner sessioncache.Hooks, workers, qlen int) *Hooks {
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

// Close drains queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// lost a race with Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) Evicted(id, reason string)  { h.try(func() { h.inner.Evicted(id, reason) }) }
func (h *Hooks) SelfHeal(id, reason string) { h.try(func() { h.inner.SelfHeal(id, reason) }) }
func (h *Hooks) Resynced(id string, from, to uint64, removed int) {
	h.try(func() { h.inner.Resynced(id, from, to, removed) })
}
func (h *Hooks) CacheRejected(id string, gen, cached uint64) {
	h.try(func() { h.inner.CacheRejected(id, gen, cached) })
}
func (h *Hooks) FlushFailed(id, step string, err error) {
	h.try(func() { h.inner.FlushFailed(id, step, err) })
}
