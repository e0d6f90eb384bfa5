package sessioncache

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/sessioncache/internal/util"
)

// SessionCache maps session ids to records. Get and Put for one id behave as
// if run under a per-id lock; distinct ids do not block each other.
//
// Put keeps the cached record when the incoming one has a lower generation,
// so two racing reconciliations can never move a cached entry backwards.
// Records cross the boundary by copy in both directions.
type SessionCache interface {
	Get(ctx context.Context, id string) (*Record, bool)
	// Put stores a clean copy of rec under rec.ID(). It returns false when
	// the cache kept a newer record instead.
	Put(ctx context.Context, rec *Record) bool
	Remove(ctx context.Context, id string)
	Close(ctx context.Context) error
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*Record
}

// MemoryCache is the default SessionCache: a sharded map of records.
type MemoryCache struct {
	shards []shard
	hooks  Hooks
}

var _ SessionCache = (*MemoryCache)(nil)

// NewMemoryCache returns a cache with n shards (0 => 64).
func NewMemoryCache(n int) *MemoryCache {
	n = coalesce(n, defaultShards)
	if n < 0 {
		n = 1
	}
	c := &MemoryCache{shards: make([]shard, n), hooks: NopHooks{}}
	for i := range c.shards {
		c.shards[i].m = make(map[string]*Record)
	}
	return c
}

// WithHooks sets the hooks notified on rejected puts and returns c.
func (c *MemoryCache) WithHooks(h Hooks) *MemoryCache {
	if h != nil {
		c.hooks = h
	}
	return c
}

func (c *MemoryCache) shardFor(id string) *shard {
	return &c.shards[util.Shard(id, len(c.shards))]
}

func (c *MemoryCache) Get(_ context.Context, id string) (*Record, bool) {
	s := c.shardFor(id)
	s.mu.RLock()
	r, ok := s.m[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

func (c *MemoryCache) Put(_ context.Context, rec *Record) bool {
	if rec == nil {
		return false
	}
	snap := rec.snapshot()
	s := c.shardFor(snap.id)
	s.mu.Lock()
	if cur, ok := s.m[snap.id]; ok && cur.generation > snap.generation {
		s.mu.Unlock()
		c.hooks.CacheRejected(snap.id, snap.generation, cur.generation)
		return false
	}
	s.m[snap.id] = snap
	s.mu.Unlock()
	return true
}

func (c *MemoryCache) Remove(_ context.Context, id string) {
	s := c.shardFor(id)
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

// Len returns the number of cached records.
func (c *MemoryCache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

func (c *MemoryCache) Close(context.Context) error { return nil }
