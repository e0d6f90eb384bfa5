package sessioncache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/sessioncache/codec"
	"github.com/unkn0wn-root/sessioncache/internal/util"
	"github.com/unkn0wn-root/sessioncache/internal/wire"
	"github.com/unkn0wn-root/sessioncache/provider"
)

// ProviderCacheOptions configure a SessionCache over a byte provider.
// Only Provider is required.
type ProviderCacheOptions struct {
	Provider  provider.Provider
	Codec     codec.Codec[any] // attribute values; nil => codec.Default()
	Namespace string           // key prefix; "" => "sessions"
	TTL       time.Duration    // per entry; 0 => 30m
	Stripes   int              // per-id lock stripes; 0 => 64
	Logger    Logger
	Hooks     Hooks
}

// ProviderCache stores records as wire frames in a provider.Provider
// (ristretto, bigcache). Frames that fail to decode are deleted and read as
// a miss. Provider errors are logged and degrade to misses.
type ProviderCache struct {
	p       provider.Provider
	codec   codec.Codec[any]
	ns      string
	ttl     time.Duration
	stripes []sync.Mutex
	log     Logger
	hooks   Hooks
}

var _ SessionCache = (*ProviderCache)(nil)

func NewProviderCache(opts ProviderCacheOptions) (*ProviderCache, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("sessioncache: provider is required")
	}
	c := &ProviderCache{
		p:       opts.Provider,
		codec:   coalesce[codec.Codec[any]](opts.Codec, codec.Default()),
		ns:      coalesce(opts.Namespace, "sessions"),
		ttl:     coalesce(opts.TTL, defaultMaxInactive),
		stripes: make([]sync.Mutex, max(coalesce(opts.Stripes, defaultShards), 1)),
		log:     coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:   coalesce[Hooks](opts.Hooks, NopHooks{}),
	}
	return c, nil
}

func (c *ProviderCache) key(id string) string { return "session:" + c.ns + ":" + id }

func (c *ProviderCache) lock(id string) func() {
	mu := &c.stripes[util.Shard(id, len(c.stripes))]
	mu.Lock()
	return mu.Unlock
}

func (c *ProviderCache) Get(ctx context.Context, id string) (*Record, bool) {
	defer c.lock(id)()
	return c.load(ctx, id)
}

// load reads and decodes id; the caller holds the stripe.
func (c *ProviderCache) load(ctx context.Context, id string) (*Record, bool) {
	k := c.key(id)
	raw, ok, err := c.p.Get(ctx, k)
	if err != nil {
		c.log.Warn("provider get failed", Fields{"id": maskID(id), "err": err})
		return nil, false
	}
	if !ok {
		return nil, false
	}
	rec, reason := c.decode(raw)
	if rec == nil || rec.id != id {
		if reason == "" {
			reason = "id_mismatch"
		}
		_ = c.p.Del(ctx, k) // self-heal
		c.hooks.SelfHeal(id, reason)
		c.log.Warn("dropped undecodable cache entry", Fields{"id": maskID(id), "reason": reason})
		return nil, false
	}
	return rec, true
}

func (c *ProviderCache) decode(raw []byte) (*Record, string) {
	w, err := wire.DecodeRecord(raw)
	if err != nil {
		return nil, "corrupt"
	}
	rec := newRecord(w.ID, nil)
	rec.principal = w.Principal
	rec.generation = w.Generation
	rec.created = w.Created
	rec.lastAccessed = w.LastAccessed
	rec.authenticatedAt = w.AuthenticatedAt
	rec.verifiedAt = w.VerifiedAt
	rec.maxInactive = w.MaxInactive
	for _, a := range w.Attrs {
		v, err := c.codec.Decode(a.Payload)
		if err != nil {
			return nil, "value_decode"
		}
		rec.attrs[a.Name] = v
	}
	return rec, ""
}

func (c *ProviderCache) encode(rec *Record) ([]byte, error) {
	names := rec.AttributeNames()
	w := wire.Record{
		ID:              rec.id,
		Principal:       rec.principal,
		Generation:      rec.generation,
		Created:         rec.created,
		LastAccessed:    rec.lastAccessed,
		AuthenticatedAt: rec.authenticatedAt,
		VerifiedAt:      rec.verifiedAt,
		MaxInactive:     rec.maxInactive,
		Attrs:           make([]wire.Attr, 0, len(names)),
	}
	for _, n := range names {
		payload, err := c.codec.Encode(rec.attrs[n])
		if err != nil {
			return nil, fmt.Errorf("encode attribute %q: %w", n, err)
		}
		w.Attrs = append(w.Attrs, wire.Attr{Name: n, Payload: payload})
	}
	return wire.EncodeRecord(w)
}

func (c *ProviderCache) Put(ctx context.Context, rec *Record) bool {
	if rec == nil {
		return false
	}
	id := rec.id
	defer c.lock(id)()

	if cur, ok := c.load(ctx, id); ok && cur.generation > rec.generation {
		c.hooks.CacheRejected(id, rec.generation, cur.generation)
		return false
	}
	b, err := c.encode(rec)
	if err != nil {
		// an entry we cannot rewrite must not outlive the record it described
		_ = c.p.Del(ctx, c.key(id))
		c.log.Warn("cache encode failed", Fields{"id": maskID(id), "err": err})
		return false
	}
	ok, err := c.p.Set(ctx, c.key(id), b, int64(len(b)), c.ttl)
	if err != nil {
		c.log.Warn("provider set failed", Fields{"id": maskID(id), "err": err})
		return false
	}
	if !ok {
		c.log.Debug("provider rejected set (pressure)", Fields{"id": maskID(id)})
	}
	return ok
}

func (c *ProviderCache) Remove(ctx context.Context, id string) {
	defer c.lock(id)()
	if err := c.p.Del(ctx, c.key(id)); err != nil {
		c.log.Warn("provider delete failed", Fields{"id": maskID(id), "err": err})
	}
}

func (c *ProviderCache) Close(ctx context.Context) error { return c.p.Close(ctx) }
