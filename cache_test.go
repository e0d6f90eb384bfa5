package sessioncache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/sessioncache/internal/wire"
	pr "github.com/unkn0wn-root/sessioncache/provider"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu sync.Mutex
	m  map[string]memEntry
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.mu.Lock()
	p.m[key] = memEntry{v: value, exp: exp}
	p.mu.Unlock()
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

type healHooks struct {
	NopHooks
	mu       sync.Mutex
	healed   []string
	rejected int
}

func (h *healHooks) SelfHeal(id, reason string) {
	h.mu.Lock()
	h.healed = append(h.healed, id+":"+reason)
	h.mu.Unlock()
}

func (h *healHooks) CacheRejected(string, uint64, uint64) {
	h.mu.Lock()
	h.rejected++
	h.mu.Unlock()
}

func cachedRecord(id string, gen uint64, attrs map[string]any) *Record {
	r := newRecord(id, nil)
	r.created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.lastAccessed = r.created.Add(time.Minute)
	r.maxInactive = time.Hour
	r.principal = "ada"
	r.generation = gen
	for k, v := range attrs {
		r.attrs[k] = v
	}
	return r
}

// caches runs f against every SessionCache implementation.
func caches(t *testing.T, f func(t *testing.T, c SessionCache)) {
	t.Run("memory", func(t *testing.T) { f(t, NewMemoryCache(4)) })
	t.Run("provider", func(t *testing.T) {
		c, err := NewProviderCache(ProviderCacheOptions{Provider: newMemProvider(), Stripes: 4})
		if err != nil {
			t.Fatalf("NewProviderCache: %v", err)
		}
		f(t, c)
	})
}

func TestCacheRoundTrip(t *testing.T) {
	caches(t, func(t *testing.T, c SessionCache) {
		ctx := context.Background()
		in := cachedRecord("s1", 3, map[string]any{"cart": "42", "theme": "dark"})
		if !c.Put(ctx, in) {
			t.Fatal("Put rejected")
		}
		out, ok := c.Get(ctx, "s1")
		if !ok {
			t.Fatal("miss after Put")
		}
		if out.Generation() != 3 || out.Principal() != "ada" || out.MaxInactiveInterval() != time.Hour {
			t.Fatalf("scalars: gen=%d principal=%q max=%v", out.Generation(), out.Principal(), out.MaxInactiveInterval())
		}
		if !out.created.Equal(in.created) || !out.LastAccessedTime().Equal(in.lastAccessed) {
			t.Fatalf("times: created=%v last=%v", out.created, out.LastAccessedTime())
		}
		if !equalAttrs(out.Attributes(), map[string]any{"cart": "42", "theme": "dark"}) {
			t.Fatalf("attrs=%v", out.Attributes())
		}
		if out.Changes() != 0 {
			t.Fatalf("cached record carries changes %v", out.Changes())
		}
	})
}

func TestCachePutRejectsLowerGeneration(t *testing.T) {
	caches(t, func(t *testing.T, c SessionCache) {
		ctx := context.Background()
		c.Put(ctx, cachedRecord("s1", 5, map[string]any{"v": "new"}))
		if c.Put(ctx, cachedRecord("s1", 4, map[string]any{"v": "old"})) {
			t.Fatal("lower generation accepted")
		}
		got, _ := c.Get(ctx, "s1")
		if got.Generation() != 5 || got.attrs["v"] != "new" {
			t.Fatalf("cache regressed to gen=%d v=%v", got.Generation(), got.attrs["v"])
		}
		// equal generations replace (control fields may have moved)
		same := cachedRecord("s1", 5, map[string]any{"v": "new"})
		same.principal = "bob"
		if !c.Put(ctx, same) {
			t.Fatal("equal generation rejected")
		}
		got, _ = c.Get(ctx, "s1")
		if got.Principal() != "bob" {
			t.Fatalf("principal=%q", got.Principal())
		}
	})
}

func TestCacheCopiesInAndOut(t *testing.T) {
	caches(t, func(t *testing.T, c SessionCache) {
		ctx := context.Background()
		in := cachedRecord("s1", 1, map[string]any{"a": "1"})
		c.Put(ctx, in)
		in.attrs["a"] = "mutated"

		out, _ := c.Get(ctx, "s1")
		if out.attrs["a"] != "1" {
			t.Fatal("cache shares the caller's map")
		}
		out.SetAttribute("b", "2")
		again, _ := c.Get(ctx, "s1")
		if again.HasAttribute("b") || again.Changes() != 0 {
			t.Fatal("cache shares the returned record")
		}
	})
}

func TestCacheRemove(t *testing.T) {
	caches(t, func(t *testing.T, c SessionCache) {
		ctx := context.Background()
		c.Put(ctx, cachedRecord("s1", 1, nil))
		c.Remove(ctx, "s1")
		c.Remove(ctx, "s1")
		if _, ok := c.Get(ctx, "s1"); ok {
			t.Fatal("hit after Remove")
		}
		if err := c.Close(ctx); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
}

func TestMemoryCacheRejectHook(t *testing.T) {
	h := &healHooks{}
	c := NewMemoryCache(0).WithHooks(h)
	ctx := context.Background()
	c.Put(ctx, cachedRecord("s1", 2, nil))
	c.Put(ctx, cachedRecord("s1", 1, nil))
	if h.rejected != 1 {
		t.Fatalf("rejected=%d", h.rejected)
	}
	if c.Len() != 1 {
		t.Fatalf("Len=%d", c.Len())
	}
}

func TestProviderCacheSelfHealsCorruptFrames(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := &healHooks{}
	c, err := NewProviderCache(ProviderCacheOptions{Provider: mp, Namespace: "t", Hooks: h})
	if err != nil {
		t.Fatal(err)
	}

	_, _ = mp.Set(ctx, "session:t:s1", []byte("not a frame"), 0, 0)
	if _, ok := c.Get(ctx, "s1"); ok {
		t.Fatal("corrupt frame decoded")
	}
	if _, ok, _ := mp.Get(ctx, "session:t:s1"); ok {
		t.Fatal("corrupt frame not deleted")
	}

	// a valid frame stored under the wrong key
	b, err := wire.EncodeRecord(wire.Record{ID: "other", Generation: 1})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = mp.Set(ctx, "session:t:s2", b, 0, 0)
	if _, ok := c.Get(ctx, "s2"); ok {
		t.Fatal("frame for another id returned")
	}

	// undecodable attribute payload
	b, _ = wire.EncodeRecord(wire.Record{ID: "s3", Generation: 1, Attrs: []wire.Attr{{Name: "a", Payload: []byte{0xc1}}}})
	_, _ = mp.Set(ctx, "session:t:s3", b, 0, 0)
	if _, ok := c.Get(ctx, "s3"); ok {
		t.Fatal("bad payload decoded")
	}

	want := []string{"s1:corrupt", "s2:id_mismatch", "s3:value_decode"}
	if len(h.healed) != len(want) {
		t.Fatalf("healed=%v", h.healed)
	}
	for i := range want {
		if h.healed[i] != want[i] {
			t.Fatalf("healed=%v want %v", h.healed, want)
		}
	}

	// a corrupt entry never blocks a fresh Put
	_, _ = mp.Set(ctx, "session:t:s1", []byte("junk"), 0, 0)
	if !c.Put(ctx, cachedRecord("s1", 1, nil)) {
		t.Fatal("Put over corrupt entry failed")
	}
	if _, ok := c.Get(ctx, "s1"); !ok {
		t.Fatal("miss after Put")
	}
}

func TestProviderCacheEncodeFailureDropsEntry(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	c, _ := NewProviderCache(ProviderCacheOptions{Provider: mp})

	c.Put(ctx, cachedRecord("s1", 1, map[string]any{"a": "ok"}))
	bad := cachedRecord("s1", 2, map[string]any{"f": func() {}})
	if c.Put(ctx, bad) {
		t.Fatal("unencodable record accepted")
	}
	if _, ok := c.Get(ctx, "s1"); ok {
		t.Fatal("stale entry survived a failed rewrite")
	}
}

func TestProviderCacheBacksRepository(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	pc, _ := NewProviderCache(ProviderCacheOptions{Provider: mp})
	f := newFixture(t, func(o *Options) { o.Cache = pc })
	f.seed(t, "s1", map[string]any{"a": "1"})

	if _, ok, err := f.repo.FindByID(ctx, "s1"); err != nil || !ok {
		t.Fatalf("find ok=%v err=%v", ok, err)
	}
	attrReads := f.st.count("GetAttributes")
	rec, ok, err := f.repo.FindByID(ctx, "s1")
	if err != nil || !ok || rec.attrs["a"] != "1" {
		t.Fatalf("second find rec=%v ok=%v err=%v", rec, ok, err)
	}
	if f.st.count("GetAttributes") != attrReads {
		t.Fatal("warm provider cache still read the snapshot")
	}
}
