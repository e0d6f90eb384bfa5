package sessioncache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/sessioncache/store"
	"github.com/unkn0wn-root/sessioncache/store/memstore"
)

var errInjected = errors.New("injected store failure")

// countingStore wraps a store, counts calls per operation and can fail one.
// It deliberately hides Transactor so flushes run step by step.
type countingStore struct {
	inner store.Store

	mu      sync.Mutex
	calls   map[string]int
	ops     []string
	failOn  string
	failErr error
}

func newCountingStore(inner store.Store) *countingStore {
	return &countingStore{inner: inner, calls: make(map[string]int)}
}

func (s *countingStore) hit(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	s.ops = append(s.ops, op)
	if s.failOn == op {
		if s.failErr != nil {
			return s.failErr
		}
		return errInjected
	}
	return nil
}

func (s *countingStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// takeOps returns and resets the operation log.
func (s *countingStore) takeOps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.ops
	s.ops = nil
	return out
}

func (s *countingStore) fail(op string, err error) {
	s.mu.Lock()
	s.failOn, s.failErr = op, err
	s.mu.Unlock()
}

func (s *countingStore) GetControl(ctx context.Context, id string) (store.Control, bool, error) {
	if err := s.hit("GetControl"); err != nil {
		return store.Control{}, false, err
	}
	return s.inner.GetControl(ctx, id)
}

func (s *countingStore) GetAttributes(ctx context.Context, id string, since uint64) ([]store.Attribute, error) {
	if err := s.hit("GetAttributes"); err != nil {
		return nil, err
	}
	return s.inner.GetAttributes(ctx, id, since)
}

func (s *countingStore) CreateControl(ctx context.Context, id string, init store.ControlInit) (time.Time, error) {
	if err := s.hit("CreateControl"); err != nil {
		return time.Time{}, err
	}
	return s.inner.CreateControl(ctx, id, init)
}

func (s *countingStore) UpdateControl(ctx context.Context, id string, u store.ControlUpdate) error {
	if err := s.hit("UpdateControl"); err != nil {
		return err
	}
	return s.inner.UpdateControl(ctx, id, u)
}

func (s *countingStore) ChangeSessionID(ctx context.Context, oldID, newID string) error {
	if err := s.hit("ChangeSessionID"); err != nil {
		return err
	}
	return s.inner.ChangeSessionID(ctx, oldID, newID)
}

func (s *countingStore) WriteAttribute(ctx context.Context, id, name string, v any) error {
	if err := s.hit("WriteAttribute"); err != nil {
		return err
	}
	return s.inner.WriteAttribute(ctx, id, name, v)
}

func (s *countingStore) DeleteAttribute(ctx context.Context, id, name string) error {
	if err := s.hit("DeleteAttribute"); err != nil {
		return err
	}
	return s.inner.DeleteAttribute(ctx, id, name)
}

func (s *countingStore) BumpGeneration(ctx context.Context, id string) (uint64, error) {
	if err := s.hit("BumpGeneration"); err != nil {
		return 0, err
	}
	return s.inner.BumpGeneration(ctx, id)
}

func (s *countingStore) RemoveSession(ctx context.Context, id string) error {
	if err := s.hit("RemoveSession"); err != nil {
		return err
	}
	return s.inner.RemoveSession(ctx, id)
}

// txStore exposes memstore transactions with a countingStore inside them.
type txStore struct {
	*countingStore
	mem *memstore.Store
}

func (s *txStore) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return s.mem.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		inner := s.countingStore.inner
		s.countingStore.inner = tx
		defer func() { s.countingStore.inner = inner }()
		return fn(ctx, s.countingStore)
	})
}

// recordingHooks remembers evictions and resyncs.
type recordingHooks struct {
	NopHooks
	mu       sync.Mutex
	evicted  []string
	resynced int
	failed   []string
}

func (h *recordingHooks) Evicted(id, reason string) {
	h.mu.Lock()
	h.evicted = append(h.evicted, id+":"+reason)
	h.mu.Unlock()
}

func (h *recordingHooks) Resynced(string, uint64, uint64, int) {
	h.mu.Lock()
	h.resynced++
	h.mu.Unlock()
}

func (h *recordingHooks) FlushFailed(id, step string, _ error) {
	h.mu.Lock()
	h.failed = append(h.failed, id+":"+step)
	h.mu.Unlock()
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func seqIDs(prefix string) IDGenerator {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + string(rune('a'+n-1)) + "-0000", nil
	}
}

type fixture struct {
	mem   *memstore.Store
	st    *countingStore
	cache *MemoryCache
	hooks *recordingHooks
	clk   *clock
	repo  Repository
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	clk := newClock()
	f := &fixture{
		mem:   memstore.NewWithClock(clk.Now),
		cache: NewMemoryCache(4),
		hooks: &recordingHooks{},
		clk:   clk,
	}
	f.st = newCountingStore(f.mem)
	opts := Options{
		Store:       f.st,
		Cache:       f.cache,
		Hooks:       f.hooks,
		Now:         clk.Now,
		IDGenerator: seqIDs("sid-"),
	}
	if mutate != nil {
		mutate(&opts)
	}
	repo, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(context.Background()) })
	f.repo = repo
	return f
}

// seed persists a session directly in the store at generation len(writes).
func (f *fixture) seed(t *testing.T, id string, writes ...map[string]any) time.Time {
	t.Helper()
	ctx := context.Background()
	created, err := f.mem.CreateControl(ctx, id, store.ControlInit{
		LastAccessed: f.clk.Now(),
		MaxInactive:  time.Hour,
	})
	if err != nil {
		t.Fatalf("seed create: %v", err)
	}
	for _, w := range writes {
		for k, v := range w {
			if v == nil {
				err = f.mem.DeleteAttribute(ctx, id, k)
			} else {
				err = f.mem.WriteAttribute(ctx, id, k, v)
			}
			if err != nil {
				t.Fatalf("seed write: %v", err)
			}
		}
		if _, err := f.mem.BumpGeneration(ctx, id); err != nil {
			t.Fatalf("seed bump: %v", err)
		}
	}
	return created
}

func equalAttrs(got, want map[string]any) bool {
	if len(got) != len(want) {
		return false
	}
	for k, v := range want {
		if gv, ok := got[k]; !ok || gv != v {
			return false
		}
	}
	return true
}
