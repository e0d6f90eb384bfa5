// Package memstore is an in-process store.Store.
//
// It is the default backing for tests and single-process tools. Transactions
// are copy-on-write: InTx works on a private copy of every session and swaps
// it in only when fn succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/sessioncache/store"
)

type entry struct {
	ctl   store.Control
	attrs map[string]any
}

func (e *entry) clone() *entry {
	attrs := make(map[string]any, len(e.attrs))
	for k, v := range e.attrs {
		attrs[k] = v
	}
	return &entry{ctl: e.ctl, attrs: attrs}
}

type state map[string]*entry

// Store keeps sessions in a mutex-guarded map.
type Store struct {
	mu   sync.Mutex
	data state
	now  func() time.Time
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)

// New returns an empty store stamping creation times with time.Now.
func New() *Store { return NewWithClock(time.Now) }

// NewWithClock returns an empty store using now for creation times.
func NewWithClock(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{data: make(state), now: now}
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *Store) GetControl(_ context.Context, id string) (store.Control, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.getControl(id)
}

func (s *Store) GetAttributes(_ context.Context, id string, _ uint64) ([]store.Attribute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.getAttributes(id), nil
}

func (s *Store) CreateControl(_ context.Context, id string, init store.ControlInit) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.create(id, init, s.now())
}

func (s *Store) UpdateControl(_ context.Context, id string, u store.ControlUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.update(id, u)
}

func (s *Store) ChangeSessionID(_ context.Context, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.rename(oldID, newID)
}

func (s *Store) WriteAttribute(_ context.Context, id, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.write(id, name, value)
}

func (s *Store) DeleteAttribute(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.del(id, name)
}

func (s *Store) BumpGeneration(_ context.Context, id string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.bump(id)
}

func (s *Store) RemoveSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

// InTx runs fn against a private copy of the store and commits it when fn
// returns nil. fn must use tx only; calling s from inside fn deadlocks.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := make(state, len(s.data))
	for k, e := range s.data {
		work[k] = e.clone()
	}
	if err := fn(ctx, &txView{st: work, now: s.now}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// txView is the transaction-bound Store handed to InTx callbacks.
// The enclosing InTx holds the lock.
type txView struct {
	st  state
	now func() time.Time
}

func (t *txView) GetControl(_ context.Context, id string) (store.Control, bool, error) {
	return t.st.getControl(id)
}
func (t *txView) GetAttributes(_ context.Context, id string, _ uint64) ([]store.Attribute, error) {
	return t.st.getAttributes(id), nil
}
func (t *txView) CreateControl(_ context.Context, id string, init store.ControlInit) (time.Time, error) {
	return t.st.create(id, init, t.now())
}
func (t *txView) UpdateControl(_ context.Context, id string, u store.ControlUpdate) error {
	return t.st.update(id, u)
}
func (t *txView) ChangeSessionID(_ context.Context, oldID, newID string) error {
	return t.st.rename(oldID, newID)
}
func (t *txView) WriteAttribute(_ context.Context, id, name string, value any) error {
	return t.st.write(id, name, value)
}
func (t *txView) DeleteAttribute(_ context.Context, id, name string) error {
	return t.st.del(id, name)
}
func (t *txView) BumpGeneration(_ context.Context, id string) (uint64, error) {
	return t.st.bump(id)
}
func (t *txView) RemoveSession(_ context.Context, id string) error {
	delete(t.st, id)
	return nil
}

func (st state) getControl(id string) (store.Control, bool, error) {
	e, ok := st[id]
	if !ok {
		return store.Control{}, false, nil
	}
	return e.ctl, true, nil
}

func (st state) getAttributes(id string) []store.Attribute {
	e, ok := st[id]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(e.attrs))
	for k := range e.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]store.Attribute, 0, len(names))
	for _, n := range names {
		out = append(out, store.Attribute{Name: n, Value: e.attrs[n], Present: true})
	}
	return out
}

func (st state) create(id string, init store.ControlInit, now time.Time) (time.Time, error) {
	if _, ok := st[id]; ok {
		return time.Time{}, store.ErrSessionExists
	}
	st[id] = &entry{
		ctl: store.Control{
			Created:         now,
			LastAccessed:    init.LastAccessed,
			MaxInactive:     init.MaxInactive,
			Principal:       init.Principal,
			AuthenticatedAt: init.AuthenticatedAt,
		},
		attrs: make(map[string]any),
	}
	return now, nil
}

func (st state) update(id string, u store.ControlUpdate) error {
	e, ok := st[id]
	if !ok {
		return store.ErrNoSession
	}
	if u.LastAccessed != nil {
		e.ctl.LastAccessed = *u.LastAccessed
	}
	if u.MaxInactive != nil {
		e.ctl.MaxInactive = *u.MaxInactive
	}
	if u.Principal != nil {
		e.ctl.Principal = *u.Principal
	}
	if u.AuthenticatedAt != nil {
		e.ctl.AuthenticatedAt = *u.AuthenticatedAt
	}
	return nil
}

func (st state) rename(oldID, newID string) error {
	e, ok := st[oldID]
	if !ok {
		return store.ErrNoSession
	}
	if oldID == newID {
		return nil
	}
	if _, taken := st[newID]; taken {
		return store.ErrSessionExists
	}
	delete(st, oldID)
	st[newID] = e
	return nil
}

func (st state) write(id, name string, value any) error {
	e, ok := st[id]
	if !ok {
		return store.ErrNoSession
	}
	e.attrs[name] = value
	return nil
}

func (st state) del(id, name string) error {
	e, ok := st[id]
	if !ok {
		return store.ErrNoSession
	}
	delete(e.attrs, name)
	return nil
}

func (st state) bump(id string) (uint64, error) {
	e, ok := st[id]
	if !ok {
		return 0, store.ErrNoSession
	}
	e.ctl.Generation++
	return e.ctl.Generation, nil
}
