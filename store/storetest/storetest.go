// Package storetest checks a store.Store implementation against the
// behaviour sessioncache relies on. Each check uses fresh random ids, so
// shared backends (a Redis database, a Postgres schema) need no cleanup.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/sessioncache/store"
)

// Run runs every check against the store returned by newStore.
// Attribute values are strings so any codec round-trips them unchanged.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	checks := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateControl", testCreateControl},
		{"WritesRequireSession", testWritesRequireSession},
		{"AttributesAreFullSnapshot", testAttributesAreFullSnapshot},
		{"UpdateControl", testUpdateControl},
		{"ChangeSessionID", testChangeSessionID},
		{"RemoveSession", testRemoveSession},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) { c.fn(t, newStore(t)) })
	}
}

func newID() string { return "st-" + uuid.NewString() }

func mustCreate(t *testing.T, s store.Store, id string, init store.ControlInit) time.Time {
	t.Helper()
	created, err := s.CreateControl(context.Background(), id, init)
	if err != nil {
		t.Fatalf("CreateControl(%s): %v", id, err)
	}
	return created
}

func testCreateControl(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := newID()
	last := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	created := mustCreate(t, s, id, store.ControlInit{
		LastAccessed: last,
		MaxInactive:  45 * time.Minute,
		Principal:    "ada",
	})
	if created.IsZero() {
		t.Fatal("store assigned no creation time")
	}
	if _, err := s.CreateControl(ctx, id, store.ControlInit{}); !errors.Is(err, store.ErrSessionExists) {
		t.Fatalf("duplicate create err=%v want ErrSessionExists", err)
	}

	c, ok, err := s.GetControl(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetControl ok=%v err=%v", ok, err)
	}
	if !c.Created.Equal(created) {
		t.Fatalf("Created=%v want %v (as returned by CreateControl)", c.Created, created)
	}
	if !c.LastAccessed.Equal(last) || c.MaxIdleMinutes() != 45 || c.Principal != "ada" || c.Generation != 0 {
		t.Fatalf("control=%+v", c)
	}
	if !c.AuthenticatedAt.IsZero() {
		t.Fatalf("AuthenticatedAt=%v want unset", c.AuthenticatedAt)
	}
	if _, ok, err := s.GetControl(ctx, newID()); err != nil || ok {
		t.Fatalf("unknown id ok=%v err=%v", ok, err)
	}
}

func testWritesRequireSession(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := newID()
	if err := s.WriteAttribute(ctx, id, "a", "1"); !errors.Is(err, store.ErrNoSession) {
		t.Fatalf("WriteAttribute err=%v", err)
	}
	if err := s.DeleteAttribute(ctx, id, "a"); !errors.Is(err, store.ErrNoSession) {
		t.Fatalf("DeleteAttribute err=%v", err)
	}
	if _, err := s.BumpGeneration(ctx, id); !errors.Is(err, store.ErrNoSession) {
		t.Fatalf("BumpGeneration err=%v", err)
	}
	last := time.Now()
	if err := s.UpdateControl(ctx, id, store.ControlUpdate{LastAccessed: &last}); !errors.Is(err, store.ErrNoSession) {
		t.Fatalf("UpdateControl err=%v", err)
	}
	if err := s.ChangeSessionID(ctx, id, newID()); !errors.Is(err, store.ErrNoSession) {
		t.Fatalf("ChangeSessionID err=%v", err)
	}
}

func testAttributesAreFullSnapshot(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := newID()
	mustCreate(t, s, id, store.ControlInit{MaxInactive: time.Hour})

	for _, n := range []string{"c", "a", "b"} {
		if err := s.WriteAttribute(ctx, id, n, n+"-v"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.WriteAttribute(ctx, id, "a", "a-v2"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteAttribute(ctx, id, "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteAttribute(ctx, id, "never"); err != nil {
		t.Fatalf("deleting an absent attribute: %v", err)
	}
	for want := uint64(1); want <= 2; want++ {
		g, err := s.BumpGeneration(ctx, id)
		if err != nil || g != want {
			t.Fatalf("BumpGeneration=%d,%v want %d", g, err, want)
		}
	}

	attrs, err := s.GetAttributes(ctx, id, 1)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]any{}
	for i, a := range attrs {
		if !a.Present {
			continue
		}
		if i > 0 && attrs[i-1].Name >= a.Name {
			t.Fatalf("attributes not sorted: %+v", attrs)
		}
		got[a.Name] = a.Value
	}
	if len(got) != 2 || got["a"] != "a-v2" || got["c"] != "c-v" {
		t.Fatalf("attributes=%v", got)
	}
	c, _, _ := s.GetControl(ctx, id)
	if c.Generation != 2 {
		t.Fatalf("Generation=%d", c.Generation)
	}
}

func testUpdateControl(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := newID()
	mustCreate(t, s, id, store.ControlInit{MaxInactive: time.Hour, Principal: "ada"})

	last := time.Now().Truncate(time.Millisecond)
	if err := s.UpdateControl(ctx, id, store.ControlUpdate{LastAccessed: &last}); err != nil {
		t.Fatal(err)
	}
	c, _, _ := s.GetControl(ctx, id)
	if !c.LastAccessed.Equal(last) || c.MaxInactive != time.Hour || c.Principal != "ada" {
		t.Fatalf("partial update touched other fields: %+v", c)
	}

	maxi := 2 * time.Hour
	who := "bob"
	at := last.Add(time.Second)
	if err := s.UpdateControl(ctx, id, store.ControlUpdate{MaxInactive: &maxi, Principal: &who, AuthenticatedAt: &at}); err != nil {
		t.Fatal(err)
	}
	c, _, _ = s.GetControl(ctx, id)
	if c.MaxInactive != maxi || c.Principal != "bob" || !c.AuthenticatedAt.Equal(at) || !c.LastAccessed.Equal(last) {
		t.Fatalf("control=%+v", c)
	}
	if err := s.UpdateControl(ctx, id, store.ControlUpdate{}); err != nil {
		t.Fatalf("empty update: %v", err)
	}
}

func testChangeSessionID(t *testing.T, s store.Store) {
	ctx := context.Background()
	oldID, newIDv, taken := newID(), newID(), newID()
	created := mustCreate(t, s, oldID, store.ControlInit{MaxInactive: time.Hour})
	mustCreate(t, s, taken, store.ControlInit{})
	if err := s.WriteAttribute(ctx, oldID, "a", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BumpGeneration(ctx, oldID); err != nil {
		t.Fatal(err)
	}

	if err := s.ChangeSessionID(ctx, oldID, taken); !errors.Is(err, store.ErrSessionExists) {
		t.Fatalf("rename onto a taken id err=%v", err)
	}
	if err := s.ChangeSessionID(ctx, oldID, newIDv); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetControl(ctx, oldID); ok {
		t.Fatal("old id still present")
	}
	c, ok, err := s.GetControl(ctx, newIDv)
	if err != nil || !ok || !c.Created.Equal(created) || c.Generation != 1 {
		t.Fatalf("renamed control=%+v ok=%v err=%v", c, ok, err)
	}
	attrs, err := s.GetAttributes(ctx, newIDv, 0)
	if err != nil || len(attrs) != 1 || attrs[0].Value != "1" {
		t.Fatalf("renamed attributes=%+v err=%v", attrs, err)
	}
	if attrs, _ := s.GetAttributes(ctx, oldID, 0); len(attrs) != 0 {
		t.Fatalf("old id kept attributes %+v", attrs)
	}
}

func testRemoveSession(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := newID()
	mustCreate(t, s, id, store.ControlInit{})
	if err := s.WriteAttribute(ctx, id, "a", "1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.RemoveSession(ctx, id); err != nil {
			t.Fatalf("RemoveSession #%d: %v", i+1, err)
		}
	}
	if _, ok, _ := s.GetControl(ctx, id); ok {
		t.Fatal("control row survived removal")
	}
	if attrs, _ := s.GetAttributes(ctx, id, 0); len(attrs) != 0 {
		t.Fatalf("attributes survived removal: %+v", attrs)
	}
	// the id can be reused
	mustCreate(t, s, id, store.ControlInit{})
}
