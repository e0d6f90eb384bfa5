package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/unkn0wn-root/sessioncache"
	"github.com/unkn0wn-root/sessioncache/store"
	"github.com/unkn0wn-root/sessioncache/store/storetest"
)

func TestUpdateSet(t *testing.T) {
	last := time.UnixMilli(1_700_000_000_000)
	who := "ada"
	set, args := updateSet(store.ControlUpdate{LastAccessed: &last, Principal: &who})
	if want := []string{"last_accessed_ms = $1", "principal = $2"}; !reflect.DeepEqual(set, want) {
		t.Fatalf("set=%v", set)
	}
	if want := []any{int64(1_700_000_000_000), "ada"}; !reflect.DeepEqual(args, want) {
		t.Fatalf("args=%v", args)
	}
	if set, args := updateSet(store.ControlUpdate{}); len(set) != 0 || len(args) != 0 {
		t.Fatalf("empty update produced %v %v", set, args)
	}
}

func TestNewQuotesSchema(t *testing.T) {
	s, err := New(&sql.DB{}, Options{Schema: `odd"name`})
	if err != nil {
		t.Fatal(err)
	}
	if s.ctl != `"odd""name".session_control` {
		t.Fatalf("ctl=%s", s.ctl)
	}
	if _, err := New(nil, Options{}); err == nil {
		t.Fatal("nil db accepted")
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SESSIONCACHE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SESSIONCACHE_POSTGRES_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := New(db, Options{Schema: "sessioncache_test"})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func TestInTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "tx-" + time.Now().Format("150405.000000000")
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.CreateControl(ctx, id, store.ControlInit{}); err != nil {
			return err
		}
		if err := tx.WriteAttribute(ctx, id, "a", "1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err=%v", err)
	}
	if _, ok, _ := s.GetControl(ctx, id); ok {
		t.Fatal("rolled back session is visible")
	}
}

func TestRepositoryOverSQL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo, err := sessioncache.New(sessioncache.Options{Store: s})
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close(ctx)

	rec, err := repo.CreateSession()
	if err != nil {
		t.Fatal(err)
	}
	rec.SetAttribute("cart", "42")
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.DeleteByID(ctx, rec.ID()) })

	newID, err := rec.ChangeID()
	if err != nil {
		t.Fatal(err)
	}
	rec.Authenticate("ada", time.Now())
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}

	// a second repository has a cold cache and reads from the store
	other, _ := sessioncache.New(sessioncache.Options{Store: s})
	got, ok, err := other.FindByID(ctx, newID)
	if err != nil || !ok {
		t.Fatalf("find ok=%v err=%v", ok, err)
	}
	cart, _ := got.Attribute("cart")
	if got.Principal() != "ada" || cart != "42" || got.Generation() != 1 {
		t.Fatalf("principal=%q cart=%v gen=%d", got.Principal(), cart, got.Generation())
	}
}
