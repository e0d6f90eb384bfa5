package sessioncache

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/unkn0wn-root/sessioncache/store"
)

func TestPlanFlush(t *testing.T) {
	cases := []struct {
		in   Changes
		want []flushStep
	}{
		{0, []flushStep{}},
		{ChangeNewSession, []flushStep{stepCreate}},
		{ChangeNewSession | ChangeAttributes, []flushStep{stepCreate, stepAttributes}},
		{ChangeNewSession | ChangeSessionID | ChangeAccess, []flushStep{stepCreate}},
		{ChangeSessionID, []flushStep{stepChangeID}},
		{ChangeAttributes | ChangeSessionID, []flushStep{stepChangeID, stepAttributes}},
		{ChangeAccess, []flushStep{stepControl}},
		{ChangeSessionChange | ChangeSessionAuth, []flushStep{stepControl}},
		{ChangeAccess | ChangeAttributes | ChangeSessionID, []flushStep{stepChangeID, stepAttributes, stepControl}},
		{ChangeSessionRemoved | ChangeAttributes, []flushStep{stepRemove}},
		{ChangeSessionRemoved | ChangeNewSession, nil},
	}
	for _, tc := range cases {
		got := planFlush(tc.in)
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("planFlush(%v)=%v want %v", tc.in, got, tc.want)
		}
	}
}

// Every combination of markers yields a plan with no repeated step and
// create, when present, first.
func TestPlanFlushIsTotal(t *testing.T) {
	for c := Changes(0); c < 1<<7; c++ {
		steps := planFlush(c)
		seen := map[flushStep]bool{}
		for i, s := range steps {
			if seen[s] {
				t.Fatalf("%v: repeated step %v in %v", c, s, steps)
			}
			seen[s] = true
			if s == stepCreate && i != 0 {
				t.Fatalf("%v: create not first in %v", c, steps)
			}
			if s.String() == "unknown" {
				t.Fatalf("%v: unnamed step %d", c, s)
			}
		}
	}
}

func TestControlUpdateCarriesOnlyMarkedFields(t *testing.T) {
	r := persisted("s1")
	r.Touch(r.created)
	u := controlUpdate(r)
	if u.LastAccessed == nil || u.MaxInactive != nil || u.Principal != nil {
		t.Fatalf("update=%+v", u)
	}
	r.Authenticate("ada", r.created)
	u = controlUpdate(r)
	if u.Principal == nil || *u.Principal != "ada" || u.AuthenticatedAt == nil {
		t.Fatalf("auth update=%+v", u)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{in: store.ErrNoSession, want: ErrStaleWrite},
		{in: fmt.Errorf("wrap: %w", store.ErrSessionExists), want: ErrStaleWrite},
		{in: invariantf("x"), want: ErrInvariant},
		{in: errors.New("connection reset"), want: ErrStoreUnavailable},
	}
	for _, tc := range cases {
		if got := classify(tc.in); got != tc.want {
			t.Fatalf("classify(%v)=%v want %v", tc.in, got, tc.want)
		}
	}
}
