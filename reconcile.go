package sessioncache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/sessioncache/store"
)

// Reconciled is the outcome of one reconciliation.
type Reconciled struct {
	Record *Record // nil when !Found
	Found  bool

	// SnapshotRead is true when the attribute snapshot was fetched.
	SnapshotRead bool
	// Removed counts cached attributes dropped because the snapshot lacked them.
	Removed int
	// Reset is true when the cached record described an earlier incarnation
	// of the id and was discarded.
	Reset bool
}

// Reconciler brings a possibly stale record up to date with the store,
// reading attributes only when the store generation has moved.
type Reconciler struct {
	Store store.Store
	Now   func() time.Time
}

// Reconcile returns the current state of id. cached may be nil and is never
// modified. Store errors are returned unchanged.
func (rc *Reconciler) Reconcile(ctx context.Context, id string, cached *Record) (Reconciled, error) {
	ctl, ok, err := rc.Store.GetControl(ctx, id)
	if err != nil {
		return Reconciled{}, err
	}
	if !ok {
		return Reconciled{}, nil
	}

	var out Reconciled
	var work *Record
	switch {
	case cached == nil:
		work = seedRecord(id, ctl)
	case !cached.created.Equal(ctl.Created) || cached.generation > ctl.Generation:
		// same id, different session: nothing cached about it can be trusted
		work = seedRecord(id, ctl)
		out.Reset = true
	default:
		work = cached.snapshot()
	}

	if work.generation < ctl.Generation {
		snap, err := rc.Store.GetAttributes(ctx, id, work.generation)
		if err != nil {
			return Reconciled{}, err
		}
		out.SnapshotRead = true
		out.Removed = applySnapshot(work, snap)
	}
	// The snapshot may already include writes newer than ctl.Generation.
	// Labelling it with the older generation only forces one extra resync.
	work.generation = ctl.Generation

	work.lastAccessed = ctl.LastAccessed
	work.maxInactive = ctl.MaxInactive
	work.principal = ctl.Principal
	work.authenticatedAt = ctl.AuthenticatedAt
	work.verifiedAt = rc.now()

	out.Record = work
	out.Found = true
	return out, nil
}

func (rc *Reconciler) now() time.Time {
	if rc.Now != nil {
		return rc.Now()
	}
	return time.Now()
}

func seedRecord(id string, ctl store.Control) *Record {
	r := newRecord(id, nil)
	r.created = ctl.Created
	return r
}

// applySnapshot makes rec's attributes equal to the present entries of snap
// and returns how many cached names were dropped.
func applySnapshot(rec *Record, snap []store.Attribute) int {
	present := make(map[string]struct{}, len(snap))
	for _, a := range snap {
		if !a.Present {
			continue
		}
		present[a.Name] = struct{}{}
		rec.attrs[a.Name] = a.Value
	}
	removed := 0
	for name := range rec.attrs {
		if _, ok := present[name]; !ok {
			delete(rec.attrs, name)
			removed++
		}
	}
	return removed
}
