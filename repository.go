package sessioncache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/sessioncache/mask"
	"github.com/unkn0wn-root/sessioncache/store"
)

type repository struct {
	store       store.Store
	cache       SessionCache
	rc          *Reconciler
	log         Logger
	hooks       Hooks
	maxInactive time.Duration
	freshFor    time.Duration
	newID       IDGenerator
	maskChars   int
	now         func() time.Time

	lookups singleflight.Group
}

func newRepository(opts Options) (*repository, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvariant)
	}
	r := &repository{
		store:    opts.Store,
		freshFor: opts.FreshFor,
	}

	// defaults
	r.log = coalesce[Logger](opts.Logger, NopLogger{})
	r.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	r.maxInactive = coalesce(opts.MaxInactiveInterval, defaultMaxInactive)
	r.maskChars = coalesce(opts.MaskChars, mask.DefaultVisible)
	r.now = opts.Now
	if r.now == nil {
		r.now = time.Now
	}
	r.newID = opts.IDGenerator
	if r.newID == nil {
		r.newID = GenerateID
	}
	if opts.Cache != nil {
		r.cache = opts.Cache
	} else {
		r.cache = NewMemoryCache(0).WithHooks(r.hooks)
	}
	r.rc = &Reconciler{Store: r.store, Now: r.now}
	return r, nil
}

func (r *repository) mask(id string) string { return mask.Last(id, r.maskChars) }

func (r *repository) Close(ctx context.Context) error {
	return r.cache.Close(ctx)
}

func (r *repository) CreateSession() (*Record, error) {
	id, err := r.newID()
	if err != nil {
		return nil, err
	}
	rec := newRecord(id, r.newID)
	now := r.now()
	rec.lastAccessed = now
	rec.maxInactive = r.maxInactive
	rec.changes = ChangeNewSession
	return rec, nil
}

func (r *repository) FindByID(ctx context.Context, id string) (*Record, bool, error) {
	if id == "" {
		return nil, false, nil
	}
	if r.freshFor > 0 {
		if rec, ok := r.cache.Get(ctx, id); ok && r.now().Sub(rec.verifiedAt) < r.freshFor {
			return r.hand(ctx, rec)
		}
	}

	// concurrent lookups of one id share a single reconciliation
	v, err, _ := r.lookups.Do(id, func() (any, error) {
		return r.reconcile(ctx, id)
	})
	if err != nil {
		return nil, false, err
	}
	rec, _ := v.(*Record)
	if rec == nil {
		return nil, false, nil
	}
	return r.hand(ctx, rec.clone())
}

// reconcile refreshes id from the store and installs the result.
// It returns a nil *Record when id does not exist.
func (r *repository) reconcile(ctx context.Context, id string) (*Record, error) {
	cached, _ := r.cache.Get(ctx, id)
	res, err := r.rc.Reconcile(ctx, id, cached)
	if err != nil {
		r.log.Warn("reconcile failed", Fields{"id": r.mask(id), "err": err})
		return nil, &OpError{Op: "find", ID: r.mask(id), Kind: classify(err), Err: err}
	}
	if !res.Found {
		if cached != nil {
			r.evict(ctx, id, "not_found")
		}
		return nil, nil
	}
	rec := res.Record
	if res.SnapshotRead {
		from := uint64(0)
		if cached != nil && !res.Reset {
			from = cached.generation
		}
		r.hooks.Resynced(id, from, rec.generation, res.Removed)
		r.log.Debug("resynced attributes", Fields{
			"id": r.mask(id), "from": from, "to": rec.generation, "removed": res.Removed,
		})
	}
	if res.Reset {
		r.evict(ctx, id, "reset")
	}
	r.cache.Put(ctx, rec)
	return rec, nil
}

// hand returns rec to a caller, applying lazy expiry.
func (r *repository) hand(ctx context.Context, rec *Record) (*Record, bool, error) {
	if rec.IsExpired(r.now()) {
		if err := r.store.RemoveSession(ctx, rec.id); err != nil {
			r.log.Warn("removing expired session failed", Fields{"id": r.mask(rec.id), "err": err})
			return nil, false, &OpError{Op: "find", ID: r.mask(rec.id), Kind: classify(err), Err: err}
		}
		r.evict(ctx, rec.id, "expired")
		return nil, false, nil
	}
	rec.newID = r.newID
	return rec, true, nil
}

// undoCreate removes a control row written by a flush that failed later, so
// a retry of the same record can create it again.
func (r *repository) undoCreate(ctx context.Context, id string) {
	if err := r.store.RemoveSession(ctx, id); err != nil {
		r.log.Warn("undoing partial create failed", Fields{"id": r.mask(id), "err": err})
		return
	}
	r.log.Debug("undid partial create", Fields{"id": r.mask(id)})
}

func (r *repository) evict(ctx context.Context, id, reason string) {
	r.cache.Remove(ctx, id)
	r.hooks.Evicted(id, reason)
	r.log.Debug("evicted session", Fields{"id": r.mask(id), "reason": reason})
}

func (r *repository) DeleteByID(ctx context.Context, id string) error {
	if err := r.store.RemoveSession(ctx, id); err != nil {
		r.log.Warn("delete failed", Fields{"id": r.mask(id), "err": err})
		return &OpError{Op: "delete", ID: r.mask(id), Kind: classify(err), Err: err}
	}
	r.evict(ctx, id, "deleted")
	return nil
}

func (r *repository) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return &OpError{Op: "save", Kind: ErrInvariant, Err: fmt.Errorf("nil record")}
	}
	if err := rec.checkInvariants(); err != nil {
		return &OpError{Op: "save", ID: r.mask(rec.id), Kind: ErrInvariant, Err: err}
	}
	steps := planFlush(rec.changes)
	if len(steps) == 0 {
		// nothing persisted: clean, or created and invalidated before any save
		return nil
	}

	f := &flusher{rec: rec, steps: steps}
	var err error
	if tx, ok := r.store.(store.Transactor); ok {
		err = tx.InTx(ctx, f.run)
	} else {
		err = f.run(ctx, r.store)
		if err != nil && f.createdThenFailed() {
			r.undoCreate(ctx, rec.id)
		}
	}
	if err != nil {
		step := f.failed.String()
		if f.failed == 0 {
			step = "tx"
		}
		r.hooks.FlushFailed(rec.id, step, err)
		r.log.Error("flush failed", Fields{
			"id": r.mask(rec.id), "step": step, "changes": rec.changes.String(), "err": err,
		})
		return &OpError{Op: "save", ID: r.mask(rec.id), Step: step, Kind: classify(err), Err: err}
	}

	removed := rec.changes.Has(ChangeSessionRemoved)
	oldID := rec.originalID
	rec.commit(f.res.created, f.res.generation, r.now())

	switch {
	case removed:
		r.evict(ctx, oldID, "removed")
		return nil
	case oldID != rec.id:
		r.evict(ctx, oldID, "renamed")
	}
	if f.res.genRace {
		r.log.Warn("generation moved during save", Fields{"id": r.mask(rec.id), "gen": rec.generation})
		r.evict(ctx, rec.id, "gen_race")
		return nil
	}
	r.cache.Put(ctx, rec)
	return nil
}
