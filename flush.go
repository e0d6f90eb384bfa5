package sessioncache

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/sessioncache/store"
)

type flushStep uint8

const (
	stepRemove flushStep = iota + 1
	stepCreate
	stepChangeID
	stepAttributes
	stepControl
)

func (s flushStep) String() string {
	switch s {
	case stepRemove:
		return "remove"
	case stepCreate:
		return "create"
	case stepChangeID:
		return "change_id"
	case stepAttributes:
		return "attributes"
	case stepControl:
		return "control"
	default:
		return "unknown"
	}
}

// planFlush maps a change set to the ordered store steps that persist it.
//
// Removal wins over everything. A new session is created under its current
// id with its scalar fields, so neither an id change nor a control update
// follows the create.
func planFlush(c Changes) []flushStep {
	if c.Has(ChangeSessionRemoved) {
		if c.Has(ChangeNewSession) {
			return nil
		}
		return []flushStep{stepRemove}
	}
	steps := make([]flushStep, 0, 3)
	isNew := c.Has(ChangeNewSession)
	if isNew {
		steps = append(steps, stepCreate)
	}
	if c.Has(ChangeSessionID) && !isNew {
		steps = append(steps, stepChangeID)
	}
	if c.Has(ChangeAttributes) {
		steps = append(steps, stepAttributes)
	}
	if c.Any(ChangeControl) && !isNew {
		steps = append(steps, stepControl)
	}
	return steps
}

// flushResult is what a successful flush learned from the store.
type flushResult struct {
	created    time.Time
	generation uint64
	genRace    bool // another writer bumped the generation concurrently
}

type flusher struct {
	rec   *Record
	steps []flushStep
	res   flushResult
	// failed is the step that returned the error, if any.
	failed flushStep
}

func (f *flusher) run(ctx context.Context, st store.Store) error {
	f.res = flushResult{created: f.rec.created, generation: f.rec.generation}
	for _, step := range f.steps {
		if err := f.runStep(ctx, st, step); err != nil {
			f.failed = step
			return err
		}
	}
	return nil
}

// createdThenFailed reports whether CreateControl succeeded and a later
// step failed, leaving a control row the record does not know about.
func (f *flusher) createdThenFailed() bool {
	return f.failed > stepCreate && len(f.steps) > 0 && f.steps[0] == stepCreate
}

func (f *flusher) runStep(ctx context.Context, st store.Store, step flushStep) error {
	r := f.rec
	switch step {
	case stepRemove:
		// an unsaved ChangeID never reached the store
		return st.RemoveSession(ctx, r.originalID)

	case stepCreate:
		created, err := st.CreateControl(ctx, r.id, store.ControlInit{
			LastAccessed:    r.lastAccessed,
			MaxInactive:     r.maxInactive,
			Principal:       r.principal,
			AuthenticatedAt: r.authenticatedAt,
		})
		if err != nil {
			return err
		}
		f.res.created = created
		return nil

	case stepChangeID:
		return st.ChangeSessionID(ctx, r.originalID, r.id)

	case stepAttributes:
		for _, name := range r.dirtyNames() {
			var err error
			if r.dirty[name] {
				err = st.DeleteAttribute(ctx, r.id, name)
			} else {
				err = st.WriteAttribute(ctx, r.id, name, r.attrs[name])
			}
			if err != nil {
				return err
			}
		}
		gen, err := st.BumpGeneration(ctx, r.id)
		if err != nil {
			return err
		}
		if gen == r.generation+1 {
			f.res.generation = gen
		} else {
			f.res.genRace = true
		}
		return nil

	case stepControl:
		return st.UpdateControl(ctx, r.id, controlUpdate(r))
	}
	return invariantf("unknown flush step %d", step)
}

func controlUpdate(r *Record) store.ControlUpdate {
	var u store.ControlUpdate
	if r.changes.Has(ChangeAccess) {
		t := r.lastAccessed
		u.LastAccessed = &t
	}
	if r.changes.Has(ChangeSessionChange) {
		d := r.maxInactive
		u.MaxInactive = &d
	}
	if r.changes.Has(ChangeSessionAuth) {
		p, at := r.principal, r.authenticatedAt
		u.Principal = &p
		u.AuthenticatedAt = &at
	}
	return u
}

// classify maps a store error to the repository error kind.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrInvariant):
		return ErrInvariant
	case errors.Is(err, store.ErrNoSession), errors.Is(err, store.ErrSessionExists):
		return ErrStaleWrite
	default:
		return ErrStoreUnavailable
	}
}
