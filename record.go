package sessioncache

import (
	"sort"
	"time"
)

// Record is the in-memory state of one session plus the changes made to it
// since it was last saved. A Record is not safe for concurrent use: every
// FindByID caller gets its own copy.
type Record struct {
	id         string
	originalID string // id as last persisted

	created         time.Time
	lastAccessed    time.Time
	maxInactive     time.Duration
	principal       string
	authenticatedAt time.Time

	attrs      map[string]any
	generation uint64

	changes Changes
	dirty   map[string]bool // attribute name -> removed
	// verifiedAt is when the record last matched the store.
	verifiedAt time.Time

	newID IDGenerator
}

func newRecord(id string, newID IDGenerator) *Record {
	return &Record{
		id:         id,
		originalID: id,
		attrs:      make(map[string]any),
		newID:      newID,
	}
}

// ID returns the current session id, including an unsaved ChangeID.
func (r *Record) ID() string { return r.id }

// OriginalID returns the id the store knows the session by.
func (r *Record) OriginalID() string { return r.originalID }

// CreationTime is unset until the session has been saved once.
func (r *Record) CreationTime() (time.Time, bool) {
	if r.changes.Has(ChangeNewSession) {
		return time.Time{}, false
	}
	return r.created, true
}

func (r *Record) LastAccessedTime() time.Time        { return r.lastAccessed }
func (r *Record) MaxInactiveInterval() time.Duration { return r.maxInactive }
func (r *Record) Principal() string                  { return r.principal }
func (r *Record) AuthenticatedAt() time.Time         { return r.authenticatedAt }
func (r *Record) Generation() uint64                 { return r.generation }
func (r *Record) Changes() Changes                   { return r.changes }
func (r *Record) Len() int                           { return len(r.attrs) }

// Attribute returns the value stored under name and whether it exists.
func (r *Record) Attribute(name string) (any, bool) {
	v, ok := r.attrs[name]
	return v, ok
}

// HasAttribute reports whether name is set.
func (r *Record) HasAttribute(name string) bool {
	_, ok := r.attrs[name]
	return ok
}

// AttributeNames returns the attribute names in ascending order.
func (r *Record) AttributeNames() []string {
	names := make([]string, 0, len(r.attrs))
	for k := range r.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Attributes returns a copy of the attribute map.
func (r *Record) Attributes() map[string]any {
	out := make(map[string]any, len(r.attrs))
	for k, v := range r.attrs {
		out[k] = v
	}
	return out
}

// IsExpired reports whether the session has been idle for at least its max
// inactive interval. A non-positive interval never expires. An unset last
// access time counts from creation; with neither set the session is live.
func (r *Record) IsExpired(now time.Time) bool {
	if r.maxInactive <= 0 {
		return false
	}
	since := r.lastAccessed
	if since.IsZero() {
		since = r.created
	}
	if since.IsZero() {
		return false
	}
	return now.Sub(since) >= r.maxInactive
}

// SetAttribute stores v under name. A nil v removes the attribute.
func (r *Record) SetAttribute(name string, v any) {
	if v == nil {
		r.RemoveAttribute(name)
		return
	}
	r.attrs[name] = v
	r.markAttr(name, false)
}

// RemoveAttribute deletes name. Removing an absent attribute records nothing.
func (r *Record) RemoveAttribute(name string) {
	if _, ok := r.attrs[name]; !ok {
		return
	}
	delete(r.attrs, name)
	r.markAttr(name, true)
}

func (r *Record) markAttr(name string, removed bool) {
	if r.dirty == nil {
		r.dirty = make(map[string]bool)
	}
	r.dirty[name] = removed
	r.changes |= ChangeAttributes
}

func (r *Record) SetLastAccessedTime(t time.Time) {
	r.lastAccessed = t
	r.changes |= ChangeAccess
}

// Touch marks the session as accessed at now.
func (r *Record) Touch(now time.Time) { r.SetLastAccessedTime(now) }

func (r *Record) SetMaxInactiveInterval(d time.Duration) {
	r.maxInactive = d
	r.changes |= ChangeSessionChange
}

// Authenticate records a (re)authentication of principal at t.
func (r *Record) Authenticate(principal string, at time.Time) {
	r.principal = principal
	r.authenticatedAt = at
	r.changes |= ChangeSessionAuth
}

// ChangeID assigns a fresh id. The store is updated on Save.
func (r *Record) ChangeID() (string, error) {
	gen := r.newID
	if gen == nil {
		gen = GenerateID
	}
	id, err := gen()
	if err != nil {
		return "", err
	}
	r.id = id
	r.changes |= ChangeSessionID
	return id, nil
}

// Invalidate marks the session for removal on the next Save.
func (r *Record) Invalidate() { r.changes |= ChangeSessionRemoved }

// dirtyNames returns the pending attribute names in ascending order.
func (r *Record) dirtyNames() []string {
	names := make([]string, 0, len(r.dirty))
	for k := range r.dirty {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r *Record) clone() *Record {
	c := *r
	c.attrs = r.Attributes()
	if r.dirty != nil {
		c.dirty = make(map[string]bool, len(r.dirty))
		for k, v := range r.dirty {
			c.dirty[k] = v
		}
	}
	return &c
}

// snapshot returns a copy with pending changes dropped. Only persisted
// records are snapshotted, so originalID collapses onto id.
func (r *Record) snapshot() *Record {
	c := r.clone()
	c.changes = 0
	c.dirty = nil
	c.originalID = c.id
	return c
}

func (r *Record) checkInvariants() error {
	if r.id == "" {
		return invariantf("record has empty id")
	}
	if r.changes.Has(ChangeNewSession) && !r.created.IsZero() {
		return invariantf("record %s is NEW_SESSION but has a creation time", maskID(r.id))
	}
	if !r.changes.Has(ChangeNewSession) && r.created.IsZero() {
		return invariantf("persisted record %s has no creation time", maskID(r.id))
	}
	if r.changes.Has(ChangeSessionID) != (r.id != r.originalID) && !r.changes.Has(ChangeNewSession) {
		return invariantf("record %s id change marker disagrees with ids", maskID(r.id))
	}
	return nil
}

// commit clears pending changes after a successful save.
func (r *Record) commit(created time.Time, generation uint64, now time.Time) {
	r.created = created
	r.generation = generation
	r.originalID = r.id
	r.changes = 0
	r.dirty = nil
	r.verifiedAt = now
}
