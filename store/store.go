// Package store defines the durable backing store used by sessioncache.
//
// A store keeps one control row per session (creation time, last access,
// timeout, principal and the attribute generation) plus the session's
// attributes. Every attribute write is followed by BumpGeneration, which is
// what readers compare against to decide whether cached attributes are still
// current.
//
// Implementations MUST be safe for concurrent use. Each call is expected to
// borrow whatever connection it needs and release it before returning.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoSession is returned by writes that target an id with no control row.
	ErrNoSession = errors.New("store: session does not exist")
	// ErrSessionExists is returned when creating (or renaming onto) an id that is taken.
	ErrSessionExists = errors.New("store: session already exists")
)

// Control is the per-session scalar metadata.
type Control struct {
	Created         time.Time
	LastAccessed    time.Time
	MaxInactive     time.Duration
	Generation      uint64
	Principal       string
	AuthenticatedAt time.Time
}

// MaxIdleMinutes returns MaxInactive rounded down to whole minutes.
func (c Control) MaxIdleMinutes() int64 { return int64(c.MaxInactive / time.Minute) }

// ControlInit seeds a new control row. The store assigns Created.
type ControlInit struct {
	LastAccessed    time.Time
	MaxInactive     time.Duration
	Principal       string
	AuthenticatedAt time.Time
}

// ControlUpdate names the control fields to overwrite; nil fields are left alone.
type ControlUpdate struct {
	LastAccessed    *time.Time
	MaxInactive     *time.Duration
	Principal       *string
	AuthenticatedAt *time.Time
}

// Empty reports whether u changes nothing.
func (u ControlUpdate) Empty() bool {
	return u.LastAccessed == nil && u.MaxInactive == nil && u.Principal == nil && u.AuthenticatedAt == nil
}

// Attribute is one entry of an attribute snapshot.
// Present=false means the name is known to the store but carries no value.
type Attribute struct {
	Name    string
	Value   any
	Present bool
}

// Store is the durable session store.
type Store interface {
	// GetControl returns the control row; ok=false when the id is unknown.
	GetControl(ctx context.Context, id string) (c Control, ok bool, err error)

	// GetAttributes returns the full current attribute set of id.
	// sinceGeneration is the caller's generation and is advisory: the result
	// is never a delta, names missing from it do not exist.
	GetAttributes(ctx context.Context, id string, sinceGeneration uint64) ([]Attribute, error)

	// CreateControl inserts a control row with generation 0 and returns the
	// creation time assigned by the store. ErrSessionExists if id is taken.
	CreateControl(ctx context.Context, id string, init ControlInit) (time.Time, error)

	// UpdateControl overwrites the non-nil fields. ErrNoSession if id is unknown.
	UpdateControl(ctx context.Context, id string, u ControlUpdate) error

	// ChangeSessionID moves the control row and all attributes from oldID to newID.
	ChangeSessionID(ctx context.Context, oldID, newID string) error

	WriteAttribute(ctx context.Context, id, name string, value any) error
	DeleteAttribute(ctx context.Context, id, name string) error

	// BumpGeneration atomically increments and returns the attribute generation.
	BumpGeneration(ctx context.Context, id string) (uint64, error)

	// RemoveSession deletes the control row and its attributes. Unknown ids are not an error.
	RemoveSession(ctx context.Context, id string) error
}

// Transactor is implemented by stores that can run several operations atomically.
// fn receives a Store bound to the transaction; returning an error rolls back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
