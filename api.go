package sessioncache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/sessioncache/store"
)

// Repository is the session API exposed to request-handling code. It matches
// the pluggable session-store extension point of a web framework.
type Repository interface {
	// CreateSession returns a new, unsaved session. No I/O.
	CreateSession() (*Record, error)
	// FindByID returns the current state of id; ok=false when it does not
	// exist or has expired.
	FindByID(ctx context.Context, id string) (rec *Record, ok bool, err error)
	// DeleteByID removes id. Deleting an unknown id is not an error.
	DeleteByID(ctx context.Context, id string) error
	// Save persists the pending changes of rec and clears them. On error rec
	// is left untouched so the same Save can be retried.
	Save(ctx context.Context, rec *Record) error
	Close(context.Context) error
}

// Options tune the repository.
// Only Store is required; others have sensible defaults.
type Options struct {
	// Required
	Store store.Store

	Cache               SessionCache  // nil => NewMemoryCache(0)
	Logger              Logger        // if nil, NopLogger is used
	Hooks               Hooks         // if nil, NopHooks is used
	MaxInactiveInterval time.Duration // for new sessions; 0 => 30m, < 0 => never expire
	// FreshFor lets FindByID trust a cached record verified less than
	// FreshFor ago without asking the store. 0 => always verify.
	FreshFor    time.Duration
	IDGenerator IDGenerator      // nil => GenerateID
	MaskChars   int              // visible trailing id characters in logs; 0 => 4
	Now         func() time.Time // nil => time.Now
}

func New(opts Options) (Repository, error) {
	return newRepository(opts)
}
