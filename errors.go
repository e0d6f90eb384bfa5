package sessioncache

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps I/O and connection failures reported by the store.
	ErrStoreUnavailable = errors.New("sessioncache: store unavailable")
	// ErrStaleWrite means a save referenced an id the store no longer treats as
	// current (removed, renamed, or taken). Re-fetch the session and retry.
	ErrStaleWrite = errors.New("sessioncache: stale write")
	// ErrInvariant reports a broken internal invariant. It indicates a bug in the caller.
	ErrInvariant = errors.New("sessioncache: invariant violation")
)

// OpError describes a failed repository operation.
// errors.Is matches both Kind and the underlying store error.
type OpError struct {
	Op   string // "find", "delete", "save"
	ID   string // masked
	Step string // flush step for "save"; empty otherwise
	Kind error  // ErrStoreUnavailable, ErrStaleWrite or ErrInvariant
	Err  error
}

func (e *OpError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("sessioncache: %s %s: %s: %v", e.Op, e.ID, e.Step, e.Err)
	}
	return fmt.Sprintf("sessioncache: %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *OpError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvariant}, args...)...)
}
