package sessioncache

import (
	"time"

	"github.com/unkn0wn-root/sessioncache/mask"
)

const (
	defaultMaxInactive = 30 * time.Minute
	defaultShards      = 64
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// maskID is used where no repository (and so no configured width) is at hand.
func maskID(id string) string { return mask.Last(id, mask.DefaultVisible) }
