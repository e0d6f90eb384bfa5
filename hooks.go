package sessioncache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The repository calls them on hot paths with unmasked ids; redact before
// emitting anywhere persistent.
type Hooks interface {
	// A stale record was resynced from a full attribute snapshot.
	Resynced(id string, fromGen, toGen uint64, removed int)

	// An id was dropped from the session cache.
	// reason ∈ {"not_found", "expired", "deleted", "removed", "gen_race", "reset", "renamed"}
	Evicted(id, reason string)

	// Cache refused a record older than the one it holds.
	CacheRejected(id string, gen, cached uint64)

	// Cache dropped an undecodable entry on read.
	SelfHeal(id, reason string)

	// A flush step failed; the record keeps its pending changes.
	FlushFailed(id, step string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Resynced(string, uint64, uint64, int) {}
func (NopHooks) Evicted(string, string)               {}
func (NopHooks) CacheRejected(string, uint64, uint64) {}
func (NopHooks) SelfHeal(string, string)              {}
func (NopHooks) FlushFailed(string, string, error)    {}
