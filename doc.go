// Package sessioncache implements a session-state cache in front of a durable
// session store. Cached sessions carry the store's attribute generation;
// a lookup reads the store's control row and reloads attributes only when
// the generation has moved. A reload is a full snapshot diffed against the
// cached names, so attributes deleted upstream are never served.
//
// Components:
//   - Record: one session's state and its pending Changes.
//   - store.Store: durable control rows and attributes (memstore, redisstore, sqlstore).
//   - SessionCache: id -> Record with per-id atomicity (MemoryCache, ProviderCache).
//   - Reconciler: store snapshot + cached record -> current record.
//   - Repository: CreateSession, FindByID, DeleteByID, Save.
//
// Usage:
//
//	repo, _ := sessioncache.New(sessioncache.Options{Store: memstore.New()})
//	s, _ := repo.CreateSession()
//	s.SetAttribute("cart", "42")
//	_ = repo.Save(ctx, s)              // create control row, write cart, bump gen
//	s, ok, _ := repo.FindByID(ctx, id) // control row read; attributes only if stale
//
// Save translates the pending Changes into store writes in a fixed order:
// create, id change, attributes (then one generation bump), control fields.
// A failed Save leaves the record untouched so it can be retried.
package sessioncache
