// Package redisstore is a store.Store on Redis.
//
// Each session is two hashes sharing a {id} hash tag:
//
//	<prefix>{<id>}:ctl    created, last, maxi, gen, principal, auth
//	<prefix>{<id>}:attrs  attribute name -> codec payload
//
// Times and durations are stored as integer milliseconds, 0 meaning unset.
// Writes that require the session to exist run as Lua scripts so the
// existence check and the write are one atomic step. The store does not
// implement store.Transactor; a failed multi-step save may leave earlier
// steps applied.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/sessioncache/codec"
	"github.com/unkn0wn-root/sessioncache/store"
)

const (
	fCreated   = "created"
	fLast      = "last"
	fMaxi      = "maxi"
	fGen       = "gen"
	fPrincipal = "principal"
	fAuth      = "auth"
)

// KEYS[1]=ctl; ARGV = field/value pairs. Returns 0 when the row exists.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1`)

// KEYS[1]=ctl; ARGV = field/value pairs. Returns 0 when the row is missing.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if #ARGV > 0 then redis.call('HSET', KEYS[1], unpack(ARGV)) end
return 1`)

// KEYS[1]=ctl KEYS[2]=attrs; ARGV[1]=name ARGV[2]=payload.
var writeAttrScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 1`)

// KEYS[1]=ctl KEYS[2]=attrs; ARGV[1]=name.
var deleteAttrScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HDEL', KEYS[2], ARGV[1])
return 1`)

// KEYS[1]=ctl. Returns -1 when the row is missing.
var bumpScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
return redis.call('HINCRBY', KEYS[1], 'gen', 1)`)

// KEYS = old ctl, old attrs, new ctl, new attrs.
// Returns 1 on success, 0 when old is missing, -1 when new is taken.
var renameScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if redis.call('EXISTS', KEYS[3]) == 1 then return -1 end
redis.call('RENAME', KEYS[1], KEYS[3])
redis.call('DEL', KEYS[4])
if redis.call('EXISTS', KEYS[2]) == 1 then redis.call('RENAME', KEYS[2], KEYS[4]) end
return 1`)

type Options struct {
	Prefix string           // key prefix; "" => "session:"
	Codec  codec.Codec[any] // attribute values; nil => codec.Default()
	Now    func() time.Time // creation timestamps; nil => time.Now
}

// Store keeps sessions in Redis.
//
// ChangeSessionID touches both ids in one script. On Redis Cluster the two
// ids usually hash to different slots and the rename fails with CROSSSLOT.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	codec  codec.Codec[any]
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(client redis.UniversalClient, opts Options) *Store {
	s := &Store{rdb: client, prefix: opts.Prefix, codec: opts.Codec, now: opts.Now}
	if s.prefix == "" {
		s.prefix = "session:"
	}
	if s.codec == nil {
		s.codec = codec.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Store) ctlKey(id string) string  { return s.prefix + "{" + id + "}:ctl" }
func (s *Store) attrKey(id string) string { return s.prefix + "{" + id + "}:attrs" }

func (s *Store) GetControl(ctx context.Context, id string) (store.Control, bool, error) {
	m, err := s.rdb.HGetAll(ctx, s.ctlKey(id)).Result()
	if err != nil {
		return store.Control{}, false, err
	}
	if len(m) == 0 {
		return store.Control{}, false, nil
	}
	c, err := decodeControl(m)
	if err != nil {
		return store.Control{}, false, fmt.Errorf("redisstore: control row: %w", err)
	}
	return c, true, nil
}

func (s *Store) GetAttributes(ctx context.Context, id string, _ uint64) ([]store.Attribute, error) {
	m, err := s.rdb.HGetAll(ctx, s.attrKey(id)).Result()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]store.Attribute, 0, len(names))
	for _, n := range names {
		v, err := s.codec.Decode([]byte(m[n]))
		if err != nil {
			return nil, fmt.Errorf("redisstore: decode attribute %q: %w", n, err)
		}
		out = append(out, store.Attribute{Name: n, Value: v, Present: true})
	}
	return out, nil
}

func (s *Store) CreateControl(ctx context.Context, id string, init store.ControlInit) (time.Time, error) {
	created := s.now().Truncate(time.Millisecond)
	args := []any{
		fCreated, millis(created),
		fLast, millis(init.LastAccessed),
		fMaxi, init.MaxInactive.Milliseconds(),
		fGen, 0,
		fPrincipal, init.Principal,
		fAuth, millis(init.AuthenticatedAt),
	}
	n, err := createScript.Run(ctx, s.rdb, []string{s.ctlKey(id)}, args...).Int64()
	if err != nil {
		return time.Time{}, err
	}
	if n == 0 {
		return time.Time{}, store.ErrSessionExists
	}
	return created, nil
}

func (s *Store) UpdateControl(ctx context.Context, id string, u store.ControlUpdate) error {
	args := make([]any, 0, 8)
	if u.LastAccessed != nil {
		args = append(args, fLast, millis(*u.LastAccessed))
	}
	if u.MaxInactive != nil {
		args = append(args, fMaxi, u.MaxInactive.Milliseconds())
	}
	if u.Principal != nil {
		args = append(args, fPrincipal, *u.Principal)
	}
	if u.AuthenticatedAt != nil {
		args = append(args, fAuth, millis(*u.AuthenticatedAt))
	}
	return s.exists(updateScript.Run(ctx, s.rdb, []string{s.ctlKey(id)}, args...))
}

func (s *Store) ChangeSessionID(ctx context.Context, oldID, newID string) error {
	keys := []string{s.ctlKey(oldID), s.attrKey(oldID), s.ctlKey(newID), s.attrKey(newID)}
	n, err := renameScript.Run(ctx, s.rdb, keys).Int64()
	if err != nil {
		return err
	}
	switch n {
	case 0:
		return store.ErrNoSession
	case -1:
		return store.ErrSessionExists
	}
	return nil
}

func (s *Store) WriteAttribute(ctx context.Context, id, name string, value any) error {
	b, err := s.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("redisstore: encode attribute %q: %w", name, err)
	}
	return s.exists(writeAttrScript.Run(ctx, s.rdb, []string{s.ctlKey(id), s.attrKey(id)}, name, b))
}

func (s *Store) DeleteAttribute(ctx context.Context, id, name string) error {
	return s.exists(deleteAttrScript.Run(ctx, s.rdb, []string{s.ctlKey(id), s.attrKey(id)}, name))
}

func (s *Store) BumpGeneration(ctx context.Context, id string) (uint64, error) {
	n, err := bumpScript.Run(ctx, s.rdb, []string{s.ctlKey(id)}).Int64()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, store.ErrNoSession
	}
	return uint64(n), nil
}

func (s *Store) RemoveSession(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.ctlKey(id), s.attrKey(id)).Err()
}

// exists maps a 0/1 script result to ErrNoSession.
func (s *Store) exists(cmd *redis.Cmd) error {
	n, err := cmd.Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNoSession
	}
	return nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

var errMissingField = errors.New("missing field")

func decodeControl(m map[string]string) (store.Control, error) {
	num := func(f string) (int64, error) {
		v, ok := m[f]
		if !ok {
			return 0, fmt.Errorf("%s: %w", f, errMissingField)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", f, err)
		}
		return n, nil
	}
	var c store.Control
	created, err := num(fCreated)
	if err != nil {
		return c, err
	}
	gen, err := num(fGen)
	if err != nil {
		return c, err
	}
	if gen < 0 {
		return c, fmt.Errorf("%s: negative generation %d", fGen, gen)
	}
	// optional fields default to unset
	last, _ := num(fLast)
	maxi, _ := num(fMaxi)
	auth, _ := num(fAuth)

	c.Created = fromMillis(created)
	c.LastAccessed = fromMillis(last)
	c.MaxInactive = time.Duration(maxi) * time.Millisecond
	c.Generation = uint64(gen)
	c.Principal = m[fPrincipal]
	c.AuthenticatedAt = fromMillis(auth)
	return c, nil
}
