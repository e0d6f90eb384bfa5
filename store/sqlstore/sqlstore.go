// Package sqlstore is a store.Store on database/sql, written for
// PostgreSQL ($n placeholders, ON CONFLICT). Register a driver such as
// github.com/lib/pq before opening the *sql.DB.
//
// Tables live under a configurable schema:
//
//	session_control    one row per session
//	session_attribute  (session_id, name) -> codec payload
//
// The attribute table references the control table with ON UPDATE/DELETE
// CASCADE, so renaming or removing a session is a single statement on the
// control row. Times are stored as integer milliseconds, 0 meaning unset.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/unkn0wn-root/sessioncache/codec"
	"github.com/unkn0wn-root/sessioncache/store"
)

type Options struct {
	Schema string           // "" => "public"
	Codec  codec.Codec[any] // attribute values; nil => codec.Default()
	Now    func() time.Time // creation timestamps; nil => time.Now
}

// Store runs every call on a connection borrowed from the pool for that
// call only. InTx pins one connection for the whole transaction.
type Store struct {
	db *sql.DB
	ops
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)

func New(db *sql.DB, opts Options) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: nil db")
	}
	schema := opts.Schema
	if schema == "" {
		schema = "public"
	}
	q := pq.QuoteIdentifier(schema)
	s := &Store{db: db}
	s.ops = ops{
		schema: q,
		ctl:    q + ".session_control",
		attr:   q + ".session_attribute",
		codec:  opts.Codec,
		now:    opts.Now,
	}
	if s.codec == nil {
		s.codec = codec.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.ops.conn = s.withConn
	return s, nil
}

// Migrate creates the schema and tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + s.schema,
		`CREATE TABLE IF NOT EXISTS ` + s.ctl + ` (
			id               text   PRIMARY KEY,
			created_ms       bigint NOT NULL,
			last_accessed_ms bigint NOT NULL DEFAULT 0,
			max_inactive_ms  bigint NOT NULL DEFAULT 0,
			generation       bigint NOT NULL DEFAULT 0,
			principal        text   NOT NULL DEFAULT '',
			authenticated_ms bigint NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS ` + s.attr + ` (
			session_id text  NOT NULL REFERENCES ` + s.ctl + ` (id) ON UPDATE CASCADE ON DELETE CASCADE,
			name       text  NOT NULL,
			value      bytea NOT NULL,
			PRIMARY KEY (session_id, name)
		)`,
	}
	return s.withConn(ctx, func(q queryer) error {
		for _, stmt := range stmts {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("sqlstore: migrate: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) withConn(ctx context.Context, fn func(queryer) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

// InTx runs fn in one transaction on one pinned connection.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	txOps := s.ops
	txOps.conn = func(_ context.Context, f func(queryer) error) error { return f(tx) }
	if err := fn(ctx, &txOps); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops implements store.Store over whatever connection conn provides.
type ops struct {
	schema string // quoted
	ctl    string
	attr   string
	codec  codec.Codec[any]
	now    func() time.Time
	conn   func(ctx context.Context, fn func(queryer) error) error
}

var _ store.Store = (*ops)(nil)

func (o *ops) GetControl(ctx context.Context, id string) (store.Control, bool, error) {
	var (
		c                                    store.Control
		created, last, maxi, gen, authMillis int64
		found                                bool
	)
	err := o.conn(ctx, func(q queryer) error {
		err := q.QueryRowContext(ctx,
			`SELECT created_ms, last_accessed_ms, max_inactive_ms, generation, principal, authenticated_ms
			   FROM `+o.ctl+` WHERE id = $1`, id,
		).Scan(&created, &last, &maxi, &gen, &c.Principal, &authMillis)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil || !found {
		return store.Control{}, false, err
	}
	c.Created = fromMillis(created)
	c.LastAccessed = fromMillis(last)
	c.MaxInactive = time.Duration(maxi) * time.Millisecond
	c.Generation = uint64(gen)
	c.AuthenticatedAt = fromMillis(authMillis)
	return c, true, nil
}

func (o *ops) GetAttributes(ctx context.Context, id string, _ uint64) ([]store.Attribute, error) {
	var out []store.Attribute
	err := o.conn(ctx, func(q queryer) error {
		rows, err := q.QueryContext(ctx,
			`SELECT name, value FROM `+o.attr+` WHERE session_id = $1 ORDER BY name`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				name    string
				payload []byte
			)
			if err := rows.Scan(&name, &payload); err != nil {
				return err
			}
			v, err := o.codec.Decode(payload)
			if err != nil {
				return fmt.Errorf("sqlstore: decode attribute %q: %w", name, err)
			}
			out = append(out, store.Attribute{Name: name, Value: v, Present: true})
		}
		return rows.Err()
	})
	return out, err
}

func (o *ops) CreateControl(ctx context.Context, id string, init store.ControlInit) (time.Time, error) {
	created := o.now().Truncate(time.Millisecond)
	err := o.conn(ctx, func(q queryer) error {
		res, err := q.ExecContext(ctx,
			`INSERT INTO `+o.ctl+` (id, created_ms, last_accessed_ms, max_inactive_ms, generation, principal, authenticated_ms)
			 VALUES ($1, $2, $3, $4, 0, $5, $6)
			 ON CONFLICT (id) DO NOTHING`,
			id, millis(created), millis(init.LastAccessed), init.MaxInactive.Milliseconds(),
			init.Principal, millis(init.AuthenticatedAt))
		if err != nil {
			return err
		}
		return affected(res, store.ErrSessionExists)
	})
	if err != nil {
		return time.Time{}, err
	}
	return created, nil
}

func (o *ops) UpdateControl(ctx context.Context, id string, u store.ControlUpdate) error {
	set, args := updateSet(u)
	if len(set) == 0 {
		return o.conn(ctx, func(q queryer) error { return o.mustExist(ctx, q, id) })
	}
	args = append(args, id)
	stmt := `UPDATE ` + o.ctl + ` SET ` + strings.Join(set, ", ") + fmt.Sprintf(` WHERE id = $%d`, len(args))
	return o.conn(ctx, func(q queryer) error {
		res, err := q.ExecContext(ctx, stmt, args...)
		if err != nil {
			return err
		}
		return affected(res, store.ErrNoSession)
	})
}

// updateSet returns the SET clauses for u with placeholders $1..$n.
func updateSet(u store.ControlUpdate) ([]string, []any) {
	var (
		set  []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.LastAccessed != nil {
		add("last_accessed_ms", millis(*u.LastAccessed))
	}
	if u.MaxInactive != nil {
		add("max_inactive_ms", u.MaxInactive.Milliseconds())
	}
	if u.Principal != nil {
		add("principal", *u.Principal)
	}
	if u.AuthenticatedAt != nil {
		add("authenticated_ms", millis(*u.AuthenticatedAt))
	}
	return set, args
}

func (o *ops) ChangeSessionID(ctx context.Context, oldID, newID string) error {
	return o.conn(ctx, func(q queryer) error {
		if err := o.mustExist(ctx, q, oldID); err != nil {
			return err
		}
		switch err := o.mustExist(ctx, q, newID); {
		case err == nil:
			return store.ErrSessionExists
		case !errors.Is(err, store.ErrNoSession):
			return err
		}
		// attributes follow through ON UPDATE CASCADE
		res, err := q.ExecContext(ctx, `UPDATE `+o.ctl+` SET id = $2 WHERE id = $1`, oldID, newID)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrSessionExists
			}
			return err
		}
		return affected(res, store.ErrNoSession)
	})
}

func (o *ops) WriteAttribute(ctx context.Context, id, name string, value any) error {
	payload, err := o.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("sqlstore: encode attribute %q: %w", name, err)
	}
	return o.conn(ctx, func(q queryer) error {
		res, err := q.ExecContext(ctx,
			`INSERT INTO `+o.attr+` (session_id, name, value)
			 SELECT $1, $2, $3 WHERE EXISTS (SELECT 1 FROM `+o.ctl+` WHERE id = $1)
			 ON CONFLICT (session_id, name) DO UPDATE SET value = EXCLUDED.value`,
			id, name, payload)
		if err != nil {
			if isForeignKeyViolation(err) {
				return store.ErrNoSession
			}
			return err
		}
		return affected(res, store.ErrNoSession)
	})
}

func (o *ops) DeleteAttribute(ctx context.Context, id, name string) error {
	return o.conn(ctx, func(q queryer) error {
		if err := o.mustExist(ctx, q, id); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `DELETE FROM `+o.attr+` WHERE session_id = $1 AND name = $2`, id, name)
		return err
	})
}

func (o *ops) BumpGeneration(ctx context.Context, id string) (uint64, error) {
	var gen int64
	err := o.conn(ctx, func(q queryer) error {
		err := q.QueryRowContext(ctx,
			`UPDATE `+o.ctl+` SET generation = generation + 1 WHERE id = $1 RETURNING generation`, id,
		).Scan(&gen)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNoSession
		}
		return err
	})
	return uint64(gen), err
}

func (o *ops) RemoveSession(ctx context.Context, id string) error {
	return o.conn(ctx, func(q queryer) error {
		_, err := q.ExecContext(ctx, `DELETE FROM `+o.ctl+` WHERE id = $1`, id)
		return err
	})
}

func (o *ops) mustExist(ctx context.Context, q queryer, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM `+o.ctl+` WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNoSession
	}
	return err
}

// affected returns none when res touched no rows.
func affected(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}

func isUniqueViolation(err error) bool     { return pqCode(err) == "23505" }
func isForeignKeyViolation(err error) bool { return pqCode(err) == "23503" }

func pqCode(err error) pq.ErrorCode {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
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
