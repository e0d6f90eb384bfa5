package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/urfave/cli"

	"github.com/unkn0wn-root/sessioncache"
)

// sessionView is the JSON shape printed for a session.
type sessionView struct {
	ID              string         `json:"id"`
	Created         *time.Time     `json:"created,omitempty"`
	LastAccessed    time.Time      `json:"last_accessed"`
	MaxInactive     string         `json:"max_inactive"`
	Principal       string         `json:"principal,omitempty"`
	AuthenticatedAt *time.Time     `json:"authenticated_at,omitempty"`
	Generation      uint64         `json:"generation"`
	Attributes      map[string]any `json:"attributes"`
}

func view(r *sessioncache.Record) sessionView {
	v := sessionView{
		ID:           r.ID(),
		LastAccessed: r.LastAccessedTime(),
		MaxInactive:  r.MaxInactiveInterval().String(),
		Principal:    r.Principal(),
		Generation:   r.Generation(),
		Attributes:   r.Attributes(),
	}
	if t, ok := r.CreationTime(); ok {
		v.Created = &t
	}
	if at := r.AuthenticatedAt(); !at.IsZero() {
		v.AuthenticatedAt = &at
	}
	return v
}

func meta(c *cli.Context) *metadata {
	return c.App.Metadata["config"].(*metadata)
}

func args(c *cli.Context, names ...string) ([]string, error) {
	if c.NArg() != len(names) {
		return nil, fmt.Errorf("%s expects %d argument(s): %v", c.Command.Name, len(names), names)
	}
	out := make([]string, len(names))
	for i := range names {
		out[i] = c.Args().Get(i)
		if out[i] == "" {
			return nil, fmt.Errorf("%s: empty %s", c.Command.Name, names[i])
		}
	}
	return out, nil
}

func runCreate(c *cli.Context) error {
	m := meta(c)
	ctx := context.Background()
	rec, err := m.repo.CreateSession()
	if err != nil {
		return err
	}
	if p := c.String("principal"); p != "" {
		rec.Authenticate(p, time.Now())
	}
	if err := m.repo.Save(ctx, rec); err != nil {
		return err
	}
	return printJson(m.w, view(rec))
}

func runGet(c *cli.Context) error {
	a, err := args(c, "ID")
	if err != nil {
		return err
	}
	m := meta(c)
	rec, err := find(m, a[0])
	if err != nil {
		return err
	}
	return printJson(m.w, view(rec))
}

func runSet(c *cli.Context) error {
	a, err := args(c, "ID", "NAME", "VALUE")
	if err != nil {
		return err
	}
	var value any = a[2]
	if c.Bool("json") {
		if err := json.Unmarshal([]byte(a[2]), &value); err != nil {
			return fmt.Errorf("value: %w", err)
		}
	}
	return update(c, a[0], func(r *sessioncache.Record) error {
		r.SetAttribute(a[1], value)
		return nil
	})
}

func runUnset(c *cli.Context) error {
	a, err := args(c, "ID", "NAME")
	if err != nil {
		return err
	}
	return update(c, a[0], func(r *sessioncache.Record) error {
		r.RemoveAttribute(a[1])
		return nil
	})
}

func runTouch(c *cli.Context) error {
	a, err := args(c, "ID")
	if err != nil {
		return err
	}
	return update(c, a[0], func(r *sessioncache.Record) error {
		r.Touch(time.Now())
		return nil
	})
}

func runRotate(c *cli.Context) error {
	a, err := args(c, "ID")
	if err != nil {
		return err
	}
	return update(c, a[0], func(r *sessioncache.Record) error {
		_, err := r.ChangeID()
		return err
	})
}

func runDelete(c *cli.Context) error {
	a, err := args(c, "ID")
	if err != nil {
		return err
	}
	m := meta(c)
	if err := m.repo.DeleteByID(context.Background(), a[0]); err != nil {
		return err
	}
	if m.verbose {
		fmt.Fprintf(m.e, "deleted\n")
	}
	return nil
}

func find(m *metadata, id string) (*sessioncache.Record, error) {
	rec, ok, err := m.repo.FindByID(context.Background(), id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("session not found")
	}
	return rec, nil
}

// update loads id, applies fn, saves and prints the result.
func update(c *cli.Context, id string, fn func(*sessioncache.Record) error) error {
	m := meta(c)
	rec, err := find(m, id)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	if m.verbose {
		fmt.Fprintf(m.e, "changes: %s\n", rec.Changes())
	}
	if err := m.repo.Save(context.Background(), rec); err != nil {
		return err
	}
	return printJson(m.w, view(rec))
}
