// Command sessionctl inspects and edits sessions in a sessioncache store.
//
//	sessionctl --backend redis --redis-addr localhost:6379 get <id>
//	sessionctl --backend postgres --postgres-dsn "$DSN" set <id> cart 42
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/sessioncache"
	zaplog "github.com/unkn0wn-root/sessioncache/log/zap"
	"github.com/unkn0wn-root/sessioncache/store"
)

type metadata struct {
	repo    sessioncache.Repository
	closer  func() error
	log     *zap.Logger
	verbose bool
	e       io.Writer
	w       io.Writer
}

// opener connects to the backend selected by the global flags.
type opener func(c *cli.Context) (st store.Store, closer func() error, err error)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero"

func main() {
	app := newApp(openStore)
	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(app.ErrWriter, "terminated with error: %s\n", err)
		os.Exit(1)
	}
}

func newApp(open opener) *cli.App {
	app := cli.NewApp()
	app.Name = "sessionctl"
	app.Usage = "inspect and edit stored sessions"
	app.Version = version
	app.HideVersion = true

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: " log repository activity to stderr",
		},
		cli.StringFlag{
			Name:   "backend, b",
			Value:  "redis",
			Usage:  " session store `BACKEND` [redis|postgres]",
			EnvVar: "SESSIONCTL_BACKEND",
		},
		cli.StringFlag{
			Name:   "redis-addr",
			Value:  "localhost:6379",
			Usage:  " redis `HOST:PORT`",
			EnvVar: "SESSIONCTL_REDIS_ADDR",
		},
		cli.StringFlag{
			Name:   "redis-password",
			Usage:  " redis `PASSWORD`",
			EnvVar: "SESSIONCTL_REDIS_PASSWORD",
		},
		cli.StringFlag{
			Name:   "redis-prefix",
			Value:  "session:",
			Usage:  " redis key `PREFIX`",
			EnvVar: "SESSIONCTL_REDIS_PREFIX",
		},
		cli.StringFlag{
			Name:   "postgres-dsn",
			Usage:  " postgres connection `DSN`",
			EnvVar: "SESSIONCTL_POSTGRES_DSN",
		},
		cli.StringFlag{
			Name:   "schema",
			Value:  "public",
			Usage:  " postgres `SCHEMA` holding the session tables",
			EnvVar: "SESSIONCTL_SCHEMA",
		},
		cli.StringFlag{
			Name:   "codec",
			Value:  "msgpack",
			Usage:  " attribute value `CODEC` [msgpack|cbor|json]",
			EnvVar: "SESSIONCTL_CODEC",
		},
		cli.IntFlag{
			Name:   "max-value-bytes",
			Usage:  " refuse stored attribute payloads larger than `BYTES` (0 = no limit)",
			EnvVar: "SESSIONCTL_MAX_VALUE_BYTES",
		},
		cli.DurationFlag{
			Name:   "max-inactive",
			Value:  30 * time.Minute,
			Usage:  " max inactive `INTERVAL` for created sessions",
			EnvVar: "SESSIONCTL_MAX_INACTIVE",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "create",
			Usage:  "create a session and print it",
			Action: runCreate,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "principal, p",
					Usage: " authenticate the new session as `NAME`",
				},
			},
		},
		{
			Name:      "get",
			Usage:     "print a session",
			ArgsUsage: "ID",
			Action:    runGet,
		},
		{
			Name:      "set",
			Usage:     "set an attribute",
			ArgsUsage: "ID NAME VALUE",
			Action:    runSet,
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "json, j",
					Usage: " parse VALUE as JSON",
				},
			},
		},
		{
			Name:      "unset",
			Usage:     "remove an attribute",
			ArgsUsage: "ID NAME",
			Action:    runUnset,
		},
		{
			Name:      "touch",
			Usage:     "record an access now",
			ArgsUsage: "ID",
			Action:    runTouch,
		},
		{
			Name:      "rotate",
			Usage:     "assign a new id, keeping the session",
			ArgsUsage: "ID",
			Action:    runRotate,
		},
		{
			Name:      "delete",
			Usage:     "remove a session",
			ArgsUsage: "ID",
			Action:    runDelete,
		},
		{
			Name:  "version",
			Usage: "display sessionctl version",
			Action: func(c *cli.Context) error {
				fmt.Fprintf(c.App.Writer, "%s\n", version)
				return nil
			},
		},
	}

	app.Before = func(c *cli.Context) error {
		switch c.Args().Get(0) {
		case "", "version", "help", "h":
			return nil
		}
		verbose := c.GlobalBool("verbose")
		log := zap.NewNop()
		if verbose {
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			log = l
		}

		st, closer, err := open(c)
		if err != nil {
			return err
		}
		repo, err := sessioncache.New(sessioncache.Options{
			Store:               st,
			Logger:              zaplog.New(log),
			MaxInactiveInterval: c.GlobalDuration("max-inactive"),
		})
		if err != nil {
			_ = closer()
			return err
		}
		c.App.Metadata["config"] = &metadata{
			repo:    repo,
			closer:  closer,
			log:     log,
			verbose: verbose,
			e:       c.App.ErrWriter,
			w:       c.App.Writer,
		}
		return nil
	}

	app.After = func(c *cli.Context) error {
		m, ok := c.App.Metadata["config"].(*metadata)
		if !ok {
			return nil
		}
		_ = m.repo.Close(context.Background())
		_ = m.log.Sync()
		return m.closer()
	}
	return app
}
