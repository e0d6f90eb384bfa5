package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli"

	"github.com/unkn0wn-root/sessioncache/codec"
	"github.com/unkn0wn-root/sessioncache/store"
	"github.com/unkn0wn-root/sessioncache/store/redisstore"
	"github.com/unkn0wn-root/sessioncache/store/sqlstore"
)

const connectTimeout = 5 * time.Second

func valueCodec(c *cli.Context) (codec.Codec[any], error) {
	var inner codec.Codec[any]
	switch name := c.GlobalString("codec"); name {
	case "msgpack":
		inner = codec.Msgpack[any]{}
	case "cbor":
		cb, err := codec.NewCBOR[any](true)
		if err != nil {
			return nil, err
		}
		inner = cb
	case "json":
		inner = codec.JSON[any]{}
	default:
		return nil, fmt.Errorf("codec: %q can only be msgpack/cbor/json", name)
	}
	if n := c.GlobalInt("max-value-bytes"); n > 0 {
		return codec.LimitCodec[any]{Inner: inner, MaxDecode: n}, nil
	}
	return inner, nil
}

func openStore(c *cli.Context) (store.Store, func() error, error) {
	vc, err := valueCodec(c)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	switch backend := c.GlobalString("backend"); backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.GlobalString("redis-addr"),
			Password: c.GlobalString("redis-password"),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", c.GlobalString("redis-addr"), err)
		}
		st := redisstore.New(rdb, redisstore.Options{Prefix: c.GlobalString("redis-prefix"), Codec: vc})
		return st, rdb.Close, nil

	case "postgres":
		dsn := c.GlobalString("postgres-dsn")
		if dsn == "" {
			return nil, nil, fmt.Errorf("postgres backend requires --postgres-dsn")
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		st, err := sqlstore.New(db, sqlstore.Options{Schema: c.GlobalString("schema"), Codec: vc})
		if err == nil {
			err = st.Migrate(ctx)
		}
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return st, db.Close, nil

	default:
		return nil, nil, fmt.Errorf("backend: %q can only be redis/postgres", backend)
	}
}
