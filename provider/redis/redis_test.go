package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err != ErrNilClient {
		t.Fatalf("err=%v", err)
	}
}

func TestRedisProvider(t *testing.T) {
	addr := os.Getenv("SESSIONCACHE_REDIS_ADDR")
	if addr == "" {
		t.Skip("SESSIONCACHE_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	p, err := New(Config{Client: rdb, Prefix: "sessioncache-test:", CloseClient: true})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(ctx)

	key := "k-" + time.Now().Format("150405.000000000")
	if _, ok, err := p.Get(ctx, key); err != nil || ok {
		t.Fatalf("fresh key ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, key, []byte("frame"), 5, time.Minute); err != nil || !ok {
		t.Fatalf("Set ok=%v err=%v", ok, err)
	}
	b, ok, err := p.Get(ctx, key)
	if err != nil || !ok || string(b) != "frame" {
		t.Fatalf("Get=%q ok=%v err=%v", b, ok, err)
	}
	if n, _ := rdb.Exists(ctx, "sessioncache-test:"+key).Result(); n != 1 {
		t.Fatal("prefix not applied")
	}
	if err := p.Del(ctx, key); err != nil {
		t.Fatal(err)
	}
	if err := p.Del(ctx, key); err != nil {
		t.Fatalf("second Del: %v", err)
	}
}
