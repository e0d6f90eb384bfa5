package bigcache

import (
	"context"
	"testing"
	"time"
)

func TestBigcacheProvider(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Config{}); err == nil {
		t.Fatal("missing LifeWindow accepted")
	}
	p, err := New(ctx, Config{LifeWindow: time.Minute, Shards: 16, MaxEntriesInWindow: 100, MaxEntrySize: 256})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(ctx)

	if _, ok, err := p.Get(ctx, "session:t:s1"); err != nil || ok {
		t.Fatalf("empty cache ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, "session:t:s1", []byte("frame"), 0, 0); err != nil || !ok {
		t.Fatalf("Set ok=%v err=%v", ok, err)
	}
	b, ok, err := p.Get(ctx, "session:t:s1")
	if err != nil || !ok || string(b) != "frame" {
		t.Fatalf("Get=%q ok=%v err=%v", b, ok, err)
	}
	if err := p.Del(ctx, "session:t:s1"); err != nil {
		t.Fatal(err)
	}
	if err := p.Del(ctx, "session:t:s1"); err != nil {
		t.Fatalf("Del of missing key: %v", err)
	}
}
