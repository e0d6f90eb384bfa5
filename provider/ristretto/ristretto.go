// Package ristretto adapts dgraph-io/ristretto to provider.Provider.
package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/sessioncache/provider"
)

type Provider struct {
	c *rc.Cache
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	NumCounters int64 // ~10x the expected number of live sessions
	MaxCost     int64 // total bytes of encoded records
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set waits for ristretto's write buffer to drain so a session saved by one
// request is visible to the next lookup.
func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok := p.c.SetWithTTL(key, value, cost, ttl)
	if ok {
		p.c.Wait()
	}
	return ok, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes ristretto's counters (nil unless Config.Metrics).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
