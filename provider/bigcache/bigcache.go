// Package bigcache adapts allegro/bigcache to the provider contract.
// BigCache has no per-entry TTL (global LifeWindow only); authcache still
// enforces per-entry expiry via the timestamp carried in the wire framing.
package bigcache

import (
	"context"
	"time"

	bc "github.com/allegro/bigcache/v3"

	pr "github.com/unkn0wn-root/authcache/provider"
)

type Store struct {
	c *bc.BigCache
}

var _ pr.Provider = (*Store)(nil)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Store, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func (p *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	if err == bc.ErrEntryNotFound {
		return nil, false, nil
	}
	return b, err == nil, err
}

func (p *Store) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	// per-entry TTL unsupported; expiry rides in the wire framing
	return true, p.c.Set(key, value)
}

func (p *Store) Del(_ context.Context, key string) error {
	err := p.c.Delete(key)
	if err == bc.ErrEntryNotFound {
		return nil
	}
	return err
}

func (p *Store) Close(_ context.Context) error {
	return p.c.Close()
}
