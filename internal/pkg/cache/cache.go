// Package cache provides the cache port used by the extraction
// pipeline, with an in-memory tier and a disk-backed tier composed
// into a tiered cache. All implementations are safe for concurrent
// use with last-writer-wins semantics: losing a race on a write only
// costs a redundant upstream call, never correctness.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is the minimal get/set port consumed by the extractor.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
}

// Memory is an in-process TTL cache tier.
type Memory struct {
	c *gocache.Cache
}

// NewMemory creates an in-memory cache whose entries expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{c: gocache.New(ttl, 2*ttl)}
}

// Get returns the cached value for key, if present and unexpired.
func (m *Memory) Get(key string) ([]byte, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Set stores value under key.
func (m *Memory) Set(key string, value []byte) error {
	m.c.Set(key, value, gocache.DefaultExpiration)
	return nil
}

// Disk is a one-file-per-key cache tier rooted at a directory.
// Keys are content hashes, so they are already filesystem safe.
type Disk struct {
	dir string
}

// NewDisk creates the cache directory if needed and returns the tier.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Disk{dir: dir}, nil
}

// Get reads the cached value for key from disk.
func (d *Disk) Get(key string) ([]byte, bool) {
	b, err := os.ReadFile(d.path(key))
	if err != nil {
		return nil, false
	}
	return b, true
}

// Set writes the value atomically: temp file then rename, so a
// concurrent reader never observes a partial entry.
func (d *Disk) Set(key string, value []byte) error {
	tmp, err := os.CreateTemp(d.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create cache temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path(key)); err != nil {
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}

// Dir returns the cache root, used by the background sweep.
func (d *Disk) Dir() string {
	return d.dir
}

func (d *Disk) path(key string) string {
	return filepath.Join(d.dir, key+".json")
}

// Tiered composes caches ordered fastest first. A hit in a lower tier
// is promoted into the tiers above it.
type Tiered struct {
	tiers []Cache
}

// NewTiered composes the given tiers.
func NewTiered(tiers ...Cache) *Tiered {
	return &Tiered{tiers: tiers}
}

// Get checks each tier in order and promotes hits upward.
func (t *Tiered) Get(key string) ([]byte, bool) {
	for i, tier := range t.tiers {
		if v, ok := tier.Get(key); ok {
			for j := 0; j < i; j++ {
				_ = t.tiers[j].Set(key, v)
			}
			return v, true
		}
	}
	return nil, false
}

// Set writes the value to every tier. The first error is returned but
// the remaining tiers are still written.
func (t *Tiered) Set(key string, value []byte) error {
	var firstErr error
	for _, tier := range t.tiers {
		if err := tier.Set(key, value); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
