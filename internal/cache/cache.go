// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package cache provides the rendered-feed document cache: a TTL
// key/value store holding serialized documents, with an in-memory
// default and an optional Redis backend for multi-replica setups.
package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Cache stores serialized documents under string keys with a TTL.
// Implementations are safe for concurrent use.
type Cache interface {
	// Get returns the value for key, or false when absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value under key for ttl. Non-positive ttl stores nothing.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Delete removes key.
	Delete(ctx context.Context, key string)
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string)
	// Stats returns counters since start.
	Stats() Stats
	// Close releases backend resources.
	Close() error
}

// Stats holds cache performance counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

type entry struct {
	value      []byte
	expiration time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiration)
}

// memoryCache is the default single-process backend.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64

	stopJanitor func()
}

// NewMemoryCache creates an in-memory cache. cleanupInterval controls how
// often expired entries are swept out; 0 disables the sweeper (expired
// entries still never serve, they just linger until overwritten).
func NewMemoryCache(cleanupInterval time.Duration) Cache {
	c := &memoryCache{entries: make(map[string]*entry)}

	if cleanupInterval > 0 {
		stop := make(chan struct{})
		c.stopJanitor = sync.OnceFunc(func() { close(stop) })
		go c.janitor(cleanupInterval, stop)
	}
	return c
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()

	if !found || e.expired(time.Now()) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = &entry{value: value, expiration: time.Now().Add(ttl)}
	c.mu.Unlock()
	c.sets.Add(1)
}

func (c *memoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *memoryCache) DeletePrefix(_ context.Context, prefix string) {
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

func (c *memoryCache) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Sets:        c.sets.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: size,
	}
}

func (c *memoryCache) Close() error {
	if c.stopJanitor != nil {
		c.stopJanitor()
	}
	return nil
}

func (c *memoryCache) janitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-stop:
			return
		}
	}
}

func (c *memoryCache) deleteExpired() {
	now := time.Now()
	var removed int64

	c.mu.Lock()
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	c.evictions.Add(removed)
}
