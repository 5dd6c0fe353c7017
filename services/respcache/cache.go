// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package respcache provides a TTL-bounded in-memory cache for upstream
// responses.
//
// The cache avoids paying full upstream cost twice when a scheduled run
// and an interactive refresh ask for the same data inside one TTL. It
// knows nothing about trends or posts; values are opaque to it. Callers
// pick the TTL per data class: trend and timeline lookups use a short
// TTL tuned to the scheduler cadence, post-history lookups use a much
// longer one because writing style changes slowly.
//
// Expired entries are evicted lazily: a read that observes an expired
// entry deletes it and reports a miss. There is no background reaper.
//
// A cache failure must never fail the pipeline, so the API has no error
// returns at all; on miss the caller fetches upstream.
package respcache

import (
	"sync"
	"sync/atomic"
	"time"
)

// entry is a stored value with its expiry instant.
type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache is a TTL key-value store for values of type T.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]entry[T]
	now     func() time.Time

	// Stats
	hits   int64
	misses int64
}

// Option customizes Cache construction.
type Option[T any] func(*Cache[T])

// WithClock injects a time source. For tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) { c.now = now }
}

// New creates an empty cache.
func New[T any](opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		entries: make(map[string]entry[T]),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key. The second return is false on
// miss or when the entry has expired; an expired entry is deleted on
// observation.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		atomic.AddInt64(&c.misses, 1)
		var zero T
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a Set may have replaced the entry.
		if cur, still := c.entries[key]; still && !c.now().Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		atomic.AddInt64(&c.misses, 1)
		var zero T
		return zero, false
	}

	atomic.AddInt64(&c.hits, 1)
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry[T]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Invalidate removes key immediately.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cumulative hit and miss counts.
func (c *Cache[T]) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}
