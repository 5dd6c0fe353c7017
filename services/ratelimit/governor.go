// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit implements the fixed-window request governor that
// protects the upstream platform quota.
//
// The counting is deliberately plain fixed-window rather than sliding
// window or token bucket: the first request for a key starts a window,
// requests inside the window count against the limit, and a request
// arriving after the window elapsed resets it. Bursts at window
// boundaries are an accepted tradeoff at the request volumes involved
// (one scheduled run per window in the primary use case).
package ratelimit

import (
	"sync"
	"time"
)

// Governor tracks fixed-window counters per client key.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Governor struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

// Option customizes Governor construction.
type Option func(*Governor)

// WithClock injects a time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// NewGovernor creates an empty governor.
func NewGovernor(opts ...Option) *Governor {
	g := &Governor{
		windows: make(map[string]*window),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Allow reports whether the key may make another request under the
// given limit and window length.
//
// Exactly limit calls are admitted per window; the limit+1-th is
// rejected until the window elapses. A rejected call still observes
// the window (it does not extend it).
func (g *Governor) Allow(key string, limit int, windowLen time.Duration) bool {
	if limit <= 0 {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	w, ok := g.windows[key]
	if !ok || now.Sub(w.start) >= windowLen {
		g.windows[key] = &window{start: now, count: 1}
		return true
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// Reset forgets the key's current window.
func (g *Governor) Reset(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.windows, key)
}
