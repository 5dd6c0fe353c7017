// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// TestGovernor_ExactLimitPerWindow tests that exactly limit calls are
// admitted and the next one is rejected.
func TestGovernor_ExactLimitPerWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := NewGovernor(WithClock(func() time.Time { return now }))

	const limit = 5
	for i := 0; i < limit; i++ {
		if !g.Allow("subj-a", limit, time.Minute) {
			t.Fatalf("call %d within limit was rejected", i+1)
		}
	}
	if g.Allow("subj-a", limit, time.Minute) {
		t.Error("call limit+1 was admitted")
	}
}

// TestGovernor_WindowReset tests that a request after the window
// elapsed starts a fresh window.
func TestGovernor_WindowReset(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := NewGovernor(WithClock(func() time.Time { return now }))

	if !g.Allow("k", 1, time.Minute) {
		t.Fatal("first call rejected")
	}
	if g.Allow("k", 1, time.Minute) {
		t.Fatal("second call in window admitted")
	}

	now = now.Add(time.Minute)
	if !g.Allow("k", 1, time.Minute) {
		t.Error("call after window elapsed was rejected")
	}
}

// TestGovernor_KeysIndependent tests that counters do not bleed
// between keys.
func TestGovernor_KeysIndependent(t *testing.T) {
	g := NewGovernor()

	if !g.Allow("a", 1, time.Minute) {
		t.Fatal("key a rejected")
	}
	if !g.Allow("b", 1, time.Minute) {
		t.Error("key b rejected after key a used its budget")
	}
}

// TestGovernor_Reset tests that Reset clears the window.
func TestGovernor_Reset(t *testing.T) {
	g := NewGovernor()

	g.Allow("k", 1, time.Hour)
	if g.Allow("k", 1, time.Hour) {
		t.Fatal("budget not exhausted")
	}
	g.Reset("k")
	if !g.Allow("k", 1, time.Hour) {
		t.Error("call after Reset rejected")
	}
}

// TestGovernor_ZeroLimit tests that a zero limit admits nothing.
func TestGovernor_ZeroLimit(t *testing.T) {
	g := NewGovernor()
	if g.Allow("k", 0, time.Minute) {
		t.Error("zero limit admitted a call")
	}
}

// TestGovernor_ConcurrentCallers tests that concurrent callers never
// exceed the limit in aggregate.
func TestGovernor_ConcurrentCallers(t *testing.T) {
	g := NewGovernor()

	const limit = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Allow("shared", limit, time.Hour) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != limit {
		t.Errorf("admitted %d calls, want exactly %d", admitted, limit)
	}
}
