// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session issues and resolves bearer session tokens.
//
// A session token is an opaque UUID handed out after a successful
// OAuth callback. It maps to a subject ID until it expires or is
// revoked at logout. Tokens live only in memory; a restart logs
// everyone out, which is acceptable because re-login is cheap and the
// OAuth credential itself is persisted elsewhere.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a session stays valid without re-login.
const DefaultTTL = 24 * time.Hour

type entry struct {
	subjectID string
	expiresAt time.Time
}

// Store holds live sessions keyed by token.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a session for a subject and returns its token.
func (s *Store) Issue(subjectID string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.entries[token] = entry{subjectID: subjectID, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return token
}

// Resolve maps a token to its subject. False for unknown, revoked, or
// expired tokens.
func (s *Store) Resolve(token string) (string, bool) {
	s.mu.RLock()
	e, ok := s.entries[token]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, token)
		s.mu.Unlock()
		return "", false
	}
	return e.subjectID, true
}

// Revoke ends a session. Unknown tokens are a no-op.
func (s *Store) Revoke(token string) {
	s.mu.Lock()
	delete(s.entries, token)
	s.mu.Unlock()
}

// RevokeSubject ends every session belonging to a subject.
func (s *Store) RevokeSubject(subjectID string) {
	s.mu.Lock()
	for token, e := range s.entries {
		if e.subjectID == subjectID {
			delete(s.entries, token)
		}
	}
	s.mu.Unlock()
}
