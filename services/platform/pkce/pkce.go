// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pkce manages OAuth2 PKCE login attempts.
//
// Each login attempt gets a high-entropy code verifier whose SHA-256
// base64url digest travels to the authorization server as the code
// challenge. The verifier itself stays server-side, keyed by the
// opaque state parameter, until the callback arrives. Attempts are
// single-use and expire after a short TTL so an abandoned login cannot
// be replayed.
package pkce

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// attemptTTL bounds how long a login attempt may stay in flight.
const attemptTTL = 10 * time.Minute

// Attempt is one in-flight PKCE login.
type Attempt struct {
	// State is the opaque anti-CSRF value carried through the redirect.
	State string

	// Verifier is the plaintext code verifier. Never leaves the server.
	Verifier string

	// Challenge is the S256 digest of Verifier, sent in the
	// authorization request.
	Challenge string

	createdAt time.Time
}

// Store holds in-flight attempts keyed by state.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	attempts map[string]Attempt
	now      func() time.Time
}

// NewStore creates an empty attempt store.
func NewStore() *Store {
	return &Store{
		attempts: make(map[string]Attempt),
		now:      time.Now,
	}
}

// Begin creates and registers a new login attempt.
//
// The verifier is 32 random bytes hex-encoded (64 chars, inside the
// RFC 7636 43-128 length bounds); the state is 16 random bytes.
func (s *Store) Begin() (Attempt, error) {
	verifier, err := randomHex(32)
	if err != nil {
		return Attempt{}, fmt.Errorf("generating code verifier: %w", err)
	}
	state, err := randomHex(16)
	if err != nil {
		return Attempt{}, fmt.Errorf("generating state: %w", err)
	}

	attempt := Attempt{
		State:     state,
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		createdAt: s.now(),
	}

	s.mu.Lock()
	s.evictExpiredLocked()
	s.attempts[state] = attempt
	s.mu.Unlock()

	return attempt, nil
}

// Take removes and returns the attempt for state. The second return is
// false when the state is unknown, already used, or expired. An
// attempt can be taken exactly once.
func (s *Store) Take(state string) (Attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[state]
	if !ok {
		return Attempt{}, false
	}
	delete(s.attempts, state)
	if s.now().Sub(attempt.createdAt) > attemptTTL {
		return Attempt{}, false
	}
	return attempt, true
}

// evictExpiredLocked drops stale attempts. Caller holds s.mu.
func (s *Store) evictExpiredLocked() {
	cutoff := s.now().Add(-attemptTTL)
	for state, attempt := range s.attempts {
		if attempt.createdAt.Before(cutoff) {
			delete(s.attempts, state)
		}
	}
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
