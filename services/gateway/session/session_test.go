// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"testing"
	"time"
)

func TestIssueAndResolve(t *testing.T) {
	s := NewStore()
	token := s.Issue("u1")
	if token == "" {
		t.Fatal("empty token issued")
	}

	subjectID, ok := s.Resolve(token)
	if !ok || subjectID != "u1" {
		t.Errorf("Resolve = %q,%v", subjectID, ok)
	}
}

func TestResolve_UnknownToken(t *testing.T) {
	s := NewStore()
	if _, ok := s.Resolve("nope"); ok {
		t.Error("unknown token resolved")
	}
}

func TestResolve_Expired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(WithTTL(time.Hour), WithClock(func() time.Time { return now }))

	token := s.Issue("u1")
	now = now.Add(2 * time.Hour)

	if _, ok := s.Resolve(token); ok {
		t.Error("expired token resolved")
	}
}

func TestRevoke(t *testing.T) {
	s := NewStore()
	token := s.Issue("u1")
	s.Revoke(token)
	if _, ok := s.Resolve(token); ok {
		t.Error("revoked token resolved")
	}
	s.Revoke(token) // no-op
}

func TestRevokeSubject(t *testing.T) {
	s := NewStore()
	t1 := s.Issue("u1")
	t2 := s.Issue("u1")
	t3 := s.Issue("u2")

	s.RevokeSubject("u1")
	if _, ok := s.Resolve(t1); ok {
		t.Error("u1 session survived subject revocation")
	}
	if _, ok := s.Resolve(t2); ok {
		t.Error("u1 second session survived subject revocation")
	}
	if _, ok := s.Resolve(t3); !ok {
		t.Error("u2 session revoked collaterally")
	}
}

func TestIssue_TokensDistinct(t *testing.T) {
	s := NewStore()
	if s.Issue("u1") == s.Issue("u1") {
		t.Error("two sessions share a token")
	}
}
