// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tokenstore owns OAuth credential state per subject.
//
// The store is the single authority on whether an access token may be
// used: ExpiresAt is checked on every EnsureFresh call, and consumers
// never hold a token longer than one request. Refresh is single-flight
// per subject, so concurrent pipeline runs for the same subject collapse
// into one upstream refresh call.
//
// Persistence is delegated to the Records interface; the in-memory
// implementation here is the default, and tokenstore/badgerdb provides
// the durable one.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/trendavatar/services/faults"
	"github.com/AleutianAI/trendavatar/services/observability"
)

// =============================================================================
// Credential
// =============================================================================

// Credential is the per-subject token pair plus the profile fields the
// pipeline needs (handle for the canonical post URL, avatar for
// compositing).
//
// Mutated only through Put and the refresh path; destroyed on Delete.
type Credential struct {
	SubjectID    string    `json:"subject_id"`
	Handle       string    `json:"handle"`
	AvatarURL    string    `json:"avatar_url"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Usable reports whether the access token is valid at now with the
// given skew margin.
func (c Credential) Usable(now time.Time, skew time.Duration) bool {
	return c.AccessToken != "" && now.Before(c.ExpiresAt.Add(-skew))
}

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Records is the narrow persistence contract for credentials.
type Records interface {
	Load(ctx context.Context, subjectID string) (Credential, error)
	Save(ctx context.Context, cred Credential) error
	Delete(ctx context.Context, subjectID string) error
	List(ctx context.Context) ([]string, error)
}

// Refresher exchanges a refresh token for a new credential. Implemented
// by the platform client; injected so this package has no network
// dependency.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credential, error)
}

// =============================================================================
// Store
// =============================================================================

// Store manages credentials with single-flight refresh.
//
// # Thread Safety
//
// All methods are safe for concurrent use. No lock is held across the
// upstream refresh call; only the read-modify-write of stored state is
// a critical section.
type Store struct {
	records   Records
	refresher Refresher
	skew      time.Duration
	flight    singleflight.Group
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes Store construction.
type Option func(*Store)

// WithClock injects a time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSkew overrides the default 60s expiry margin.
func WithSkew(skew time.Duration) Option {
	return func(s *Store) { s.skew = skew }
}

// New creates a Store over the given records and refresher.
func New(records Records, refresher Refresher, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		records:   records,
		refresher: refresher,
		skew:      60 * time.Second,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRefresher replaces the refresher. The platform client and the
// store reference each other; the binary wires the cycle by setting the
// refresher after constructing both. Must be called before first use.
func (s *Store) SetRefresher(r Refresher) { s.refresher = r }

// Get returns the stored credential for a subject.
func (s *Store) Get(ctx context.Context, subjectID string) (Credential, error) {
	return s.records.Load(ctx, subjectID)
}

// Put stores a credential, replacing any prior one for the subject.
func (s *Store) Put(ctx context.Context, cred Credential) error {
	if cred.SubjectID == "" {
		return errors.New("credential missing subject id")
	}
	return s.records.Save(ctx, cred)
}

// Delete removes a subject's credential (logout or revoke).
func (s *Store) Delete(ctx context.Context, subjectID string) error {
	return s.records.Delete(ctx, subjectID)
}

// Subjects lists all subject ids with stored credentials, sorted.
func (s *Store) Subjects(ctx context.Context) ([]string, error) {
	ids, err := s.records.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// EnsureFresh returns an access token guaranteed to be usable now.
//
// If the stored token is inside the skew margin of its expiry, the
// refresh endpoint is called with the stored refresh token and the
// credential is atomically replaced before the new token is returned.
// Concurrent callers for the same subject share one refresh call.
//
// A failed refresh marks the credential unusable and returns
// faults.ErrUnauthenticated; the subject must re-authenticate.
func (s *Store) EnsureFresh(ctx context.Context, subjectID string) (string, error) {
	cred, err := s.records.Load(ctx, subjectID)
	if err != nil {
		if errors.Is(err, faults.ErrNotFound) {
			return "", fmt.Errorf("subject %s: %w", subjectID, faults.ErrUnauthenticated)
		}
		return "", err
	}

	if cred.Usable(s.now(), s.skew) {
		return cred.AccessToken, nil
	}

	token, err, _ := s.flight.Do(subjectID, func() (any, error) {
		return s.refresh(ctx, subjectID)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// refresh performs the actual single-flight body. Re-reads the record
// first: a concurrent caller may already have refreshed between our
// staleness check and the flight admission.
func (s *Store) refresh(ctx context.Context, subjectID string) (string, error) {
	cred, err := s.records.Load(ctx, subjectID)
	if err == nil && cred.Usable(s.now(), s.skew) {
		return cred.AccessToken, nil
	}
	if err != nil {
		return "", fmt.Errorf("subject %s: %w", subjectID, faults.ErrUnauthenticated)
	}

	if cred.RefreshToken == "" {
		return "", fmt.Errorf("subject %s has no refresh token: %w", subjectID, faults.ErrUnauthenticated)
	}

	fresh, err := s.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		// Leave the credential unusable so later calls fail fast until
		// the subject logs in again.
		cred.AccessToken = ""
		cred.ExpiresAt = time.Time{}
		if saveErr := s.records.Save(ctx, cred); saveErr != nil {
			s.logger.Error("failed to mark credential unusable", "subject_id", subjectID, "error", saveErr)
		}
		s.logger.Warn("token refresh failed", "subject_id", subjectID, "error", err)
		observability.DefaultMetrics.RecordTokenRefresh(false)
		return "", fmt.Errorf("refresh for subject %s: %w", subjectID, faults.ErrUnauthenticated)
	}

	fresh.SubjectID = subjectID
	fresh.Handle = cred.Handle
	fresh.AvatarURL = cred.AvatarURL
	if fresh.RefreshToken == "" {
		// The platform may omit a rotated refresh token; keep the old one.
		fresh.RefreshToken = cred.RefreshToken
	}
	if err := s.records.Save(ctx, fresh); err != nil {
		return "", fmt.Errorf("saving refreshed credential: %w", err)
	}

	s.logger.Info("access token refreshed", "subject_id", subjectID, "expires_at", fresh.ExpiresAt)
	observability.DefaultMetrics.RecordTokenRefresh(true)
	return fresh.AccessToken, nil
}

// =============================================================================
// In-Memory Records
// =============================================================================

// MemoryRecords is a map-backed Records implementation. Default for
// tests and for deployments without a data directory.
type MemoryRecords struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemoryRecords creates an empty in-memory record store.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{creds: make(map[string]Credential)}
}

func (m *MemoryRecords) Load(_ context.Context, subjectID string) (Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[subjectID]
	if !ok {
		return Credential{}, fmt.Errorf("credential for %s: %w", subjectID, faults.ErrNotFound)
	}
	return cred, nil
}

func (m *MemoryRecords) Save(_ context.Context, cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.SubjectID] = cred
	return nil
}

func (m *MemoryRecords) Delete(_ context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, subjectID)
	return nil
}

func (m *MemoryRecords) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.creds))
	for id := range m.creds {
		ids = append(ids, id)
	}
	return ids, nil
}
