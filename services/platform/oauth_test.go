// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/AleutianAI/trendavatar/pkg/config"
	"github.com/AleutianAI/trendavatar/pkg/logging"
	"github.com/AleutianAI/trendavatar/services/faults"
	"github.com/AleutianAI/trendavatar/services/ratelimit"
)

// newOAuthClient points both the token endpoint and the API base at
// the same test server.
func newOAuthClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Platform{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		CallbackURL:  "https://app.example/auth/callback",
		APIBaseURL:   srv.URL,
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
		TrendTTL:     15 * time.Minute,
		HistoryTTL:   24 * time.Hour,
	}
	limits := config.Limits{PlatformLimit: 50, PlatformWindow: 15 * time.Minute}
	return New(cfg, limits, &fakeTokens{token: "tok"}, ratelimit.NewGovernor(), logging.Discard())
}

func TestBeginLogin_URLCarriesChallenge(t *testing.T) {
	c := newOAuthClient(t, http.NewServeMux())

	authURL, state, err := c.BeginLogin()
	if err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}
	if state == "" {
		t.Fatal("empty state")
	}

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("bad auth URL: %v", err)
	}
	q := u.Query()
	if q.Get("state") != state {
		t.Errorf("state param = %q, want %q", q.Get("state"), state)
	}
	if q.Get("code_challenge") == "" {
		t.Error("missing code_challenge")
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("challenge method = %q", q.Get("code_challenge_method"))
	}
	if q.Get("client_id") != "client-1" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
}

func TestExchangeAuthCode_FullFlow(t *testing.T) {
	mux := http.NewServeMux()
	var sawVerifier string
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		sawVerifier = r.FormValue("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":7200}`))
	})
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"id":"u1","username":"gopher","profile_image_url":"https://cdn/a.png"}}`))
	})
	c := newOAuthClient(t, mux)

	_, state, err := c.BeginLogin()
	if err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}

	cred, profile, err := c.ExchangeAuthCode(context.Background(), state, "code-1")
	if err != nil {
		t.Fatalf("ExchangeAuthCode failed: %v", err)
	}
	if cred.SubjectID != "u1" || cred.Handle != "gopher" {
		t.Errorf("cred = %+v", cred)
	}
	if cred.AccessToken != "at-1" || cred.RefreshToken != "rt-1" {
		t.Errorf("tokens = %q/%q", cred.AccessToken, cred.RefreshToken)
	}
	if cred.ExpiresAt.Before(time.Now().Add(time.Hour)) {
		t.Errorf("expiry = %v, want ~2h out", cred.ExpiresAt)
	}
	if profile.Username != "gopher" {
		t.Errorf("profile = %+v", profile)
	}
	if len(sawVerifier) != 64 {
		t.Errorf("verifier sent to token endpoint has length %d, want 64", len(sawVerifier))
	}
}

func TestExchangeAuthCode_UnknownState(t *testing.T) {
	c := newOAuthClient(t, http.NewServeMux())
	_, _, err := c.ExchangeAuthCode(context.Background(), "never-issued", "code-1")
	if !errors.Is(err, faults.ErrUnauthenticated) {
		t.Errorf("error = %v, want ErrUnauthenticated", err)
	}
}

func TestExchangeAuthCode_StateSingleUse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":7200}`))
	})
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"id":"u1","username":"gopher"}}`))
	})
	c := newOAuthClient(t, mux)

	_, state, _ := c.BeginLogin()
	if _, _, err := c.ExchangeAuthCode(context.Background(), state, "code-1"); err != nil {
		t.Fatalf("first exchange failed: %v", err)
	}
	if _, _, err := c.ExchangeAuthCode(context.Background(), state, "code-1"); !errors.Is(err, faults.ErrUnauthenticated) {
		t.Errorf("replayed state error = %v, want ErrUnauthenticated", err)
	}
}

func TestRefresh_ReturnsNewCredential(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.FormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.FormValue("refresh_token"); got != "rt-old" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-new","refresh_token":"rt-new","token_type":"Bearer","expires_in":7200}`))
	})
	c := newOAuthClient(t, mux)

	cred, err := c.Refresh(context.Background(), "rt-old")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if cred.AccessToken != "at-new" || cred.RefreshToken != "rt-new" {
		t.Errorf("cred = %+v", cred)
	}
}
