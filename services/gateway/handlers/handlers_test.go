// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/trendavatar/services/faults"
	"github.com/AleutianAI/trendavatar/services/gateway/middleware"
	"github.com/AleutianAI/trendavatar/services/gateway/session"
	"github.com/AleutianAI/trendavatar/services/oracle"
	"github.com/AleutianAI/trendavatar/services/pipeline"
	"github.com/AleutianAI/trendavatar/services/platform"
	"github.com/AleutianAI/trendavatar/services/tokenstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Fakes
// =============================================================================

type fakeGateway struct {
	trends      []platform.Trend
	trendsErr   error
	timeline    []platform.Post
	timelineErr error
	media       []platform.MediaCandidate
	cred        tokenstore.Credential
	profile     platform.Profile
	exchangeErr error
	publishErr  error

	invalidated []string
}

func (f *fakeGateway) BeginLogin() (string, string, error) {
	return "https://auth.example/authorize?state=s1", "s1", nil
}

func (f *fakeGateway) ExchangeAuthCode(_ context.Context, state, code string) (tokenstore.Credential, platform.Profile, error) {
	if f.exchangeErr != nil {
		return tokenstore.Credential{}, platform.Profile{}, f.exchangeErr
	}
	return f.cred, f.profile, nil
}

func (f *fakeGateway) GetTrends(_ context.Context, _ string) ([]platform.Trend, error) {
	return f.trends, f.trendsErr
}

func (f *fakeGateway) GetTimeline(_ context.Context, _ string) ([]platform.Post, error) {
	return f.timeline, f.timelineErr
}

func (f *fakeGateway) SearchMedia(_ context.Context, _ string, _ platform.Trend) ([]platform.MediaCandidate, error) {
	return f.media, nil
}

func (f *fakeGateway) FetchImage(_ context.Context, _ string) ([]byte, string, error) {
	return []byte{1, 2}, "image/jpeg", nil
}

func (f *fakeGateway) UploadMedia(_ context.Context, _ string, _ []byte, _ string) (string, error) {
	return "media-1", nil
}

func (f *fakeGateway) PublishPost(_ context.Context, _, _, _ string) (string, error) {
	if f.publishErr != nil {
		return "", f.publishErr
	}
	return "post-1", nil
}

func (f *fakeGateway) InvalidateSubject(subjectID string) {
	f.invalidated = append(f.invalidated, subjectID)
}

type fakeCredStore struct {
	stored  map[string]tokenstore.Credential
	deleted []string
}

func newFakeCredStore() *fakeCredStore {
	return &fakeCredStore{stored: make(map[string]tokenstore.Credential)}
}

func (f *fakeCredStore) Get(_ context.Context, subjectID string) (tokenstore.Credential, error) {
	if cred, ok := f.stored[subjectID]; ok {
		return cred, nil
	}
	return tokenstore.Credential{SubjectID: subjectID, Handle: "gopher"}, nil
}

func (f *fakeCredStore) Put(_ context.Context, cred tokenstore.Credential) error {
	f.stored[cred.SubjectID] = cred
	return nil
}

func (f *fakeCredStore) Delete(_ context.Context, subjectID string) error {
	f.deleted = append(f.deleted, subjectID)
	delete(f.stored, subjectID)
	return nil
}

type fakeOracle struct {
	score int
}

func (f *fakeOracle) Assess(_ context.Context, trend platform.Trend, _ []platform.MediaCandidate) (oracle.SuitabilityAssessment, error) {
	return oracle.SuitabilityAssessment{TrendID: trend.ID, Score: f.score, Rationale: "why not"}, nil
}

func (f *fakeOracle) Composite(_ context.Context, _ oracle.CompositeRequest) (oracle.CompositeResult, error) {
	return oracle.CompositeResult{Image: []byte{9, 9}, MIME: "image/png"}, nil
}

func (f *fakeOracle) Caption(_ context.Context, _ string) (string, error) {
	return "caption!", nil
}

func (f *fakeOracle) StyledPost(_ context.Context, _ string, _ []string) (string, error) {
	return "styled", nil
}

type fakeRunner struct {
	result pipeline.Result
	err    error
}

func (f *fakeRunner) RunTrend(_ context.Context, _, _ string) (pipeline.Result, error) {
	return f.result, f.err
}

func (f *fakeRunner) RunVoiceClone(_ context.Context, _, _ string, publish bool) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	if publish {
		return "cloned", "https://x.com/gopher/status/post-1", nil
	}
	return "cloned", "", nil
}

// asSubject seeds the request context the way SessionMiddleware would.
func asSubject(subjectID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.SetSubjectID(c, subjectID)
		c.Next()
	}
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Auth
// =============================================================================

func TestLogin_ReturnsAuthURL(t *testing.T) {
	r := gin.New()
	r.GET("/auth/login", Login(&fakeGateway{}))

	w := doRequest(r, http.MethodGet, "/auth/login", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["auth_url"], "https://auth.example")
	assert.Equal(t, "s1", resp["state"])
}

func TestCallback_IssuesSession(t *testing.T) {
	sessions := session.NewStore()
	creds := newFakeCredStore()
	gw := &fakeGateway{
		cred:    tokenstore.Credential{SubjectID: "u1", Handle: "gopher", AccessToken: "at"},
		profile: platform.Profile{ID: "u1", Username: "gopher"},
	}
	r := gin.New()
	r.GET("/auth/callback", Callback(gw, creds, sessions))

	w := doRequest(r, http.MethodGet, "/auth/callback?state=s1&code=c1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp["subject_id"])
	assert.Equal(t, "gopher", resp["handle"])

	subjectID, ok := sessions.Resolve(resp["session_token"])
	require.True(t, ok, "issued token does not resolve")
	assert.Equal(t, "u1", subjectID)

	if _, stored := creds.stored["u1"]; !stored {
		t.Error("credential not persisted")
	}
}

func TestCallback_MissingParams(t *testing.T) {
	r := gin.New()
	r.GET("/auth/callback", Callback(&fakeGateway{}, newFakeCredStore(), session.NewStore()))
	w := doRequest(r, http.MethodGet, "/auth/callback?code=c1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallback_ExchangeFailure(t *testing.T) {
	gw := &fakeGateway{exchangeErr: fmt.Errorf("bad state: %w", faults.ErrUnauthenticated)}
	r := gin.New()
	r.GET("/auth/callback", Callback(gw, newFakeCredStore(), session.NewStore()))
	w := doRequest(r, http.MethodGet, "/auth/callback?state=s1&code=c1", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_RevokesEverything(t *testing.T) {
	sessions := session.NewStore()
	token := sessions.Issue("u1")
	creds := newFakeCredStore()
	gw := &fakeGateway{}

	r := gin.New()
	r.POST("/auth/logout", asSubject("u1"), Logout(gw, creds, sessions))
	w := doRequest(r, http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusOK, w.Code)

	if _, ok := sessions.Resolve(token); ok {
		t.Error("session survived logout")
	}
	assert.Equal(t, []string{"u1"}, creds.deleted)
	assert.Equal(t, []string{"u1"}, gw.invalidated)
}

// =============================================================================
// Trends
// =============================================================================

func trendFixture() []platform.Trend {
	return []platform.Trend{{ID: "go", Name: "#go", PostCount: 9000}}
}

func mediaFixture() []platform.MediaCandidate {
	return []platform.MediaCandidate{{MediaURL: "https://cdn/a.jpg", Kind: platform.MediaImage, Engagement: 2000}}
}

func TestListTrends(t *testing.T) {
	r := gin.New()
	r.GET("/v1/trends", asSubject("u1"), ListTrends(&fakeGateway{trends: trendFixture()}))

	w := doRequest(r, http.MethodGet, "/v1/trends", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "#go")
}

func TestListTimeline(t *testing.T) {
	gw := &fakeGateway{timeline: []platform.Post{
		{ID: "p1", Text: "fresh gopher news"},
		{ID: "p2", Text: "older post"},
	}}
	r := gin.New()
	r.GET("/v1/timeline", asSubject("u1"), ListTimeline(gw))

	w := doRequest(r, http.MethodGet, "/v1/timeline", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fresh gopher news")
}

func TestListTimeline_Unauthenticated(t *testing.T) {
	gw := &fakeGateway{timelineErr: faults.ErrUnauthenticated}
	r := gin.New()
	r.GET("/v1/timeline", asSubject("u1"), ListTimeline(gw))

	w := doRequest(r, http.MethodGet, "/v1/timeline", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "reauth_required")
}

func TestAnalyzeTrend(t *testing.T) {
	gw := &fakeGateway{trends: trendFixture(), media: mediaFixture()}
	r := gin.New()
	r.POST("/v1/trends/:trendId/analyze", asSubject("u1"), AnalyzeTrend(gw, &fakeOracle{score: 77}))

	w := doRequest(r, http.MethodPost, "/v1/trends/go/analyze", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 77, resp["score"])
	assert.Equal(t, "go", resp["trend_id"])
}

func TestAnalyzeTrend_UnknownTrend(t *testing.T) {
	gw := &fakeGateway{trends: trendFixture(), media: mediaFixture()}
	r := gin.New()
	r.POST("/v1/trends/:trendId/analyze", asSubject("u1"), AnalyzeTrend(gw, &fakeOracle{}))

	w := doRequest(r, http.MethodPost, "/v1/trends/rust/analyze", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestProcessTrend_ReturnsImageInline(t *testing.T) {
	gw := &fakeGateway{trends: trendFixture(), media: mediaFixture()}
	r := gin.New()
	r.POST("/v1/trends/:trendId/process", asSubject("u1"), ProcessTrend(gw, &fakeOracle{}, newFakeCredStore()))

	w := doRequest(r, http.MethodPost, "/v1/trends/go/process", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "caption!", resp["caption"])
	assert.Equal(t, "image/png", resp["mime"])
	assert.NotEmpty(t, resp["image_base64"])
}

func TestAutoTrend_NormalOutcomesAre200(t *testing.T) {
	tests := []struct {
		name  string
		state pipeline.State
	}{
		{"published", pipeline.StatePublished},
		{"rejected", pipeline.StateRejected},
		{"nothing to do", pipeline.StateNothingToDo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/v1/trends/:trendId/auto", asSubject("u1"),
				AutoTrend(&fakeRunner{result: pipeline.Result{State: tt.state}}))

			w := doRequest(r, http.MethodPost, "/v1/trends/go/auto", "")
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), string(tt.state))
		})
	}
}

func TestAutoTrend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unauthenticated", faults.ErrUnauthenticated, http.StatusUnauthorized},
		{"rate limited", faults.ErrRateLimited, http.StatusTooManyRequests},
		{"not found", faults.ErrNotFound, http.StatusNotFound},
		{"upstream", faults.AtStage("publish", faults.ErrUpstreamUnavailable), http.StatusBadGateway},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/v1/trends/:trendId/auto", asSubject("u1"),
				AutoTrend(&fakeRunner{result: pipeline.Result{State: pipeline.StateFailed}, err: tt.err}))

			w := doRequest(r, http.MethodPost, "/v1/trends/go/auto", "")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAutoTrend_ErrorBodyCarriesStage(t *testing.T) {
	err := faults.AtStage("upload", faults.ErrUpstreamUnavailable)
	r := gin.New()
	r.POST("/v1/trends/:trendId/auto", asSubject("u1"),
		AutoTrend(&fakeRunner{result: pipeline.Result{State: pipeline.StateFailed, Stage: "upload"}, err: err}))

	w := doRequest(r, http.MethodPost, "/v1/trends/go/auto", "")
	assert.Contains(t, w.Body.String(), `"stage":"upload"`)
}

// =============================================================================
// Post and voice
// =============================================================================

func TestPublishPost_WithMedia(t *testing.T) {
	r := gin.New()
	r.POST("/v1/post", asSubject("u1"), PublishPost(&fakeGateway{}, newFakeCredStore()))

	w := doRequest(r, http.MethodPost, "/v1/post", `{"caption":"hi","media_url":"https://cdn/a.jpg"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://x.com/gopher/status/post-1")
}

func TestPublishPost_CaptionRequired(t *testing.T) {
	r := gin.New()
	r.POST("/v1/post", asSubject("u1"), PublishPost(&fakeGateway{}, newFakeCredStore()))
	w := doRequest(r, http.MethodPost, "/v1/post", `{"media_url":"https://cdn/a.jpg"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVoiceGenerate(t *testing.T) {
	r := gin.New()
	r.POST("/v1/voice/generate", asSubject("u1"), VoiceGenerate(&fakeRunner{}))

	w := doRequest(r, http.MethodPost, "/v1/voice/generate", `{"trend_name":"#go","publish":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cloned", resp["text"])
	assert.NotEmpty(t, resp["post_url"])
}

func TestVoiceGenerate_TrendNameRequired(t *testing.T) {
	r := gin.New()
	r.POST("/v1/voice/generate", asSubject("u1"), VoiceGenerate(&fakeRunner{}))
	w := doRequest(r, http.MethodPost, "/v1/voice/generate", `{"publish":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthCheck(t *testing.T) {
	r := gin.New()
	r.GET("/health", HealthCheck)
	w := doRequest(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
