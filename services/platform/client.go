// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package platform wraps every call to the social platform: the OAuth
// exchange/refresh endpoints, trend and timeline retrieval, media
// search, media upload, and post creation.
//
// Every authenticated method goes through the same gate: the token
// store's EnsureFresh first (so expiry is checked on each use), then
// the rate governor (so a rejected call fails fast with a distinct
// error kind instead of blocking). Engagement filtering and result
// bounding happen here, so the orchestrator only ever sees pre-filtered
// candidates.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/AleutianAI/trendavatar/pkg/config"
	"github.com/AleutianAI/trendavatar/services/faults"
	"github.com/AleutianAI/trendavatar/services/observability"
	"github.com/AleutianAI/trendavatar/services/platform/pkce"
	"github.com/AleutianAI/trendavatar/services/ratelimit"
	"github.com/AleutianAI/trendavatar/services/respcache"
	"github.com/AleutianAI/trendavatar/services/tokenstore"
)

// maxResponseBytes bounds how much of an upstream body we will read.
const maxResponseBytes = 10 << 20

// TokenSource is the narrow slice of the token store this client needs.
type TokenSource interface {
	EnsureFresh(ctx context.Context, subjectID string) (string, error)
	Get(ctx context.Context, subjectID string) (tokenstore.Credential, error)
}

// Client is the platform API client.
//
// # Thread Safety
//
// Safe for concurrent use; all mutable state lives in the injected
// token store, governor, and caches, which synchronize internally.
type Client struct {
	cfg    config.Platform
	limits config.Limits
	oauth  *oauth2.Config
	http   *http.Client
	tokens TokenSource
	gov    *ratelimit.Governor
	logins *pkce.Store
	logger *slog.Logger

	trendCache   *respcache.Cache[[]Trend]
	postCache    *respcache.Cache[[]Post]
	historyCache *respcache.Cache[[]string]
}

// New creates a platform client. The caller wires the returned client
// back into the token store as its Refresher.
func New(cfg config.Platform, limits config.Limits, tokens TokenSource, gov *ratelimit.Governor, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		limits: limits,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       strings.Fields(oauthScopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		http:         &http.Client{Timeout: 30 * time.Second},
		tokens:       tokens,
		gov:          gov,
		logins:       pkce.NewStore(),
		logger:       logger,
		trendCache:   respcache.New[[]Trend](),
		postCache:    respcache.New[[]Post](),
		historyCache: respcache.New[[]string](),
	}
}

// authorize runs the shared per-call gate: token freshness, then quota.
func (c *Client) authorize(ctx context.Context, subjectID string) (string, error) {
	token, err := c.tokens.EnsureFresh(ctx, subjectID)
	if err != nil {
		return "", err
	}
	if !c.gov.Allow(subjectID, c.limits.PlatformLimit, c.limits.PlatformWindow) {
		observability.DefaultMetrics.RecordGovernorRejection("platform")
		return "", fmt.Errorf("subject %s over platform quota: %w", subjectID, faults.ErrRateLimited)
	}
	return token, nil
}

// GetTrends returns the subject's personalized trends, cache-backed
// with the short trend TTL.
func (c *Client) GetTrends(ctx context.Context, subjectID string) ([]Trend, error) {
	cacheKey := "trends:" + subjectID
	if trends, ok := c.trendCache.Get(cacheKey); ok {
		observability.DefaultMetrics.RecordCache("trends", true)
		return trends, nil
	}
	observability.DefaultMetrics.RecordCache("trends", false)

	token, err := c.authorize(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	var resp trendsResponse
	if err := c.getJSON(ctx, token, "/users/personalized_trends", nil, &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	trends := make([]Trend, 0, len(resp.Data))
	for _, raw := range resp.Data {
		if raw.TrendName == "" {
			continue
		}
		trends = append(trends, Trend{
			ID:           strings.TrimPrefix(raw.TrendName, "#"),
			Name:         raw.TrendName,
			PostCount:    raw.PostCount,
			Category:     raw.Category,
			DiscoveredAt: now,
		})
	}

	c.trendCache.Set(cacheKey, trends, c.cfg.TrendTTL)
	return trends, nil
}

// GetTimeline returns the subject's reverse-chronological home
// timeline, cache-backed with the short trend TTL.
func (c *Client) GetTimeline(ctx context.Context, subjectID string) ([]Post, error) {
	cacheKey := "timeline:" + subjectID
	if posts, ok := c.postCache.Get(cacheKey); ok {
		observability.DefaultMetrics.RecordCache("timeline", true)
		return posts, nil
	}
	observability.DefaultMetrics.RecordCache("timeline", false)

	token, err := c.authorize(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	var resp postsResponse
	path := fmt.Sprintf("/users/%s/timelines/reverse_chronological", url.PathEscape(subjectID))
	if err := c.getJSON(ctx, token, path, map[string]string{"max_results": "50"}, &resp); err != nil {
		return nil, err
	}

	posts := decodePosts(resp)
	c.postCache.Set(cacheKey, posts, c.cfg.TrendTTL)
	return posts, nil
}

// GetUserPosts returns the text of the subject's own recent posts, for
// style cloning. Cache-backed with the long history TTL; force skips
// the cache.
func (c *Client) GetUserPosts(ctx context.Context, subjectID string, force bool) ([]string, error) {
	cacheKey := "history:" + subjectID
	if !force {
		if texts, ok := c.historyCache.Get(cacheKey); ok {
			observability.DefaultMetrics.RecordCache("history", true)
			return texts, nil
		}
		observability.DefaultMetrics.RecordCache("history", false)
	}

	token, err := c.authorize(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	var resp postsResponse
	path := fmt.Sprintf("/users/%s/tweets", url.PathEscape(subjectID))
	if err := c.getJSON(ctx, token, path, map[string]string{"max_results": "100"}, &resp); err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(resp.Data))
	for _, post := range resp.Data {
		if post.Text != "" {
			texts = append(texts, post.Text)
		}
	}

	c.historyCache.Set(cacheKey, texts, c.cfg.HistoryTTL)
	return texts, nil
}

// SearchMedia finds recent media for a trend, filtered to image-class
// attachments whose post engagement (reshares + likes) meets the
// configured floor, sorted by engagement descending.
func (c *Client) SearchMedia(ctx context.Context, subjectID string, trend Trend) ([]MediaCandidate, error) {
	token, err := c.authorize(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("%s has:media has:images filter:images min_retweets:100 min_faves:1000", trend.Name)
	var resp searchResponse
	err = c.getJSON(ctx, token, "/tweets/search/recent", map[string]string{
		"query":        query,
		"max_results":  "100",
		"expansions":   "attachments.media_keys",
		"media.fields": "url,preview_image_url,type,width,height,alt_text",
		"tweet.fields": "public_metrics",
	}, &resp)
	if err != nil {
		return nil, err
	}

	candidates := extractMedia(resp, c.cfg.MinEngagement)
	c.logger.Debug("media search complete",
		"trend", trend.Name,
		"raw_results", len(resp.Data),
		"candidates", len(candidates),
	)
	return candidates, nil
}

// extractMedia joins posts to their media attachments, keeps
// image-class media on sufficiently engaged posts, and orders by
// engagement.
func extractMedia(resp searchResponse, minEngagement int) []MediaCandidate {
	type mediaInfo struct {
		candidate MediaCandidate
		ok        bool
	}
	mediaByKey := make(map[string]mediaInfo, len(resp.Includes.Media))
	for _, m := range resp.Includes.Media {
		url := m.URL
		if url == "" {
			url = m.PreviewImageURL
		}
		if url == "" {
			continue
		}
		var kind MediaKind
		switch m.Type {
		case "photo":
			kind = MediaImage
		case "animated_gif":
			kind = MediaAnimated
		default:
			continue // video and unknown types are not composable
		}
		mediaByKey[m.MediaKey] = mediaInfo{
			candidate: MediaCandidate{
				MediaURL: url,
				Kind:     kind,
				Width:    m.Width,
				Height:   m.Height,
				AltText:  m.AltText,
			},
			ok: true,
		}
	}

	var out []MediaCandidate
	for _, post := range resp.Data {
		engagement := post.PublicMetrics.RetweetCount + post.PublicMetrics.LikeCount
		if engagement < minEngagement {
			continue
		}
		for _, key := range post.Attachments.MediaKeys {
			if info := mediaByKey[key]; info.ok {
				cand := info.candidate
				cand.Engagement = engagement
				out = append(out, cand)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Engagement > out[j].Engagement
	})
	return out
}

// UploadMedia uploads raw media bytes and returns the platform's media
// handle.
func (c *Client) UploadMedia(ctx context.Context, subjectID string, data []byte, mimeType string) (string, error) {
	token, err := c.authorize(ctx, subjectID)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("media", "media"+extensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+"/media/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp idResponse
	if err := c.doJSON(req, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("upload response missing media id: %w", faults.ErrInvalidResponse)
	}
	return resp.Data.ID, nil
}

// PublishPost creates a post with the given text and optional media
// handle, returning the new post id.
func (c *Client) PublishPost(ctx context.Context, subjectID, text, mediaID string) (string, error) {
	token, err := c.authorize(ctx, subjectID)
	if err != nil {
		return "", err
	}

	payload := map[string]any{"text": text}
	if mediaID != "" {
		payload["media"] = map[string]any{"media_ids": []string{mediaID}}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+"/tweets", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	var resp idResponse
	if err := c.doJSON(req, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("publish response missing post id: %w", faults.ErrInvalidResponse)
	}

	c.logger.Info("post published", "subject_id", subjectID, "post_id", resp.Data.ID, "has_media", mediaID != "")
	return resp.Data.ID, nil
}

// FetchImage downloads media bytes from an absolute URL. Not gated by
// the governor: the target is a CDN, not the rate-limited API surface.
func (c *Client) FetchImage(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching media %s: %w", mediaURL, faults.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching media %s: status %d: %w", mediaURL, resp.StatusCode, faults.ErrUpstreamUnavailable)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", fmt.Errorf("reading media body: %w", faults.ErrUpstreamUnavailable)
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return data, mimeType, nil
}

// PostURL builds the canonical URL for a published post.
func PostURL(handle, postID string) string {
	return fmt.Sprintf("https://x.com/%s/status/%s", handle, postID)
}

// InvalidateSubject drops all cached responses for a subject. Called
// on logout.
func (c *Client) InvalidateSubject(subjectID string) {
	c.trendCache.Invalidate("trends:" + subjectID)
	c.postCache.Invalidate("timeline:" + subjectID)
	c.historyCache.Invalidate("history:" + subjectID)
	c.gov.Reset(subjectID)
}

// =============================================================================
// HTTP plumbing
// =============================================================================

// getJSON performs an authenticated GET against the API base and
// decodes the response.
func (c *Client) getJSON(ctx context.Context, token, path string, query map[string]string, out any) error {
	u, err := url.Parse(c.cfg.APIBaseURL + path)
	if err != nil {
		return err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.doJSON(req, out)
}

// doJSON executes the request and classifies failures into the shared
// taxonomy.
func (c *Client) doJSON(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	observability.DefaultMetrics.RecordUpstream("platform", time.Since(start))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%s %s: %v: %w", req.Method, req.URL.Path, err, faults.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: status %d: %w", req.Method, req.URL.Path, resp.StatusCode, faults.ErrUnauthenticated)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s %s: upstream 429: %w", req.Method, req.URL.Path, faults.ErrRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s %s: status %d: %w", req.Method, req.URL.Path, resp.StatusCode, faults.ErrUpstreamUnavailable)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%s %s: unexpected status %d: %w", req.Method, req.URL.Path, resp.StatusCode, faults.ErrUpstreamUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s %s: reading body: %w", req.Method, req.URL.Path, faults.ErrUpstreamUnavailable)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decoding body: %w", req.Method, req.URL.Path, faults.ErrInvalidResponse)
	}
	return nil
}

func decodePosts(resp postsResponse) []Post {
	posts := make([]Post, 0, len(resp.Data))
	for _, raw := range resp.Data {
		posts = append(posts, Post{ID: raw.ID, Text: raw.Text, CreatedAt: raw.CreatedAt})
	}
	return posts
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
