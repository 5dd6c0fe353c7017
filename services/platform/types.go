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

import "time"

// Trend is a platform-reported topic with elevated discussion volume.
// Immutable once fetched within a pipeline run; a fresh fetch creates
// new values rather than mutating prior ones.
type Trend struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PostCount    int       `json:"post_count"`
	Category     string    `json:"category,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Post is a timeline or history entry.
type Post struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// MediaKind classifies media candidates.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaAnimated MediaKind = "animated"
)

// MediaCandidate is a piece of trend-related media eligible for
// compositing. Associated with at most one trend per pipeline run and
// never persisted beyond it.
type MediaCandidate struct {
	MediaURL   string    `json:"media_url"`
	Kind       MediaKind `json:"kind"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	AltText    string    `json:"alt_text,omitempty"`
	Engagement int       `json:"engagement"`
}

// Profile is the authenticated user's platform identity.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// =============================================================================
// Upstream wire shapes
// =============================================================================

// trendsResponse is the personalized-trends payload.
type trendsResponse struct {
	Data []struct {
		TrendName string `json:"trend_name"`
		PostCount int    `json:"post_count"`
		Category  string `json:"category"`
	} `json:"data"`
}

// postsResponse covers timeline and user-posts payloads.
type postsResponse struct {
	Data []struct {
		ID        string    `json:"id"`
		Text      string    `json:"text"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"data"`
}

// searchResponse is the recent-search payload with media expansions.
type searchResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Text        string `json:"text"`
		Attachments struct {
			MediaKeys []string `json:"media_keys"`
		} `json:"attachments"`
		PublicMetrics struct {
			RetweetCount int `json:"retweet_count"`
			LikeCount    int `json:"like_count"`
		} `json:"public_metrics"`
	} `json:"data"`
	Includes struct {
		Media []struct {
			MediaKey        string `json:"media_key"`
			Type            string `json:"type"`
			URL             string `json:"url"`
			PreviewImageURL string `json:"preview_image_url"`
			Width           int    `json:"width"`
			Height          int    `json:"height"`
			AltText         string `json:"alt_text"`
		} `json:"media"`
	} `json:"includes"`
}

// userResponse is the /users/me payload.
type userResponse struct {
	Data struct {
		ID              string `json:"id"`
		Username        string `json:"username"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}

// idResponse covers create-style endpoints that return a single id.
type idResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}
