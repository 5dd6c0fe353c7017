// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the gateway's request and response shapes.
package datatypes

import "github.com/AleutianAI/trendavatar/services/platform"

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`

	// Code distinguishes actionable failures: "reauth_required",
	// "rate_limited", "not_found", "upstream".
	Code string `json:"code,omitempty"`

	// Stage names the pipeline stage that failed, when known.
	Stage string `json:"stage,omitempty"`
}

// LoginResponse carries the authorization URL the client must visit.
type LoginResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// CallbackResponse is returned after a successful OAuth exchange.
type CallbackResponse struct {
	SessionToken string `json:"session_token"`
	SubjectID    string `json:"subject_id"`
	Handle       string `json:"handle"`
	AvatarURL    string `json:"avatar_url,omitempty"`
}

// TrendsResponse lists the subject's current trends.
type TrendsResponse struct {
	Trends []platform.Trend `json:"trends"`
}

// TimelineResponse lists the subject's home timeline posts.
type TimelineResponse struct {
	Posts []platform.Post `json:"posts"`
}

// AnalyzeResponse is a single trend's assessment.
type AnalyzeResponse struct {
	TrendID    string                    `json:"trend_id"`
	TrendName  string                    `json:"trend_name"`
	Score      int                       `json:"score"`
	Rationale  string                    `json:"rationale"`
	MediaCount int                       `json:"media_count"`
	Media      []platform.MediaCandidate `json:"media,omitempty"`
}

// ProcessResponse carries a composited image without publishing it.
type ProcessResponse struct {
	TrendID     string `json:"trend_id"`
	Caption     string `json:"caption"`
	ImageBase64 string `json:"image_base64"`
	MIME        string `json:"mime"`
}

// PostRequest publishes a caption with media fetched from a URL.
type PostRequest struct {
	Caption  string `json:"caption" binding:"required"`
	MediaURL string `json:"media_url"`
}

// PostResponse reports the published post.
type PostResponse struct {
	PostURL string `json:"post_url"`
}

// VoiceRequest asks for a voice-cloned post.
type VoiceRequest struct {
	TrendName string `json:"trend_name" binding:"required"`
	Publish   bool   `json:"publish"`
}

// VoiceResponse carries the generated text and, when published, the
// post URL.
type VoiceResponse struct {
	Text    string `json:"text"`
	PostURL string `json:"post_url,omitempty"`
}
