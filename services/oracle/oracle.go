// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package oracle talks to the content model: trend suitability scoring,
// avatar image compositing, caption writing, and voice-cloned post
// generation.
//
// The oracle is advisory. Callers treat malformed model output as a
// low-quality answer, not an error: a score that cannot be parsed
// becomes zero and a missing caption falls back to a stock line, so
// one bad completion never aborts a pipeline run.
package oracle

import (
	"context"

	"github.com/AleutianAI/trendavatar/services/platform"
)

// SuitabilityAssessment is the model's judgment of a trend.
type SuitabilityAssessment struct {
	TrendID string `json:"trend_id"`

	// Score is 0-100, higher meaning better avatar-post material.
	// Zero when the model's answer could not be parsed.
	Score int `json:"score"`

	// Rationale is the model's free-text reasoning, kept for the
	// operator-facing response.
	Rationale string `json:"rationale"`
}

// CompositeRequest asks for the subject's avatar blended into a
// trend-related scene.
type CompositeRequest struct {
	TrendName string
	AltText   string
	AvatarURL string
}

// CompositeResult carries the generated image.
type CompositeResult struct {
	Image []byte
	MIME  string
}

// Oracle is the content-model boundary the pipeline depends on.
type Oracle interface {
	// Assess scores a trend's media for avatar-post suitability.
	Assess(ctx context.Context, trend platform.Trend, media []platform.MediaCandidate) (SuitabilityAssessment, error)

	// Composite generates the avatar-in-scene image.
	Composite(ctx context.Context, req CompositeRequest) (CompositeResult, error)

	// Caption writes a short post caption for the trend.
	Caption(ctx context.Context, trendName string) (string, error)

	// StyledPost writes a post about the trend in the voice evidenced
	// by the subject's post history.
	StyledPost(ctx context.Context, trendName string, history []string) (string, error)
}
