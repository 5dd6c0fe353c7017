// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"

	"github.com/AleutianAI/trendavatar/services/platform"
	"github.com/AleutianAI/trendavatar/services/tokenstore"
)

// Mode selects the orchestrator's threshold and candidate policy.
type Mode string

const (
	// ModeOnDemand is an interactive run: lower bar, short-circuits at
	// the first qualifying candidate.
	ModeOnDemand Mode = "on_demand"

	// ModeVoiceClone labels voice-clone runs in logs and metrics. It is
	// not a valid argument to Run.
	ModeVoiceClone Mode = "voice_clone"

	// ModeScheduled is an unattended run: stricter bar, all capped
	// candidates assessed before choosing.
	ModeScheduled Mode = "scheduled"
)

// State is where a pipeline run ended.
type State string

const (
	StateIdle              State = "idle"
	StateTrendsFetched     State = "trends_fetched"
	StateCandidateSelected State = "candidate_selected"
	StateAssessed          State = "assessed"
	StateSuitable          State = "suitable"
	StateRejected          State = "rejected"
	StateComposited        State = "composited"
	StatePublished         State = "published"

	// StateNothingToDo means the trend list was empty after filtering.
	// A normal outcome, not a failure.
	StateNothingToDo State = "nothing_to_do"

	StateFailed State = "failed"
)

// Result summarizes one pipeline run.
type Result struct {
	State     State  `json:"state"`
	TrendID   string `json:"trend_id,omitempty"`
	TrendName string `json:"trend_name,omitempty"`
	Score     int    `json:"score,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	PostURL   string `json:"post_url,omitempty"`

	// Stage is set on failure: the pipeline stage that broke.
	Stage string `json:"stage,omitempty"`
	Err   error  `json:"-"`
}

// Posted reports whether the run ended with a published post.
func (r Result) Posted() bool { return r.State == StatePublished }

// PlatformAPI is the slice of the platform client the orchestrator
// uses.
type PlatformAPI interface {
	GetTrends(ctx context.Context, subjectID string) ([]platform.Trend, error)
	SearchMedia(ctx context.Context, subjectID string, trend platform.Trend) ([]platform.MediaCandidate, error)
	UploadMedia(ctx context.Context, subjectID string, data []byte, mimeType string) (string, error)
	PublishPost(ctx context.Context, subjectID, text, mediaID string) (string, error)
	FetchImage(ctx context.Context, mediaURL string) ([]byte, string, error)
	GetUserPosts(ctx context.Context, subjectID string, force bool) ([]string, error)
}

// CredentialSource looks up stored identity fields (handle, avatar).
type CredentialSource interface {
	Get(ctx context.Context, subjectID string) (tokenstore.Credential, error)
}

// SubjectSource enumerates subjects for scheduled sweeps.
type SubjectSource interface {
	Subjects(ctx context.Context) ([]string, error)
}

// Runner is the orchestrator surface the scheduler drives.
type Runner interface {
	Run(ctx context.Context, subjectID string, mode Mode) (Result, error)
}
