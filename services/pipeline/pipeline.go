// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs the trend-to-post state machine.
//
// # Description
//
// One run walks: fetch trends, filter and cap candidates, search media
// and assess each candidate, then composite, caption, upload, and
// publish for the chosen trend. Interactive runs short-circuit at the
// first candidate clearing the on-demand threshold; scheduled runs
// assess every capped candidate against a stricter bar before
// choosing.
//
// Failures carry stage attribution so callers can tell a broken trend
// fetch from a broken publish. Empty candidate sets and sub-threshold
// scores are normal terminal outcomes, not errors.
//
// # Thread Safety
//
// The orchestrator holds no per-run state; concurrent Run calls are
// safe.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/trendavatar/pkg/config"
	"github.com/AleutianAI/trendavatar/services/faults"
	"github.com/AleutianAI/trendavatar/services/observability"
	"github.com/AleutianAI/trendavatar/services/oracle"
	"github.com/AleutianAI/trendavatar/services/platform"
)

// Stage names for failure attribution.
const (
	StageTrends    = "trends"
	StageSearch    = "search"
	StageAssess    = "assess"
	StageComposite = "composite"
	StageCaption   = "caption"
	StageUpload    = "upload"
	StagePublish   = "publish"

	// Voice-clone stages.
	StageHistory = "history"
	StageStyle   = "style"
)

// defaultRetryBackoff spaces the single read-path retry.
const defaultRetryBackoff = 2 * time.Second

// Orchestrator drives pipeline runs.
type Orchestrator struct {
	platform PlatformAPI
	oracle   oracle.Oracle
	creds    CredentialSource
	cfg      config.Pipeline
	metrics  *observability.PipelineMetrics
	logger   *slog.Logger

	retryBackoff time.Duration
}

// New wires an orchestrator. metrics may be nil.
func New(api PlatformAPI, orc oracle.Oracle, creds CredentialSource, cfg config.Pipeline, metrics *observability.PipelineMetrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		platform:     api,
		oracle:       orc,
		creds:        creds,
		cfg:          cfg,
		metrics:      metrics,
		logger:       logger,
		retryBackoff: defaultRetryBackoff,
	}
}

// Run executes one trend-to-post pipeline for a subject.
//
// The returned Result always describes the terminal state, including
// on error; err is non-nil only for actual failures, never for
// "nothing to do" or "rejected" outcomes.
func (o *Orchestrator) Run(ctx context.Context, subjectID string, mode Mode) (Result, error) {
	start := time.Now()
	o.metrics.RunStarted()
	defer o.metrics.RunEnded()

	result, err := o.run(ctx, subjectID, mode)
	outcome := "posted"
	switch {
	case err != nil:
		outcome = "failed"
		o.metrics.RecordStageFailure(result.Stage, errorKind(err))
		o.logger.Error("pipeline run failed",
			"subject_id", subjectID,
			"mode", string(mode),
			"stage", result.Stage,
			"error", err,
		)
	case !result.Posted():
		outcome = "skipped"
	}
	o.metrics.RecordRun(string(mode), outcome, time.Since(start))
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, subjectID string, mode Mode) (Result, error) {
	trends, err := o.fetchTrendsWithRetry(ctx, subjectID)
	if err != nil {
		return failed(err), err
	}

	candidates := o.selectCandidates(trends)
	if len(candidates) == 0 {
		o.logger.Info("no eligible trends", "subject_id", subjectID, "fetched", len(trends))
		return Result{State: StateNothingToDo}, nil
	}

	chosen, media, assessment, result, err := o.assessCandidates(ctx, subjectID, mode, candidates)
	if err != nil || result.State != "" {
		return result, err
	}

	return o.publish(ctx, subjectID, chosen, media, assessment)
}

// fetchTrendsWithRetry fetches trends, retrying once on transient read
// failures.
func (o *Orchestrator) fetchTrendsWithRetry(ctx context.Context, subjectID string) ([]platform.Trend, error) {
	trends, err := o.platform.GetTrends(ctx, subjectID)
	if err != nil && faults.Retryable(err) {
		o.logger.Warn("trend fetch failed, retrying", "subject_id", subjectID, "error", err)
		if serr := o.sleep(ctx); serr != nil {
			return nil, faults.AtStage(StageTrends, serr)
		}
		trends, err = o.platform.GetTrends(ctx, subjectID)
	}
	if err != nil {
		return nil, faults.AtStage(StageTrends, err)
	}
	return trends, nil
}

// selectCandidates filters by post volume and keeps the busiest few.
func (o *Orchestrator) selectCandidates(trends []platform.Trend) []platform.Trend {
	eligible := make([]platform.Trend, 0, len(trends))
	for _, t := range trends {
		if t.PostCount >= o.cfg.MinPostCount {
			eligible = append(eligible, t)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].PostCount > eligible[j].PostCount
	})
	if len(eligible) > o.cfg.CandidateCap {
		eligible = eligible[:o.cfg.CandidateCap]
	}
	return eligible
}

// assessCandidates walks the capped candidates. On success it returns
// the chosen trend with its media and assessment and a zero Result; a
// non-zero Result is a terminal outcome (rejected or failed).
func (o *Orchestrator) assessCandidates(ctx context.Context, subjectID string, mode Mode, candidates []platform.Trend) (platform.Trend, []platform.MediaCandidate, oracle.SuitabilityAssessment, Result, error) {
	threshold := o.cfg.OnDemandThreshold
	if mode == ModeScheduled {
		threshold = o.cfg.ScheduledThreshold
	}

	type scored struct {
		trend      platform.Trend
		media      []platform.MediaCandidate
		assessment oracle.SuitabilityAssessment
	}
	var evaluated []scored
	var best *scored

	for _, trend := range candidates {
		media, err := o.searchMediaWithRetry(ctx, subjectID, trend)
		if err != nil {
			return platform.Trend{}, nil, oracle.SuitabilityAssessment{}, failed(err), err
		}
		if len(media) == 0 {
			o.logger.Debug("no media for trend", "trend", trend.Name)
			continue
		}

		assessment, err := o.oracle.Assess(ctx, trend, media)
		if err != nil {
			err = faults.AtStage(StageAssess, err)
			return platform.Trend{}, nil, oracle.SuitabilityAssessment{}, failed(err), err
		}
		o.metrics.RecordScore(assessment.Score)
		o.logger.Info("trend assessed",
			"subject_id", subjectID,
			"trend", trend.Name,
			"score", assessment.Score,
			"threshold", threshold,
		)

		entry := scored{trend: trend, media: media, assessment: assessment}
		evaluated = append(evaluated, entry)
		if best == nil || assessment.Score > best.assessment.Score {
			copied := entry
			best = &copied
		}

		// Interactive runs stop at the first qualifying candidate.
		if mode == ModeOnDemand && assessment.Score >= threshold {
			return trend, media, assessment, Result{}, nil
		}
	}

	// Scheduled runs pick the first qualifying candidate in volume
	// order after assessing everything.
	if mode == ModeScheduled {
		for _, e := range evaluated {
			if e.assessment.Score >= threshold {
				return e.trend, e.media, e.assessment, Result{}, nil
			}
		}
	}

	if best == nil {
		return platform.Trend{}, nil, oracle.SuitabilityAssessment{}, Result{State: StateNothingToDo}, nil
	}
	return platform.Trend{}, nil, oracle.SuitabilityAssessment{}, Result{
		State:     StateRejected,
		TrendID:   best.trend.ID,
		TrendName: best.trend.Name,
		Score:     best.assessment.Score,
		Rationale: best.assessment.Rationale,
	}, nil
}

func (o *Orchestrator) searchMediaWithRetry(ctx context.Context, subjectID string, trend platform.Trend) ([]platform.MediaCandidate, error) {
	media, err := o.platform.SearchMedia(ctx, subjectID, trend)
	if err != nil && faults.Retryable(err) {
		o.logger.Warn("media search failed, retrying", "trend", trend.Name, "error", err)
		if serr := o.sleep(ctx); serr != nil {
			return nil, faults.AtStage(StageSearch, serr)
		}
		media, err = o.platform.SearchMedia(ctx, subjectID, trend)
	}
	if err != nil {
		return nil, faults.AtStage(StageSearch, err)
	}
	return media, nil
}

// publish runs the write half: composite, caption, upload, publish.
// None of these steps is retried; a duplicate post is worse than a
// failed run.
func (o *Orchestrator) publish(ctx context.Context, subjectID string, trend platform.Trend, media []platform.MediaCandidate, assessment oracle.SuitabilityAssessment) (Result, error) {
	partial := Result{
		State:     StateSuitable,
		TrendID:   trend.ID,
		TrendName: trend.Name,
		Score:     assessment.Score,
		Rationale: assessment.Rationale,
	}

	cred, err := o.creds.Get(ctx, subjectID)
	if err != nil {
		err = faults.AtStage(StagePublish, err)
		return failedFrom(partial, err), err
	}

	composite, err := o.oracle.Composite(ctx, oracle.CompositeRequest{
		TrendName: trend.Name,
		AltText:   media[0].AltText,
		AvatarURL: cred.AvatarURL,
	})
	if err != nil {
		err = faults.AtStage(StageComposite, err)
		return failedFrom(partial, err), err
	}
	partial.State = StateComposited

	caption, err := o.oracle.Caption(ctx, trend.Name)
	if err != nil {
		err = faults.AtStage(StageCaption, err)
		return failedFrom(partial, err), err
	}

	mediaID, err := o.platform.UploadMedia(ctx, subjectID, composite.Image, composite.MIME)
	if err != nil {
		err = faults.AtStage(StageUpload, err)
		return failedFrom(partial, err), err
	}

	postID, err := o.platform.PublishPost(ctx, subjectID, caption, mediaID)
	if err != nil {
		err = faults.AtStage(StagePublish, err)
		return failedFrom(partial, err), err
	}

	partial.State = StatePublished
	partial.PostURL = platform.PostURL(cred.Handle, postID)
	o.logger.Info("pipeline published post",
		"subject_id", subjectID,
		"trend", trend.Name,
		"score", assessment.Score,
		"post_url", partial.PostURL,
	)
	return partial, nil
}

// RunTrend executes the pipeline pinned to one trend: the trend must
// exist in the subject's current trend list, and it alone is assessed
// against the on-demand threshold.
func (o *Orchestrator) RunTrend(ctx context.Context, subjectID, trendID string) (Result, error) {
	trends, err := o.fetchTrendsWithRetry(ctx, subjectID)
	if err != nil {
		return failed(err), err
	}

	var target *platform.Trend
	for i := range trends {
		if trends[i].ID == trendID {
			target = &trends[i]
			break
		}
	}
	if target == nil {
		err := fmt.Errorf("trend %s not in subject's current trends: %w", trendID, faults.ErrNotFound)
		return failed(err), err
	}

	chosen, media, assessment, result, err := o.assessCandidates(ctx, subjectID, ModeOnDemand, []platform.Trend{*target})
	if err != nil || result.State != "" {
		return result, err
	}
	return o.publish(ctx, subjectID, chosen, media, assessment)
}

// RunVoiceClone writes a post in the subject's own voice from their
// post history, optionally publishing it.
func (o *Orchestrator) RunVoiceClone(ctx context.Context, subjectID, trendName string, publish bool) (text, postURL string, err error) {
	start := time.Now()
	defer func() {
		outcome := "posted"
		switch {
		case err != nil:
			outcome = "failed"
			o.metrics.RecordStageFailure(faults.Stage(err), errorKind(err))
		case postURL == "":
			outcome = "skipped"
		}
		o.metrics.RecordRun(string(ModeVoiceClone), outcome, time.Since(start))
	}()

	history, err := o.platform.GetUserPosts(ctx, subjectID, false)
	if err != nil {
		return "", "", faults.AtStage(StageHistory, err)
	}
	if len(history) == 0 {
		err = fmt.Errorf("subject %s has no post history to clone: %w", subjectID, faults.ErrNotFound)
		return "", "", faults.AtStage(StageHistory, err)
	}

	text, err = o.oracle.StyledPost(ctx, trendName, history)
	if err != nil {
		return "", "", faults.AtStage(StageStyle, err)
	}

	if !publish {
		return text, "", nil
	}

	postID, err := o.platform.PublishPost(ctx, subjectID, text, "")
	if err != nil {
		return text, "", faults.AtStage(StagePublish, err)
	}
	cred, err := o.creds.Get(ctx, subjectID)
	if err != nil {
		return text, "", faults.AtStage(StagePublish, err)
	}
	return text, platform.PostURL(cred.Handle, postID), nil
}

func (o *Orchestrator) sleep(ctx context.Context) error {
	timer := time.NewTimer(o.retryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func failed(err error) Result {
	return Result{State: StateFailed, Stage: faults.Stage(err), Err: err}
}

func failedFrom(partial Result, err error) Result {
	partial.State = StateFailed
	partial.Stage = faults.Stage(err)
	partial.Err = err
	return partial
}

// errorKind maps a failure to its metrics label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, faults.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, faults.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, faults.ErrUpstreamUnavailable):
		return "upstream"
	case errors.Is(err, faults.ErrInvalidResponse):
		return "invalid_response"
	default:
		return "other"
	}
}
