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
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/trendavatar/services/faults"
	"github.com/AleutianAI/trendavatar/services/gateway/datatypes"
	"github.com/AleutianAI/trendavatar/services/gateway/middleware"
	"github.com/AleutianAI/trendavatar/services/oracle"
	"github.com/AleutianAI/trendavatar/services/platform"
)

// ListTrends returns the subject's current personalized trends.
func ListTrends(pc PlatformGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectID := middleware.GetSubjectID(c)
		trends, err := pc.GetTrends(c.Request.Context(), subjectID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.TrendsResponse{Trends: trends})
	}
}

// ListTimeline returns the subject's reverse-chronological home
// timeline.
func ListTimeline(pc PlatformGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectID := middleware.GetSubjectID(c)
		posts, err := pc.GetTimeline(c.Request.Context(), subjectID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.TimelineResponse{Posts: posts})
	}
}

// AnalyzeTrend scores one trend without producing or publishing
// anything.
func AnalyzeTrend(pc PlatformGateway, orc oracle.Oracle) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "AnalyzeTrend")
		defer span.End()

		subjectID := middleware.GetSubjectID(c)
		trend, media, err := findTrendMedia(ctx, pc, subjectID, c.Param("trendId"))
		if err != nil {
			span.RecordError(err)
			respondError(c, err)
			return
		}

		assessment, err := orc.Assess(ctx, trend, media)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			respondError(c, faults.AtStage("assess", err))
			return
		}

		c.JSON(http.StatusOK, datatypes.AnalyzeResponse{
			TrendID:    trend.ID,
			TrendName:  trend.Name,
			Score:      assessment.Score,
			Rationale:  assessment.Rationale,
			MediaCount: len(media),
			Media:      media,
		})
	}
}

// ProcessTrend composites an image for one trend and returns it
// inline, leaving publishing to the caller.
func ProcessTrend(pc PlatformGateway, orc oracle.Oracle, creds CredentialStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "ProcessTrend")
		defer span.End()

		subjectID := middleware.GetSubjectID(c)
		trend, media, err := findTrendMedia(ctx, pc, subjectID, c.Param("trendId"))
		if err != nil {
			span.RecordError(err)
			respondError(c, err)
			return
		}

		cred, err := creds.Get(ctx, subjectID)
		if err != nil {
			respondError(c, err)
			return
		}

		composite, err := orc.Composite(ctx, oracle.CompositeRequest{
			TrendName: trend.Name,
			AltText:   media[0].AltText,
			AvatarURL: cred.AvatarURL,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			respondError(c, faults.AtStage("composite", err))
			return
		}

		caption, err := orc.Caption(ctx, trend.Name)
		if err != nil {
			span.RecordError(err)
			respondError(c, faults.AtStage("caption", err))
			return
		}

		c.JSON(http.StatusOK, datatypes.ProcessResponse{
			TrendID:     trend.ID,
			Caption:     caption,
			ImageBase64: base64.StdEncoding.EncodeToString(composite.Image),
			MIME:        composite.MIME,
		})
	}
}

// AutoTrend runs the full pipeline for one trend in on-demand mode.
func AutoTrend(runner PipelineRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "AutoTrend")
		defer span.End()

		subjectID := middleware.GetSubjectID(c)
		result, err := runner.RunTrend(ctx, subjectID, c.Param("trendId"))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Pipeline run failed", "subject_id", subjectID, "stage", result.Stage, "error", err)
			respondError(c, err)
			return
		}
		// Rejected and nothing-to-do are ordinary outcomes; the result
		// body carries the state.
		c.JSON(http.StatusOK, result)
	}
}

// findTrendMedia resolves a trend ID against the subject's current
// trends and searches media for it.
func findTrendMedia(ctx context.Context, pc PlatformGateway, subjectID, trendID string) (platform.Trend, []platform.MediaCandidate, error) {
	trends, err := pc.GetTrends(ctx, subjectID)
	if err != nil {
		return platform.Trend{}, nil, err
	}

	var target *platform.Trend
	for i := range trends {
		if trends[i].ID == trendID {
			target = &trends[i]
			break
		}
	}
	if target == nil {
		return platform.Trend{}, nil, fmt.Errorf("trend %s not in current trends: %w", trendID, faults.ErrNotFound)
	}

	media, err := pc.SearchMedia(ctx, subjectID, *target)
	if err != nil {
		return platform.Trend{}, nil, err
	}
	if len(media) == 0 {
		return platform.Trend{}, nil, fmt.Errorf("no media found for trend %s: %w", trendID, faults.ErrNotFound)
	}
	return *target, media, nil
}
