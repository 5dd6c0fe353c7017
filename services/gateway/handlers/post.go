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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/trendavatar/services/faults"
	"github.com/AleutianAI/trendavatar/services/gateway/datatypes"
	"github.com/AleutianAI/trendavatar/services/gateway/middleware"
	"github.com/AleutianAI/trendavatar/services/platform"
)

// PublishPost publishes a caption, optionally with media fetched from
// a URL first.
func PublishPost(pc PlatformGateway, creds CredentialStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "PublishPost")
		defer span.End()

		var req datatypes.PostRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
			return
		}

		subjectID := middleware.GetSubjectID(c)

		var mediaID string
		if req.MediaURL != "" {
			data, mimeType, err := pc.FetchImage(ctx, req.MediaURL)
			if err != nil {
				span.RecordError(err)
				respondError(c, faults.AtStage("upload", err))
				return
			}
			mediaID, err = pc.UploadMedia(ctx, subjectID, data, mimeType)
			if err != nil {
				span.RecordError(err)
				respondError(c, faults.AtStage("upload", err))
				return
			}
		}

		postID, err := pc.PublishPost(ctx, subjectID, req.Caption, mediaID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			respondError(c, faults.AtStage("publish", err))
			return
		}

		cred, err := creds.Get(ctx, subjectID)
		if err != nil {
			respondError(c, err)
			return
		}

		url := platform.PostURL(cred.Handle, postID)
		slog.Info("Manual post published", "subject_id", subjectID, "post_url", url)
		c.JSON(http.StatusOK, datatypes.PostResponse{PostURL: url})
	}
}

// VoiceGenerate writes a post in the subject's own voice, optionally
// publishing it.
func VoiceGenerate(runner PipelineRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "VoiceGenerate")
		defer span.End()

		var req datatypes.VoiceRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
			return
		}

		subjectID := middleware.GetSubjectID(c)
		text, postURL, err := runner.RunVoiceClone(ctx, subjectID, req.TrendName, req.Publish)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, datatypes.VoiceResponse{Text: text, PostURL: postURL})
	}
}
