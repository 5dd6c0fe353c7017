// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gateway's HTTP endpoints.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/trendavatar/services/faults"
	"github.com/AleutianAI/trendavatar/services/gateway/datatypes"
	"github.com/AleutianAI/trendavatar/services/pipeline"
	"github.com/AleutianAI/trendavatar/services/platform"
	"github.com/AleutianAI/trendavatar/services/tokenstore"
)

var tracer = otel.Tracer("trendavatar.gateway.handlers")

// PlatformGateway is the platform-client surface the handlers use.
type PlatformGateway interface {
	BeginLogin() (authURL, state string, err error)
	ExchangeAuthCode(ctx context.Context, state, code string) (tokenstore.Credential, platform.Profile, error)
	GetTrends(ctx context.Context, subjectID string) ([]platform.Trend, error)
	GetTimeline(ctx context.Context, subjectID string) ([]platform.Post, error)
	SearchMedia(ctx context.Context, subjectID string, trend platform.Trend) ([]platform.MediaCandidate, error)
	FetchImage(ctx context.Context, mediaURL string) ([]byte, string, error)
	UploadMedia(ctx context.Context, subjectID string, data []byte, mimeType string) (string, error)
	PublishPost(ctx context.Context, subjectID, text, mediaID string) (string, error)
	InvalidateSubject(subjectID string)
}

// CredentialStore is the token-store surface the handlers use.
type CredentialStore interface {
	Get(ctx context.Context, subjectID string) (tokenstore.Credential, error)
	Put(ctx context.Context, cred tokenstore.Credential) error
	Delete(ctx context.Context, subjectID string) error
}

// PipelineRunner is the orchestrator surface the handlers use.
type PipelineRunner interface {
	RunTrend(ctx context.Context, subjectID, trendID string) (pipeline.Result, error)
	RunVoiceClone(ctx context.Context, subjectID, trendName string, publish bool) (text, postURL string, err error)
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps the failure taxonomy to HTTP statuses.
func respondError(c *gin.Context, err error) {
	resp := datatypes.ErrorResponse{Error: err.Error(), Stage: faults.Stage(err)}
	switch {
	case errors.Is(err, faults.ErrUnauthenticated):
		resp.Code = "reauth_required"
		c.JSON(http.StatusUnauthorized, resp)
	case errors.Is(err, faults.ErrRateLimited):
		resp.Code = "rate_limited"
		c.JSON(http.StatusTooManyRequests, resp)
	case errors.Is(err, faults.ErrNotFound):
		resp.Code = "not_found"
		c.JSON(http.StatusNotFound, resp)
	case errors.Is(err, faults.ErrUpstreamUnavailable), errors.Is(err, faults.ErrInvalidResponse):
		resp.Code = "upstream"
		c.JSON(http.StatusBadGateway, resp)
	default:
		c.JSON(http.StatusInternalServerError, resp)
	}
}
