// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the gateway.
//
// # Authentication Flow
//
// The session middleware extracts a bearer token from the
// Authorization header, resolves it to a subject ID via the session
// store, and places the subject ID in the Gin context for downstream
// handlers. A token that does not resolve gets a 401 with code
// "reauth_required": the client must run the OAuth login again.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/trendavatar/services/gateway/datatypes"
	"github.com/AleutianAI/trendavatar/services/gateway/session"
	"github.com/AleutianAI/trendavatar/services/observability"
	"github.com/AleutianAI/trendavatar/services/ratelimit"
)

// subjectKey is the context key for the authenticated subject ID.
const subjectKey = "trendavatar_subject_id"

// SetSubjectID stores the authenticated subject in the Gin context.
func SetSubjectID(c *gin.Context, subjectID string) {
	c.Set(subjectKey, subjectID)
}

// GetSubjectID retrieves the authenticated subject, or "" when the
// request is unauthenticated.
func GetSubjectID(c *gin.Context) string {
	if v, exists := c.Get(subjectKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// SessionMiddleware authenticates requests against the session store.
func SessionMiddleware(sessions *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.ErrorResponse{
				Error: "missing bearer token",
				Code:  "reauth_required",
			})
			return
		}

		subjectID, ok := sessions.Resolve(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.ErrorResponse{
				Error: "session expired or revoked",
				Code:  "reauth_required",
			})
			return
		}

		SetSubjectID(c, subjectID)
		c.Next()
	}
}

// RateLimitMiddleware refuses requests over the per-client gateway
// quota. Authenticated requests are keyed by subject, anonymous ones
// by client IP.
func RateLimitMiddleware(gov *ratelimit.Governor, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := GetSubjectID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !gov.Allow("gw:"+key, limit, window) {
			observability.DefaultMetrics.RecordGovernorRejection("gateway")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, datatypes.ErrorResponse{
				Error: "too many requests",
				Code:  "rate_limited",
			})
			return
		}
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". The
// scheme is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
