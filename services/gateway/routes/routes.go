// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/trendavatar/pkg/config"
	"github.com/AleutianAI/trendavatar/services/gateway/handlers"
	"github.com/AleutianAI/trendavatar/services/gateway/middleware"
	"github.com/AleutianAI/trendavatar/services/gateway/session"
	"github.com/AleutianAI/trendavatar/services/oracle"
	"github.com/AleutianAI/trendavatar/services/ratelimit"
)

// Deps bundles everything the route tree needs.
type Deps struct {
	Platform PlatformDeps
	Oracle   oracle.Oracle
	Runner   handlers.PipelineRunner
	Creds    handlers.CredentialStore
	Sessions *session.Store
	Governor *ratelimit.Governor
	Limits   config.Limits
}

// PlatformDeps is an alias kept narrow so tests can swap the client.
type PlatformDeps = handlers.PlatformGateway

// SetupRoutes registers the full route tree.
func SetupRoutes(router *gin.Engine, d Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := router.Group("/auth")
	{
		auth.GET("/login", handlers.Login(d.Platform))
		auth.GET("/callback", handlers.Callback(d.Platform, d.Creds, d.Sessions))
		auth.POST("/logout",
			middleware.SessionMiddleware(d.Sessions),
			handlers.Logout(d.Platform, d.Creds, d.Sessions),
		)
	}

	v1 := router.Group("/v1")
	v1.Use(
		middleware.SessionMiddleware(d.Sessions),
		middleware.RateLimitMiddleware(d.Governor, d.Limits.GatewayLimit, d.Limits.GatewayWindow),
	)
	{
		v1.GET("/trends", handlers.ListTrends(d.Platform))
		v1.GET("/timeline", handlers.ListTimeline(d.Platform))
		v1.POST("/trends/:trendId/analyze", handlers.AnalyzeTrend(d.Platform, d.Oracle))
		v1.POST("/trends/:trendId/process", handlers.ProcessTrend(d.Platform, d.Oracle, d.Creds))
		v1.POST("/trends/:trendId/auto", handlers.AutoTrend(d.Runner))
		v1.POST("/post", handlers.PublishPost(d.Platform, d.Creds))
		v1.POST("/voice/generate", handlers.VoiceGenerate(d.Runner))
	}
}
