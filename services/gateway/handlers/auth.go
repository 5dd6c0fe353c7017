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

	"github.com/AleutianAI/trendavatar/services/gateway/datatypes"
	"github.com/AleutianAI/trendavatar/services/gateway/middleware"
	"github.com/AleutianAI/trendavatar/services/gateway/session"
)

// Login starts the OAuth PKCE flow and returns the authorization URL.
func Login(pc PlatformGateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		authURL, state, err := pc.BeginLogin()
		if err != nil {
			slog.Error("Failed to begin login", "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "could not start login"})
			return
		}
		c.JSON(http.StatusOK, datatypes.LoginResponse{AuthURL: authURL, State: state})
	}
}

// Callback completes the OAuth flow: exchanges the code, persists the
// credential, and issues a session token.
func Callback(pc PlatformGateway, creds CredentialStore, sessions *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "AuthCallback")
		defer span.End()

		state := c.Query("state")
		code := c.Query("code")
		if state == "" || code == "" {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "missing state or code"})
			return
		}

		cred, profile, err := pc.ExchangeAuthCode(ctx, state, code)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("OAuth exchange failed", "error", err)
			respondError(c, err)
			return
		}

		if err := creds.Put(ctx, cred); err != nil {
			span.RecordError(err)
			slog.Error("Failed to persist credential", "subject_id", cred.SubjectID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "could not store credential"})
			return
		}

		token := sessions.Issue(cred.SubjectID)
		slog.Info("Subject logged in", "subject_id", cred.SubjectID, "handle", profile.Username)
		c.JSON(http.StatusOK, datatypes.CallbackResponse{
			SessionToken: token,
			SubjectID:    cred.SubjectID,
			Handle:       profile.Username,
			AvatarURL:    profile.AvatarURL,
		})
	}
}

// Logout revokes the caller's sessions, deletes the stored credential,
// and drops cached platform responses.
func Logout(pc PlatformGateway, creds CredentialStore, sessions *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectID := middleware.GetSubjectID(c)

		sessions.RevokeSubject(subjectID)
		pc.InvalidateSubject(subjectID)
		if err := creds.Delete(c.Request.Context(), subjectID); err != nil {
			slog.Error("Failed to delete credential", "subject_id", subjectID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "could not delete credential"})
			return
		}

		slog.Info("Subject logged out", "subject_id", subjectID)
		c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
	}
}
